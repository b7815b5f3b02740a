// Package valuation computes the next stock and weighted-average cost of an
// ingredient account. It performs no I/O.
package valuation

import (
	"github.com/shopspring/decimal"

	"dapurpos/backend/internal/domain"
)

type State struct {
	Stock   int64
	AvgCost int64
}

type Movement struct {
	DeltaQty int64
	UnitCost int64
}

// ComputeNext applies m to current.
//
// Outflows (DeltaQty <= 0) are valued at the current average so they never
// move it. When the resulting stock is zero the average is kept as is.
// Otherwise the new average is round((stock*avg + delta*unitCost) / nextStock),
// rounding half away from zero. A movement that would take stock below zero
// returns *domain.InvariantViolation.
func ComputeNext(current State, m Movement) (State, error) {
	if current.Stock < 0 {
		return current, domain.NewValidationError("stock", "", "must not be negative")
	}
	if current.AvgCost < 0 {
		return current, domain.NewValidationError("avg_cost", "", "must not be negative")
	}
	if m.UnitCost < 0 {
		return current, domain.NewValidationError("unit_cost", "", "must not be negative")
	}

	nextStock := current.Stock + m.DeltaQty
	if nextStock < 0 {
		return current, &domain.InvariantViolation{Stock: current.Stock, DeltaQty: m.DeltaQty}
	}

	unitCost := m.UnitCost
	if m.DeltaQty <= 0 {
		unitCost = current.AvgCost
	}

	if nextStock == 0 {
		return State{Stock: 0, AvgCost: current.AvgCost}, nil
	}

	held := decimal.NewFromInt(current.Stock).Mul(decimal.NewFromInt(current.AvgCost))
	incoming := decimal.NewFromInt(m.DeltaQty).Mul(decimal.NewFromInt(unitCost))
	avg := held.Add(incoming).DivRound(decimal.NewFromInt(nextStock), 0)

	return State{Stock: nextStock, AvgCost: avg.IntPart()}, nil
}

// Value is stock*avgCost, the book value of an account.
func Value(s State) int64 {
	return decimal.NewFromInt(s.Stock).Mul(decimal.NewFromInt(s.AvgCost)).IntPart()
}
