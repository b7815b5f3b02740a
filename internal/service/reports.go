package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"dapurpos/backend/internal/cache"
	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/valuation"
)

const valuationSheet = "Valuation"

// ValuationReport values every ingredient at stock x average cost. Results
// are cached until the next movement.
func (s *Service) ValuationReport(ctx context.Context) (domain.ValuationReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ValuationReport{}, err
	}

	cached, ok, err := s.reportCache.Get(ctx, cache.ValuationKey)
	if err != nil {
		s.logger.WithError(err).Warn("valuation cache read failed")
	} else if ok {
		return *cached, nil
	}

	report, err := s.buildValuation(ctx)
	if err != nil {
		return domain.ValuationReport{}, err
	}
	if err := s.reportCache.Set(ctx, cache.ValuationKey, &report, s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("valuation cache write failed")
	}
	return report, nil
}

func (s *Service) buildValuation(ctx context.Context) (domain.ValuationReport, error) {
	ingredients, err := s.repo.ListIngredients(ctx)
	if err != nil {
		return domain.ValuationReport{}, err
	}
	accounts, err := s.coordinator.Accounts().List(ctx)
	if err != nil {
		return domain.ValuationReport{}, err
	}
	byID := make(map[string]domain.IngredientAccount, len(accounts))
	for _, account := range accounts {
		byID[account.IngredientID] = account
	}

	report := domain.ValuationReport{
		GeneratedAt: s.now(),
		Lines:       make([]domain.ValuationLine, 0, len(ingredients)),
	}
	for _, ing := range ingredients {
		account := byID[ing.ID]
		value := valuation.Value(valuation.State{Stock: account.CurrentStock, AvgCost: account.AvgCost})
		report.Lines = append(report.Lines, domain.ValuationLine{
			IngredientID: ing.ID,
			Name:         ing.Name,
			BaseUOM:      ing.BaseUOM,
			CurrentStock: account.CurrentStock,
			AvgCost:      account.AvgCost,
			Value:        value,
		})
		report.TotalValue += value
	}
	return report, nil
}

func (s *Service) invalidateValuation(ctx context.Context) {
	if err := s.reportCache.Invalidate(context.WithoutCancel(ctx), cache.ValuationKey); err != nil {
		s.logger.WithError(err).Warn("valuation cache invalidation failed")
	}
}

// ReorderSuggestions lists ingredients at or below their par level with the
// quantity needed to reach twice the par level.
func (s *Service) ReorderSuggestions(ctx context.Context) (domain.ReorderSuggestionResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}

	ingredients, err := s.repo.ListIngredients(ctx)
	if err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}
	accounts, err := s.coordinator.Accounts().List(ctx)
	if err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}
	byID := make(map[string]domain.IngredientAccount, len(accounts))
	for _, account := range accounts {
		byID[account.IngredientID] = account
	}

	suggestions := make([]domain.ReorderSuggestion, 0, 16)
	for _, ing := range ingredients {
		if ing.ParLevel < 1 {
			continue
		}
		account := byID[ing.ID]
		if account.CurrentStock > ing.ParLevel {
			continue
		}
		recommended := ing.ParLevel*2 - account.CurrentStock
		suggestions = append(suggestions, domain.ReorderSuggestion{
			IngredientID:   ing.ID,
			Name:           ing.Name,
			BaseUOM:        ing.BaseUOM,
			CurrentStock:   account.CurrentStock,
			ParLevel:       ing.ParLevel,
			RecommendedQty: recommended,
			AvgCost:        account.AvgCost,
			EstimatedCost:  recommended * account.AvgCost,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].CurrentStock == suggestions[j].CurrentStock {
			return suggestions[i].EstimatedCost > suggestions[j].EstimatedCost
		}
		return suggestions[i].CurrentStock < suggestions[j].CurrentStock
	})

	return domain.ReorderSuggestionResponse{
		GeneratedAt: s.now().Format(time.RFC3339),
		Suggestions: suggestions,
	}, nil
}

// ValuationWorkbook renders a valuation report as an xlsx file.
func ValuationWorkbook(report domain.ValuationReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", valuationSheet); err != nil {
		return nil, err
	}

	headings := []any{"Ingredient ID", "Name", "UOM", "Stock", "Avg Cost", "Value"}
	if err := f.SetSheetRow(valuationSheet, "A1", &headings); err != nil {
		return nil, err
	}
	for i, line := range report.Lines {
		row := []any{line.IngredientID, line.Name, line.BaseUOM, line.CurrentStock, line.AvgCost, line.Value}
		if err := f.SetSheetRow(valuationSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	totalRow := len(report.Lines) + 2
	if err := f.SetCellValue(valuationSheet, fmt.Sprintf("E%d", totalRow), "Total"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(valuationSheet, fmt.Sprintf("F%d", totalRow), report.TotalValue); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(valuationSheet, fmt.Sprintf("A%d", totalRow+1), "Generated "+report.GeneratedAt.UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
