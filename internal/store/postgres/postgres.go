package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// rowLockTimeout bounds how long AppendMovement waits on another
// transaction's account row lock.
const rowLockTimeout = "3s"

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) CreateIngredient(ctx context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error) {
	if ingredient.ID == "" {
		ingredient.ID = xid.New("ing")
	}
	if ingredient.CreatedAt.IsZero() {
		ingredient.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (id, name, base_uom, par_level, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, ingredient.ID, ingredient.Name, ingredient.BaseUOM, ingredient.ParLevel, ingredient.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := ingredient
	return &saved, nil
}

func (s *Store) GetIngredient(ctx context.Context, ingredientID string) (*domain.Ingredient, error) {
	var ing domain.Ingredient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_uom, par_level, created_at
		FROM ingredients
		WHERE id = $1
	`, ingredientID).Scan(&ing.ID, &ing.Name, &ing.BaseUOM, &ing.ParLevel, &ing.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ing.CreatedAt = ing.CreatedAt.UTC()
	return &ing, nil
}

func (s *Store) ListIngredients(ctx context.Context) ([]domain.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_uom, par_level, created_at
		FROM ingredients
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Ingredient, 0, 64)
	for rows.Next() {
		var ing domain.Ingredient
		if err := rows.Scan(&ing.ID, &ing.Name, &ing.BaseUOM, &ing.ParLevel, &ing.CreatedAt); err != nil {
			return nil, err
		}
		ing.CreatedAt = ing.CreatedAt.UTC()
		result = append(result, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetAccount(ctx context.Context, ingredientID string) (*domain.IngredientAccount, error) {
	var account domain.IngredientAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT ingredient_id, current_stock, avg_cost, version, updated_at
		FROM ingredient_accounts
		WHERE ingredient_id = $1 AND version > 0
	`, ingredientID).Scan(&account.IngredientID, &account.CurrentStock, &account.AvgCost, &account.Version, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.UpdatedAt = account.UpdatedAt.UTC()
	return &account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.IngredientAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingredient_id, current_stock, avg_cost, version, updated_at
		FROM ingredient_accounts
		WHERE version > 0
		ORDER BY ingredient_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.IngredientAccount, 0, 64)
	for rows.Next() {
		var account domain.IngredientAccount
		if err := rows.Scan(&account.IngredientID, &account.CurrentStock, &account.AvgCost, &account.Version, &account.UpdatedAt); err != nil {
			return nil, err
		}
		account.UpdatedAt = account.UpdatedAt.UTC()
		result = append(result, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AppendMovement locks the account row, checks its version, inserts the
// ledger entry and writes the new projection in one transaction.
func (s *Store) AppendMovement(ctx context.Context, draft domain.LedgerEntryDraft, next domain.IngredientAccount, expectedVersion int64) (*domain.LedgerEntry, *domain.IngredientAccount, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '`+rowLockTimeout+`'`); err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingredient_accounts (ingredient_id, current_stock, avg_cost, version, updated_at)
		VALUES ($1, 0, 0, 0, now())
		ON CONFLICT (ingredient_id) DO NOTHING
	`, draft.IngredientID)
	if err != nil {
		return nil, nil, s.movementError(err, draft.IngredientID)
	}

	var version int64
	err = tx.QueryRowContext(ctx, `
		SELECT version
		FROM ingredient_accounts
		WHERE ingredient_id = $1
		FOR UPDATE
	`, draft.IngredientID).Scan(&version)
	if err != nil {
		return nil, nil, s.movementError(err, draft.IngredientID)
	}
	if version != expectedVersion {
		return nil, nil, fmt.Errorf("%w: ingredient %s is at version %d, expected %d",
			store.ErrConcurrentModification, draft.IngredientID, version, expectedVersion)
	}
	if draft.RefType == domain.RefTypePurchaseOrder {
		if err := checkReceivable(ctx, tx, draft); err != nil {
			return nil, nil, err
		}
	}

	now := time.Now().UTC()
	entry := domain.LedgerEntry{
		ID:           xid.New("led"),
		IngredientID: draft.IngredientID,
		DeltaQty:     draft.DeltaQty,
		UOM:          draft.UOM,
		Reason:       draft.Reason,
		UnitCost:     draft.UnitCost,
		RefType:      draft.RefType,
		RefID:        draft.RefID,
		RefLineID:    draft.RefLineID,
		Note:         draft.Note,
		OccurredAt:   draft.OccurredAt,
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO stock_ledger (
			id, ingredient_id, delta_qty, uom, reason, unit_cost,
			ref_type, ref_id, ref_line_id, note, occurred_at, recorded_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq, recorded_at
	`, entry.ID, entry.IngredientID, entry.DeltaQty, entry.UOM, entry.Reason, entry.UnitCost,
		entry.RefType, entry.RefID, nullIfEmpty(entry.RefLineID), nullIfEmpty(entry.Note), entry.OccurredAt, now,
	).Scan(&entry.Seq, &entry.RecordedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: %s/%s/%s", store.ErrDuplicateMovement, entry.RefType, entry.RefID, entry.RefLineID)
		}
		return nil, nil, s.movementError(err, draft.IngredientID)
	}
	entry.RecordedAt = entry.RecordedAt.UTC()

	next.IngredientID = draft.IngredientID
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		UPDATE ingredient_accounts
		SET current_stock = $2, avg_cost = $3, version = $4, updated_at = $5
		WHERE ingredient_id = $1
	`, next.IngredientID, next.CurrentStock, next.AvgCost, next.Version, next.UpdatedAt)
	if err != nil {
		return nil, nil, s.movementError(err, draft.IngredientID)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, s.movementError(err, draft.IngredientID)
	}
	return &entry, &next, nil
}

// checkReceivable share-locks the referenced order so that a delete or cancel
// running in another transaction waits for this receipt, then sees it.
func checkReceivable(ctx context.Context, tx *sql.Tx, draft domain.LedgerEntryDraft) error {
	var status string
	err := tx.QueryRowContext(ctx, `
		SELECT status
		FROM purchase_orders
		WHERE id = $1
		FOR SHARE
	`, draft.RefID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("purchase order %s: %w", draft.RefID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if status == domain.StatusIssued {
		return nil
	}
	if draft.RefLineID != "" {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT id
			FROM stock_ledger
			WHERE ref_type = $1 AND ref_id = $2 AND ref_line_id = $3
		`, draft.RefType, draft.RefID, draft.RefLineID).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: %s", store.ErrDuplicateMovement, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return &domain.InvalidStateError{PurchaseOrderID: draft.RefID, Status: status, Operation: "received"}
}

func (s *Store) movementError(err error, ingredientID string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503":
		return store.ErrNotFound
	case "23514":
		return &domain.InvariantViolation{IngredientID: ingredientID}
	case "55P03":
		return &domain.LockTimeoutError{IngredientID: ingredientID}
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConcurrentModification, pgErr.Message)
	}
	return err
}

const ledgerColumns = `seq, id, ingredient_id, delta_qty, uom, reason, unit_cost,
	ref_type, ref_id, COALESCE(ref_line_id, ''), COALESCE(note, ''), occurred_at, recorded_at`

func scanLedger(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()
	result := make([]domain.LedgerEntry, 0, 16)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.Seq, &e.ID, &e.IngredientID, &e.DeltaQty, &e.UOM, &e.Reason, &e.UnitCost,
			&e.RefType, &e.RefID, &e.RefLineID, &e.Note, &e.OccurredAt, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListLedgerByRef(ctx context.Context, refType string, refID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM stock_ledger
		WHERE ref_type = $1 AND ref_id = $2
		ORDER BY seq ASC
	`, refType, refID)
	if err != nil {
		return nil, err
	}
	return scanLedger(rows)
}

func (s *Store) ListLedgerByIngredient(ctx context.Context, ingredientID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM stock_ledger
		WHERE seq IN (
			SELECT seq
			FROM stock_ledger
			WHERE ingredient_id = $1
			ORDER BY occurred_at DESC, seq DESC
			LIMIT $2
		)
		ORDER BY occurred_at, seq
	`, ingredientID, nullIfZero(limit))
	if err != nil {
		return nil, err
	}
	return scanLedger(rows)
}

func (s *Store) SumLedger(ctx context.Context, ingredientID string, until time.Time) (int64, int, error) {
	var sum int64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta_qty), 0), COUNT(*)
		FROM stock_ledger
		WHERE ingredient_id = $1 AND ($2::timestamptz IS NULL OR occurred_at <= $2)
	`, ingredientID, nullTime(until)).Scan(&sum, &count)
	if err != nil {
		return 0, 0, err
	}
	return sum, count, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, COALESCE(detail, ''), created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, nullIfZero(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.NewValidationError("username", user.Username, "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(val int) any {
	if val <= 0 {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}
