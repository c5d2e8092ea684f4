// Package store implements C6: the relational State Store backing
// earmarks, rebalance operations, and their audit trail. It is grounded
// on the teacher's storage.TransactionStateStore contract style (a narrow,
// thread-safe interface over persistent state, every method documented
// with an explicit Contract) widened from a single key-value table into
// the full earmark/operation/audit schema §4.6 and §6 specify, and on the
// pack's chapool-go-wallet rebalance service for the database/sql +
// explicit-transaction wiring pattern.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arcsign/crossrail/internal/domain"
	"github.com/arcsign/crossrail/internal/errs"
)

// Store is the full §4.6 contract. Implementations MUST run every mutating
// call inside a transaction that also writes an audit-log row for the
// affected earmark; an operation with no parent earmark is written without
// an audit row.
type Store interface {
	CreateEarmark(ctx context.Context, e *domain.Earmark, initialOps []*domain.RebalanceOperation) error
	UpdateEarmarkStatus(ctx context.Context, earmarkID string, status domain.EarmarkStatus, details map[string]interface{}) error
	RemoveEarmark(ctx context.Context, earmarkID string) error

	CreateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error
	UpdateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error

	GetRebalanceOperations(ctx context.Context, statuses []domain.OperationStatus) ([]*domain.RebalanceOperation, error)
	GetRebalanceOperationByTransactionHash(ctx context.Context, hash string, originChain int) (*domain.RebalanceOperation, error)
	GetActiveEarmarksForChain(ctx context.Context, chain int) ([]*domain.Earmark, error)
	GetEarmarkForInvoice(ctx context.Context, invoiceID string) (*domain.Earmark, error)
	GetRebalanceOperationsByEarmark(ctx context.Context, earmarkID string) ([]*domain.RebalanceOperation, error)
}

// PostgresStore is the production Store backed by lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to Postgres and returns a ready PostgresStore. Schema
// management (migrations) is assumed to run separately; Open does not
// create tables.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func classifyPqError(err error, query string) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return &errs.StoreError{Kind: errs.StoreNotFound, Query: query, Cause: err}
	}
	// lib/pq surfaces unique-violation as SQLSTATE 23505; without importing
	// pq.Error directly into every call site we match on the error text the
	// driver formats it with, the same string-classification approach the
	// EVM client uses for submit failures.
	msg := err.Error()
	if containsAny(msg, "unique_violation", "23505", "duplicate key value") {
		return &errs.StoreError{Kind: errs.StoreUniqueViolation, Query: query, Cause: err}
	}
	if containsAny(msg, "connection refused", "connection reset", "driver: bad connection") {
		return &errs.StoreError{Kind: errs.StoreConnection, Query: query, Cause: err}
	}
	if containsAny(msg, "violates check constraint", "violates foreign key constraint") {
		return &errs.StoreError{Kind: errs.StoreConstraint, Query: query, Cause: err}
	}
	return &errs.StoreError{Kind: errs.StoreConstraint, Query: query, Cause: err}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// writeAudit inserts one earmark_audit_log row within tx (§4.6: "each
// mutating operation ... runs inside a transaction that also writes an
// audit-log row describing the transition").
func writeAudit(ctx context.Context, tx *sql.Tx, earmarkID, operation, previousStatus, newStatus string, details map[string]interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("store: marshal audit details: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO earmark_audit_log (earmark_id, operation, previous_status, new_status, details, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, now())`,
		earmarkID, operation, previousStatus, newStatus, detailsJSON)
	if err != nil {
		return classifyPqError(err, "writeAudit")
	}
	return nil
}

// CreateEarmark atomically inserts the earmark and any initial operations,
// then writes the audit row, all within one transaction (§4.6).
func (s *PostgresStore) CreateEarmark(ctx context.Context, e *domain.Earmark, initialOps []*domain.RebalanceOperation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPqError(err, "CreateEarmark.begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO earmarks (id, invoice_id, designated_purchase_chain, ticker_hash, min_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		e.ID, e.InvoiceID, e.PurchaseChain, e.Ticker, e.MinAmount.String(), string(e.Status))
	if err != nil {
		return classifyPqError(err, "CreateEarmark.insertEarmark")
	}

	for _, op := range initialOps {
		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		op.EarmarkID = e.ID
		if err := insertOperation(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := writeAudit(ctx, tx, e.ID, "createEarmark", "", string(e.Status), map[string]interface{}{"invoiceId": e.InvoiceID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyPqError(err, "CreateEarmark.commit")
	}
	return nil
}

func insertOperation(ctx context.Context, tx *sql.Tx, op *domain.RebalanceOperation) error {
	txHashes := make(map[string]interface{}, len(op.Legs))
	for chain, leg := range op.Legs {
		txHashes[fmt.Sprintf("%d", chain)] = leg.Hash
	}
	txHashesJSON, err := json.Marshal(txHashes)
	if err != nil {
		return fmt.Errorf("store: marshal txHashes: %w", err)
	}

	var earmarkID sql.NullString
	if op.EarmarkID != "" {
		earmarkID = sql.NullString{String: op.EarmarkID, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rebalance_operations
		   (id, earmark_id, origin_chain_id, destination_chain_id, ticker_hash, amount, slippage, bridge, tx_hashes, status, is_orphaned, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
		op.ID, earmarkID, op.OriginChain, op.DestinationChain, op.Ticker, op.Amount.String(), op.SlippageDbps, op.BridgeKind, txHashesJSON, string(op.Status), op.IsOrphaned)
	return classifyPqError(err, "insertOperation")
}

// UpdateEarmarkStatus transitions an earmark's status and writes the audit
// row in one transaction.
func (s *PostgresStore) UpdateEarmarkStatus(ctx context.Context, earmarkID string, status domain.EarmarkStatus, details map[string]interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPqError(err, "UpdateEarmarkStatus.begin")
	}
	defer tx.Rollback()

	var previous string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM earmarks WHERE id = $1 FOR UPDATE`, earmarkID).Scan(&previous); err != nil {
		return classifyPqError(err, "UpdateEarmarkStatus.select")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE earmarks SET status = $1, updated_at = now() WHERE id = $2`, string(status), earmarkID); err != nil {
		return classifyPqError(err, "UpdateEarmarkStatus.update")
	}
	if err := writeAudit(ctx, tx, earmarkID, "updateEarmarkStatus", previous, string(status), details); err != nil {
		return err
	}
	return classifyPqError(tx.Commit(), "UpdateEarmarkStatus.commit")
}

// RemoveEarmark deletes the earmark row; operations cascade per the FK and
// are marked orphaned by this method, in the same transaction, before
// deletion if they are still in-flight (§3 "isOrphaned is set if the parent earmark is removed while
// the op is still in-flight").
func (s *PostgresStore) RemoveEarmark(ctx context.Context, earmarkID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPqError(err, "RemoveEarmark.begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE rebalance_operations SET is_orphaned = true, updated_at = now() WHERE earmark_id = $1 AND status NOT IN ('completed','expired','cancelled')`, earmarkID); err != nil {
		return classifyPqError(err, "RemoveEarmark.orphan")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM earmarks WHERE id = $1`, earmarkID); err != nil {
		return classifyPqError(err, "RemoveEarmark.delete")
	}
	if err := writeAudit(ctx, tx, earmarkID, "removeEarmark", "", "", nil); err != nil {
		return err
	}
	return classifyPqError(tx.Commit(), "RemoveEarmark.commit")
}

func (s *PostgresStore) CreateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPqError(err, "CreateRebalanceOperation.begin")
	}
	defer tx.Rollback()

	if err := insertOperation(ctx, tx, op); err != nil {
		return err
	}
	if op.EarmarkID != "" {
		if err := writeAudit(ctx, tx, op.EarmarkID, "createRebalanceOperation", "", string(op.Status), map[string]interface{}{"operationId": op.ID}); err != nil {
			return err
		}
	}
	return classifyPqError(tx.Commit(), "CreateRebalanceOperation.commit")
}

func (s *PostgresStore) UpdateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPqError(err, "UpdateRebalanceOperation.begin")
	}
	defer tx.Rollback()

	var previous string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM rebalance_operations WHERE id = $1 FOR UPDATE`, op.ID).Scan(&previous); err != nil {
		return classifyPqError(err, "UpdateRebalanceOperation.select")
	}

	txHashes := make(map[string]interface{}, len(op.Legs))
	for chain, leg := range op.Legs {
		txHashes[fmt.Sprintf("%d", chain)] = leg.Hash
	}
	txHashesJSON, err := json.Marshal(txHashes)
	if err != nil {
		return fmt.Errorf("store: marshal txHashes: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE rebalance_operations SET status = $1, tx_hashes = $2, is_orphaned = $3, updated_at = now() WHERE id = $4`,
		string(op.Status), txHashesJSON, op.IsOrphaned, op.ID); err != nil {
		return classifyPqError(err, "UpdateRebalanceOperation.update")
	}

	if op.EarmarkID != "" {
		if err := writeAudit(ctx, tx, op.EarmarkID, "updateRebalanceOperation", previous, string(op.Status), map[string]interface{}{"operationId": op.ID}); err != nil {
			return err
		}
	}
	return classifyPqError(tx.Commit(), "UpdateRebalanceOperation.commit")
}

func scanOperation(row interface {
	Scan(dest ...interface{}) error
}) (*domain.RebalanceOperation, error) {
	var (
		op             domain.RebalanceOperation
		earmarkID      sql.NullString
		amountStr      string
		txHashesJSON   []byte
		status         string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&op.ID, &earmarkID, &op.OriginChain, &op.DestinationChain, &op.Ticker, &amountStr, &op.SlippageDbps, &op.BridgeKind, &txHashesJSON, &status, &op.IsOrphaned, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	op.EarmarkID = earmarkID.String
	op.Status = domain.OperationStatus(status)
	op.CreatedAt, op.UpdatedAt = createdAt, updatedAt

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, fmt.Errorf("store: malformed amount %q for operation %s", amountStr, op.ID)
	}
	op.Amount = amount

	var rawHashes map[string]string
	if len(txHashesJSON) > 0 {
		if err := json.Unmarshal(txHashesJSON, &rawHashes); err != nil {
			return nil, fmt.Errorf("store: unmarshal txHashes for operation %s: %w", op.ID, err)
		}
	}
	op.Legs = make(map[int]domain.LegInfo, len(rawHashes))
	for chainStr, hash := range rawHashes {
		var chain int
		fmt.Sscanf(chainStr, "%d", &chain)
		op.Legs[chain] = domain.LegInfo{Hash: hash}
	}
	return &op, nil
}

const operationColumns = `id, earmark_id, origin_chain_id, destination_chain_id, ticker_hash, amount, slippage, bridge, tx_hashes, status, is_orphaned, created_at, updated_at`

func (s *PostgresStore) GetRebalanceOperations(ctx context.Context, statuses []domain.OperationStatus) ([]*domain.RebalanceOperation, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+operationColumns+` FROM rebalance_operations WHERE status = ANY($1)`, pq.Array(strs))
	if err != nil {
		return nil, classifyPqError(err, "GetRebalanceOperations")
	}
	defer rows.Close()

	var out []*domain.RebalanceOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rebalance operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRebalanceOperationByTransactionHash(ctx context.Context, hash string, originChain int) (*domain.RebalanceOperation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM rebalance_operations
		 WHERE origin_chain_id = $1 AND tx_hashes ->> $2 = $3`,
		originChain, fmt.Sprintf("%d", originChain), hash)
	op, err := scanOperation(row)
	if err != nil {
		return nil, classifyPqError(err, "GetRebalanceOperationByTransactionHash")
	}
	return op, nil
}

func (s *PostgresStore) GetRebalanceOperationsByEarmark(ctx context.Context, earmarkID string) ([]*domain.RebalanceOperation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operationColumns+` FROM rebalance_operations WHERE earmark_id = $1`, earmarkID)
	if err != nil {
		return nil, classifyPqError(err, "GetRebalanceOperationsByEarmark")
	}
	defer rows.Close()

	var out []*domain.RebalanceOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rebalance operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

const earmarkColumns = `id, invoice_id, designated_purchase_chain, ticker_hash, min_amount, status, created_at, updated_at`

func scanEarmark(row interface{ Scan(dest ...interface{}) error }) (*domain.Earmark, error) {
	var (
		e                    domain.Earmark
		minAmountStr, status string
	)
	if err := row.Scan(&e.ID, &e.InvoiceID, &e.PurchaseChain, &e.Ticker, &minAmountStr, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = domain.EarmarkStatus(status)
	min, ok := new(big.Int).SetString(minAmountStr, 10)
	if !ok {
		return nil, fmt.Errorf("store: malformed minAmount %q for earmark %s", minAmountStr, e.ID)
	}
	e.MinAmount = min
	return &e, nil
}

func (s *PostgresStore) GetActiveEarmarksForChain(ctx context.Context, chain int) ([]*domain.Earmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+earmarkColumns+` FROM earmarks WHERE designated_purchase_chain = $1 AND status IN ('initiating','pending','ready')`, chain)
	if err != nil {
		return nil, classifyPqError(err, "GetActiveEarmarksForChain")
	}
	defer rows.Close()

	var out []*domain.Earmark
	for rows.Next() {
		e, err := scanEarmark(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan earmark: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetEarmarkForInvoice(ctx context.Context, invoiceID string) (*domain.Earmark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+earmarkColumns+` FROM earmarks WHERE invoice_id = $1 AND status IN ('initiating','pending','ready') LIMIT 1`, invoiceID)
	e, err := scanEarmark(row)
	if err != nil {
		return nil, classifyPqError(err, "GetEarmarkForInvoice")
	}
	return e, nil
}

var _ Store = (*PostgresStore)(nil)
