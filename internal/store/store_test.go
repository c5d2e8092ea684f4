package store

import (
	"context"
	"database/sql"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/crossrail/internal/domain"
	"github.com/arcsign/crossrail/internal/errs"
)

func sqlErrNoRows() error { return sql.ErrNoRows }

func fixedTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestCreateEarmarkInsertsEarmarkOperationsAndAudit(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO earmarks")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rebalance_operations")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO earmark_audit_log")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := &domain.Earmark{
		ID:            "earmark-1",
		InvoiceID:     "invoice-1",
		PurchaseChain: 10,
		Ticker:        "usdc",
		MinAmount:     big.NewInt(1_000_000),
		Status:        domain.EarmarkInitiating,
	}
	op := &domain.RebalanceOperation{
		OriginChain:      1,
		DestinationChain: 10,
		Ticker:           "usdc",
		Amount:           big.NewInt(1_000_000),
		Status:           domain.OperationPending,
		Legs:             map[int]domain.LegInfo{},
	}

	err := s.CreateEarmark(context.Background(), e, []*domain.RebalanceOperation{op})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NotEmpty(t, op.ID, "CreateEarmark should assign an id to operations missing one")
}

func TestUpdateEarmarkStatusRollsBackOnMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM earmarks")).
		WillReturnError(sqlErrNoRows())
	mock.ExpectRollback()

	err := s.UpdateEarmarkStatus(context.Background(), "missing", domain.EarmarkReady, nil)
	require.Error(t, err)
	var storeErr *errs.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, errs.StoreNotFound, storeErr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRebalanceOperationsScansAmountAndLegs(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "earmark_id", "origin_chain_id", "destination_chain_id", "ticker_hash",
		"amount", "slippage", "bridge", "tx_hashes", "status", "is_orphaned", "created_at", "updated_at",
	}).AddRow(
		"op-1", "earmark-1", 1, 10, "usdc",
		"1000000", int64(50), "liquidity", []byte(`{"1":"0xabc"}`), "pending", false, fixedTime(), fixedTime(),
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(rows)

	ops, err := s.GetRebalanceOperations(context.Background(), []domain.OperationStatus{domain.OperationPending})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, big.NewInt(1_000_000), ops[0].Amount)
	require.Equal(t, "0xabc", ops[0].Legs[1].Hash)
	require.NoError(t, mock.ExpectationsWereMet())
}
