package repository

import (
	"context"
	"errors"
	"testing"

	"leadgate_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return New(mock), mock
}

// A consumption whose first application drained the balance must stay an
// idempotent no-op on replay. The replay lookup has to answer before any
// balance is read; otherwise the replay would surface as an
// insufficient-balance error.
func TestConsumeCreditReplayShortCircuitsBeforeBalanceCheck(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenantID := uuid.New()
	deliveryID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(tenantID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(&deliveryID, EntryConsumption).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	// pgx.BeginFunc rolls back twice on error: once explicitly, once deferred.
	mock.ExpectRollback()
	mock.ExpectRollback()

	_, err := repo.ConsumeCredit(context.Background(), tenantID, 5, "lead handoff", &deliveryID)
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("err = %v, want ErrDuplicateEntry", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConsumeCreditRejectsInsufficientBalance(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenantID := uuid.New()
	deliveryID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(tenantID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(&deliveryID, EntryConsumption).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT balance_after").
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"balance_after"}).AddRow(int64(3)))
	// pgx.BeginFunc rolls back twice on error: once explicitly, once deferred.
	mock.ExpectRollback()
	mock.ExpectRollback()

	_, err := repo.ConsumeCredit(context.Background(), tenantID, 5, "lead handoff", &deliveryID)
	if !apperr.Is(err, apperr.KindInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
