package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerWithMock(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresLedger(db), mock
}

func TestPostgresLedger_BeginNewEvent(t *testing.T) {
	l, mock := newLedgerWithMock(t)
	mock.ExpectQuery(`(?s)INSERT INTO billing_events .* ON CONFLICT \(event_id\) DO UPDATE SET attempts = billing_events.attempts \+ 1 RETURNING status`).
		WithArgs("evt_1", "invoice.payment_succeeded").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

	done, err := l.Begin(context.Background(), "evt_1", "invoice.payment_succeeded")
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_BeginProcessedEvent(t *testing.T) {
	l, mock := newLedgerWithMock(t)
	mock.ExpectQuery(`INSERT INTO billing_events`).
		WithArgs("evt_1", "customer.subscription.updated").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processed"))

	done, err := l.Begin(context.Background(), "evt_1", "customer.subscription.updated")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPostgresLedger_BeginError(t *testing.T) {
	l, mock := newLedgerWithMock(t)
	mock.ExpectQuery(`INSERT INTO billing_events`).WillReturnError(errors.New("boom"))

	_, err := l.Begin(context.Background(), "evt_1", "x")
	assert.Error(t, err)
}

func TestPostgresLedger_Mark(t *testing.T) {
	l, mock := newLedgerWithMock(t)
	mock.ExpectExec(`UPDATE billing_events SET status = 'processed'`).
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE billing_events SET status = 'failed', last_error = \$2`).
		WithArgs("evt_2", "upstream unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE billing_events SET status = 'processed'`).
		WithArgs("evt_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, l.MarkProcessed(ctx, "evt_1"))
	require.NoError(t, l.MarkFailed(ctx, "evt_2", "upstream unavailable"))
	assert.ErrorIs(t, l.MarkProcessed(ctx, "evt_missing"), ErrEventNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryLedger_Lifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	done, err := l.Begin(ctx, "evt_1", "invoice.payment_succeeded")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, l.MarkFailed(ctx, "evt_1", "timeout"))
	e, _ := l.Entry("evt_1")
	assert.Equal(t, EventFailed, e.Status)
	assert.Equal(t, "timeout", e.LastError)

	done, err = l.Begin(ctx, "evt_1", "invoice.payment_succeeded")
	require.NoError(t, err)
	assert.False(t, done, "failed events are retried")

	require.NoError(t, l.MarkProcessed(ctx, "evt_1"))
	done, err = l.Begin(ctx, "evt_1", "invoice.payment_succeeded")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, l.MarkFailed(ctx, "evt_1", "late failure"))
	e, _ = l.Entry("evt_1")
	assert.Equal(t, EventProcessed, e.Status)
	assert.Equal(t, 3, e.Attempts)

	assert.ErrorIs(t, l.MarkProcessed(ctx, "nope"), ErrEventNotFound)
}
