package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HotspotSync/app/models"
)

func TestClaimReportsLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncFailureRepository(db)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `sync_failures` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `sync_failures` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), 11, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(context.Background(), 11, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRequiresExpectedStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncFailureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `sync_failures` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	f := &models.SyncFailure{ID: 3, Status: models.SyncFailureResolved}
	err := repo.Transition(context.Background(), f, models.SyncFailureRetrying)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFindOpenReturnsNilWhenAbsent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncFailureRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `sync_failures` WHERE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	f, err := repo.FindOpen(context.Background(), models.EntitySubscriber, 5, models.SyncKindUser)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestPurgeTerminalReturnsCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncFailureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `sync_failures` WHERE")).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.PurgeTerminal(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}
