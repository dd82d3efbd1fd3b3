package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HotspotSync/app/models"
)

func TestUsageSaveAdvancesVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `usage_records` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &models.UsageRecord{ID: 7, SubscriberID: 3, Version: 4, UsedToday: 100}
	require.NoError(t, repo.Save(context.Background(), rec))
	assert.Equal(t, 5, rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageSaveLostUpdateIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `usage_records` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &models.UsageRecord{ID: 7, Version: 4}
	err := repo.Save(context.Background(), rec)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 4, rec.Version)
}

func TestUsageGetBySubscriberIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `usage_records` WHERE subscriber_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetBySubscriberID(context.Background(), 9)
	assert.True(t, IsNotFound(err))
}
