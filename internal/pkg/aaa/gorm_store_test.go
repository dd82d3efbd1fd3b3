package aaa

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestLifetimeTotalsSumsAccounting(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"username", "total"}).
		AddRow("alice", int64(5368709120)).
		AddRow("bob", int64(42))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT username, COALESCE(SUM(acctinputoctets + acctoutputoctets), 0) AS total FROM `radacct`")).
		WillReturnRows(rows)

	totals, err := store.LifetimeTotals(context.Background(), []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	assert.Equal(t, int64(5368709120), totals["alice"])
	assert.Equal(t, int64(42), totals["bob"])
	_, ok := totals["carol"]
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLifetimeTotalsWrapsStoreErrors(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT username").WillReturnError(assert.AnError)

	_, err := store.LifetimeTotals(context.Background(), []string{"alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
}

func TestRemoveUserDeletesAllPerUserRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radcheck` WHERE username = ?")).
		WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radreply` WHERE username = ?")).
		WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radusergroup` WHERE username = ?")).
		WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RemoveUser(context.Background(), "alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCredentialEnabledRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radcheck`")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.SetCredentialEnabled(context.Background(), "alice", true)
	assert.ErrorIs(t, err, ErrStore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var groupColumns = []string{"id", "groupname", "attribute", "op", "value"}

func basicGroupTarget() attrmap.AttributeSet {
	return attrmap.AttributeSet{
		{Name: attrmap.AttrBandwidthDown, Op: attrmap.OpReply, Value: "10485760", Source: attrmap.SourceGroupReply},
		{Name: attrmap.AttrSimultaneousUse, Op: attrmap.OpSet, Value: "1", Source: attrmap.SourceGroupCheck},
	}
}

func TestReconcileGroupInSyncWritesNothing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radgroupreply` WHERE groupname = ?")).
		WithArgs("p1-basic").
		WillReturnRows(sqlmock.NewRows(groupColumns).AddRow(1, "p1-basic", attrmap.AttrBandwidthDown, "=", "10485760"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radgroupcheck` WHERE groupname = ?")).
		WithArgs("p1-basic").
		WillReturnRows(sqlmock.NewRows(groupColumns).AddRow(4, "p1-basic", attrmap.AttrSimultaneousUse, ":=", "1"))
	mock.ExpectCommit()

	diff, err := store.ReconcileGroup(context.Background(), "p1-basic", basicGroupTarget())
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileGroupRollsBackOnFailedInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radgroupreply` WHERE groupname = ?")).
		WillReturnRows(sqlmock.NewRows(groupColumns).AddRow(2, "p1-basic", attrmap.AttrIdleTimeout, "=", "600"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radgroupcheck` WHERE groupname = ?")).
		WillReturnRows(sqlmock.NewRows(groupColumns).AddRow(4, "p1-basic", attrmap.AttrSimultaneousUse, ":=", "1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radgroupreply` WHERE groupname = ? AND attribute = ?")).
		WithArgs("p1-basic", attrmap.AttrIdleTimeout).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `radgroupreply`")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	diff, err := store.ReconcileGroup(context.Background(), "p1-basic", basicGroupTarget())
	assert.ErrorIs(t, err, ErrStore)
	assert.True(t, diff.Empty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

var checkColumns = []string{"id", "username", "attribute", "op", "value"}

func aliceChecks() attrmap.AttributeSet {
	return attrmap.AttributeSet{
		{Name: attrmap.AttrCleartextPassword, Op: attrmap.OpSet, Value: "pw", Source: attrmap.SourceUserCheck},
	}
}

func TestReconcileUserInSyncWritesNothing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radusergroup` WHERE username = ?")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "groupname", "priority"}).AddRow(3, "alice", "p1-basic", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radcheck` WHERE username = ? AND attribute IN")).
		WillReturnRows(sqlmock.NewRows(checkColumns).AddRow(9, "alice", attrmap.AttrCleartextPassword, ":=", "pw"))
	mock.ExpectCommit()

	change, err := store.ReconcileUser(context.Background(), "alice", "p1-basic", aliceChecks())
	require.NoError(t, err)
	assert.False(t, change.GroupChanged)
	assert.True(t, change.Checks.Empty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileUserMovesGroupAndInsertsChecks(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radusergroup` WHERE username = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "groupname", "priority"}).AddRow(3, "alice", "p9-legacy", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radusergroup` WHERE username = ?")).
		WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `radusergroup`")).
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radcheck` WHERE username = ? AND attribute IN")).
		WillReturnRows(sqlmock.NewRows(checkColumns))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `radcheck`")).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectCommit()

	change, err := store.ReconcileUser(context.Background(), "alice", "p1-basic", aliceChecks())
	require.NoError(t, err)
	assert.True(t, change.GroupChanged)
	require.Len(t, change.Checks.Insert, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileUserRollsBackOnFailedInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `radusergroup` WHERE username = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "groupname", "priority"}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `radusergroup` WHERE username = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `radusergroup`")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	change, err := store.ReconcileUser(context.Background(), "alice", "p1-basic", aliceChecks())
	assert.ErrorIs(t, err, ErrStore)
	assert.False(t, change.GroupChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
