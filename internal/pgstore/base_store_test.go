package pgstore

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseStore_ExecContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE olav_threads SET state = \\$2 WHERE id = \\$1").
		WithArgs("thread-1", "idle").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewBaseStore(db, "olav_threads")
	result, err := store.ExecContext(context.Background(), "UPDATE olav_threads SET state = $2 WHERE id = $1", "thread-1", "idle")
	require.NoError(t, err)
	rows, err := result.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseStore_QueryRowContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT state FROM olav_threads WHERE id = \\$1").
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("idle"))

	store := NewBaseStore(db, "olav_threads")
	var state string
	err = store.QueryRowContext(context.Background(), "SELECT state FROM olav_threads WHERE id = $1", "thread-1").Scan(&state)
	require.NoError(t, err)
	assert.Equal(t, "idle", state)
}

func TestBaseStore_DBAndTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewBaseStore(db, "olav_threads")
	assert.Equal(t, db, store.DB())
	assert.Equal(t, "olav_threads", store.TableName())
}
