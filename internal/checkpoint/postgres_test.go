package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_SaveUpsertsInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "checkpoints", nil)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("a", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("b", &ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), map[string]*time.Time{"b": &ts, "a": nil}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "checkpoints", nil)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("a", &ts).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.Save(context.Background(), map[string]*time.Time{"a": &ts})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Load(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "checkpoints", nil)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"channel_id", "last_posted_at"}).
		AddRow("a", &ts).
		AddRow("b", (*time.Time)(nil))
	mock.ExpectQuery("SELECT channel_id, last_posted_at FROM checkpoints").WillReturnRows(rows)

	points := store.Load(context.Background())
	require.Len(t, points, 2)
	require.NotNil(t, points["a"])
	assert.True(t, ts.Equal(*points["a"]))
	assert.Nil(t, points["b"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadErrorDegradesToEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT channel_id, last_posted_at FROM channel_checkpoints").
		WillReturnError(errors.New("connection refused"))

	assert.Empty(t, store.Load(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_EnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "checkpoints", nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS checkpoints").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresWithPool_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresWithPool(nil, "checkpoints", nil)
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPostgresWithPool(mock, "bad;table", nil)
	assert.Error(t, err)
}

func TestNewPostgres_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPostgres(context.Background(), PostgresConfig{}, nil)
	assert.Error(t, err)
}
