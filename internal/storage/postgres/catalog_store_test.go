package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ficlib/archivist/internal/ingest"
)

func newCatalogStoreMock(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func testIdentity() ingest.Identity {
	return ingest.Identity{Site: "archive", Kind: ingest.RefWork, Ref: "123"}
}

func TestGetUnmarshalsStoredRecord(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)
	id := testIdentity()

	stored := ingest.CatalogRecord{
		Identity:  id,
		Title:     "Harbor Lights",
		Authors:   []string{"seabird"},
		WordCount: 5000,
	}
	recordJSON, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record FROM catalog_records").
		WithArgs("archive", "work", "123").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(recordJSON))

	rec, found, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Harbor Lights", rec.Title)
	assert.Equal(t, 5000, rec.WordCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRecordReportsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)

	mock.ExpectQuery("SELECT record FROM catalog_records").
		WithArgs("archive", "work", "123").
		WillReturnRows(pgxmock.NewRows([]string{"record"}))

	_, found, err := store.Get(context.Background(), testIdentity())
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReadsModifiesAndWrites(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)
	id := testIdentity()

	stored := ingest.CatalogRecord{
		Identity:  id,
		Title:     "Old Title",
		CreatedAt: time.Unix(1690000000, 0).UTC(),
	}
	recordJSON, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record FROM catalog_records").
		WithArgs("archive", "work", "123").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(recordJSON))
	mock.ExpectExec("UPDATE catalog_records").
		WithArgs("archive", "work", "123", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	changes := ingest.ChangeSet{Fields: map[string]any{"title": "New Title"}}
	require.NoError(t, store.Apply(context.Background(), id, changes))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMissingRecord(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)

	mock.ExpectQuery("SELECT record FROM catalog_records").
		WithArgs("archive", "work", "123").
		WillReturnRows(pgxmock.NewRows([]string{"record"}))

	err := store.Apply(context.Background(), testIdentity(), ingest.ChangeSet{
		Fields: map[string]any{"title": "New Title"},
	})
	assert.ErrorIs(t, err, ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLocksSeparatesGlobalFromFields(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)

	mock.ExpectQuery("SELECT field FROM catalog_locks").
		WithArgs("archive", "work", "123").
		WillReturnRows(pgxmock.NewRows([]string{"field"}).
			AddRow("title").
			AddRow("*"))

	state, err := store.Locks(context.Background(), testIdentity())
	require.NoError(t, err)
	assert.True(t, state.Global)
	assert.True(t, state.FieldLocked("title"))
	assert.False(t, state.FieldLocked("summary"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideActive(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("archive", "work", "123", ValidationOverrideField).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := store.OverrideActive(context.Background(), testIdentity())
	require.NoError(t, err)
	assert.True(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetFieldLockInsertsAndDeletes(t *testing.T) {
	t.Parallel()

	store, mock := newCatalogStoreMock(t)
	ctx := context.Background()
	id := testIdentity()

	mock.ExpectExec("INSERT INTO catalog_locks").
		WithArgs("archive", "work", "123", "title").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.SetFieldLock(ctx, id, "title", true))

	mock.ExpectExec("DELETE FROM catalog_locks").
		WithArgs("archive", "work", "123", "title").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.SetFieldLock(ctx, id, "title", false))

	require.NoError(t, mock.ExpectationsWereMet())
}
