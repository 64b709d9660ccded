package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/reconcile"
)

// ValidationOverrideField is the lock field name moderators set to bypass
// curation for one identity.
const ValidationOverrideField = "validation_override"

// globalLockField marks the whole-record lock inside the locks table.
const globalLockField = "*"

// ErrRecordNotFound is returned when an identity has no catalog row.
var ErrRecordNotFound = errors.New("catalog record not found")

// CatalogStore persists catalog records and moderator locks in Postgres.
// It assumes table schemas like:
//
//	CREATE TABLE catalog_records (
//		site TEXT NOT NULL,
//		kind TEXT NOT NULL,
//		ref TEXT NOT NULL,
//		record JSONB NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL,
//		PRIMARY KEY (site, kind, ref)
//	);
//
//	CREATE TABLE catalog_locks (
//		site TEXT NOT NULL,
//		kind TEXT NOT NULL,
//		ref TEXT NOT NULL,
//		field TEXT NOT NULL,
//		PRIMARY KEY (site, kind, ref, field)
//	);
//
// A lock row's presence means locked; the field '*' is the global lock.
type CatalogStore struct {
	pool querier
}

// NewCatalogStore connects a pool and returns a Postgres-backed CatalogStore.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CatalogStore{pool: pool}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewCatalogStoreWithPool(pool querier) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get returns the record for an identity, with found=false when absent.
func (s *CatalogStore) Get(ctx context.Context, id ingest.Identity) (ingest.CatalogRecord, bool, error) {
	query := `SELECT record FROM catalog_records WHERE site = $1 AND kind = $2 AND ref = $3`
	var recordJSON []byte
	err := s.pool.QueryRow(ctx, query, id.Site, string(id.Kind), id.Ref).Scan(&recordJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.CatalogRecord{}, false, nil
		}
		return ingest.CatalogRecord{}, false, fmt.Errorf("get catalog record: %w", err)
	}
	var rec ingest.CatalogRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return ingest.CatalogRecord{}, false, fmt.Errorf("unmarshal catalog record: %w", err)
	}
	return rec, true, nil
}

// Create inserts a new record; the identity key must be unique.
func (s *CatalogStore) Create(ctx context.Context, record ingest.CatalogRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal catalog record: %w", err)
	}
	query := `
INSERT INTO catalog_records (site, kind, ref, record, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	id := record.Identity
	_, err = s.pool.Exec(ctx, query,
		id.Site, string(id.Kind), id.Ref, recordJSON, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert catalog record: %w", err)
	}
	return nil
}

// Apply mutates an existing record with a change-set's fields. The worker
// loop is the only writer, so a read-modify-write without a transaction
// cannot race another Apply.
func (s *CatalogStore) Apply(ctx context.Context, id ingest.Identity, changes ingest.ChangeSet) error {
	rec, found, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrRecordNotFound
	}
	reconcile.ApplyFields(&rec, changes.Fields)
	rec.UpdatedAt = time.Now().UTC()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal catalog record: %w", err)
	}
	query := `
UPDATE catalog_records SET record = $4, updated_at = $5
WHERE site = $1 AND kind = $2 AND ref = $3`
	tag, err := s.pool.Exec(ctx, query,
		id.Site, string(id.Kind), id.Ref, recordJSON, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update catalog record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Locks returns the lock state for an identity.
func (s *CatalogStore) Locks(ctx context.Context, id ingest.Identity) (ingest.LockState, error) {
	query := `SELECT field FROM catalog_locks WHERE site = $1 AND kind = $2 AND ref = $3`
	rows, err := s.pool.Query(ctx, query, id.Site, string(id.Kind), id.Ref)
	if err != nil {
		return ingest.LockState{}, fmt.Errorf("list catalog locks: %w", err)
	}
	defer rows.Close()

	state := ingest.LockState{Fields: make(map[string]bool)}
	for rows.Next() {
		var field string
		if err := rows.Scan(&field); err != nil {
			return ingest.LockState{}, fmt.Errorf("scan lock row: %w", err)
		}
		if field == globalLockField {
			state.Global = true
			continue
		}
		state.Fields[field] = true
	}
	if err := rows.Err(); err != nil {
		return ingest.LockState{}, fmt.Errorf("iterate lock rows: %w", err)
	}
	return state, nil
}

// OverrideActive reports whether the validation override lock is set.
func (s *CatalogStore) OverrideActive(ctx context.Context, id ingest.Identity) (bool, error) {
	query := `SELECT EXISTS (
SELECT 1 FROM catalog_locks WHERE site = $1 AND kind = $2 AND ref = $3 AND field = $4)`
	var active bool
	err := s.pool.QueryRow(ctx, query,
		id.Site, string(id.Kind), id.Ref, ValidationOverrideField).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check validation override: %w", err)
	}
	return active, nil
}

// SetFieldLock creates or removes a per-field lock. Moderation tooling hook.
func (s *CatalogStore) SetFieldLock(ctx context.Context, id ingest.Identity, field string, locked bool) error {
	if locked {
		query := `
INSERT INTO catalog_locks (site, kind, ref, field)
VALUES ($1,$2,$3,$4)
ON CONFLICT (site, kind, ref, field) DO NOTHING`
		if _, err := s.pool.Exec(ctx, query, id.Site, string(id.Kind), id.Ref, field); err != nil {
			return fmt.Errorf("insert catalog lock: %w", err)
		}
		return nil
	}
	query := `DELETE FROM catalog_locks WHERE site = $1 AND kind = $2 AND ref = $3 AND field = $4`
	if _, err := s.pool.Exec(ctx, query, id.Site, string(id.Kind), id.Ref, field); err != nil {
		return fmt.Errorf("delete catalog lock: %w", err)
	}
	return nil
}

// SetGlobalLock flips the identity's global lock. Moderation tooling hook.
func (s *CatalogStore) SetGlobalLock(ctx context.Context, id ingest.Identity, locked bool) error {
	return s.SetFieldLock(ctx, id, globalLockField, locked)
}
