package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/reconcile"
)

// ValidationOverrideField is the lock field name moderators set to bypass
// curation for one identity.
const ValidationOverrideField = "validation_override"

// CatalogStore is an in-memory ingest.CatalogStore.
type CatalogStore struct {
	mu      sync.RWMutex
	records map[string]ingest.CatalogRecord
	locks   map[string]map[string]bool
	global  map[string]bool
}

// NewCatalogStore constructs a CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		records: make(map[string]ingest.CatalogRecord),
		locks:   make(map[string]map[string]bool),
		global:  make(map[string]bool),
	}
}

// Get returns the record for an identity, with found=false when absent.
func (s *CatalogStore) Get(_ context.Context, id ingest.Identity) (ingest.CatalogRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id.Key()]
	return rec, ok, nil
}

// Create inserts a new record; the identity key must be unique.
func (s *CatalogStore) Create(_ context.Context, record ingest.CatalogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.Identity.Key()
	if _, exists := s.records[key]; exists {
		return errors.New("catalog record already exists")
	}
	s.records[key] = record
	return nil
}

// Apply mutates an existing record with a change-set's fields.
func (s *CatalogStore) Apply(_ context.Context, id ingest.Identity, changes ingest.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id.Key()]
	if !ok {
		return errors.New("catalog record not found")
	}
	reconcile.ApplyFields(&rec, changes.Fields)
	rec.UpdatedAt = time.Now().UTC()
	s.records[id.Key()] = rec
	return nil
}

// Locks returns the lock state for an identity.
func (s *CatalogStore) Locks(_ context.Context, id ingest.Identity) (ingest.LockState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields := make(map[string]bool, len(s.locks[id.Key()]))
	for name, locked := range s.locks[id.Key()] {
		fields[name] = locked
	}
	return ingest.LockState{Fields: fields, Global: s.global[id.Key()]}, nil
}

// OverrideActive reports whether the validation override lock is set.
func (s *CatalogStore) OverrideActive(_ context.Context, id ingest.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[id.Key()][ValidationOverrideField], nil
}

// SetFieldLock flips a per-field lock. Test/moderation hook.
func (s *CatalogStore) SetFieldLock(id ingest.Identity, field string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[id.Key()] == nil {
		s.locks[id.Key()] = make(map[string]bool)
	}
	s.locks[id.Key()][field] = locked
}

// SetGlobalLock flips the identity's global lock. Test/moderation hook.
func (s *CatalogStore) SetGlobalLock(id ingest.Identity, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global[id.Key()] = locked
}
