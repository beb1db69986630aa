package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-process Store used in dev mode and tests.
//
// Every operation runs under one mutex, which trivially gives the
// conditional-update guarantees the Store contract demands.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Record
	// byHash indexes both current and previous credential hashes.
	byHash  map[string]string
	byOwner map[string]map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Record),
		byHash:  make(map[string]string),
		byOwner: make(map[string]map[string]struct{}),
	}
}

// FindByHash loads a record by its current or previous credential hash.
func (s *MemoryStore) FindByHash(ctx context.Context, credentialHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[credentialHash]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return copyRecord(s.byID[id]), nil
}

// FindAllByOwner returns all records for ownerID, oldest first.
func (s *MemoryStore) FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byOwner[ownerID]
	out := make([]Record, 0, len(ids))
	for id := range ids {
		out = append(out, copyRecord(s.byID[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Insert stores a new record under a fresh ULID.
func (s *MemoryStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Any collision on the lookup index is rejected, not just collisions
	// with an active record: the index key must stay unambiguous.
	if _, exists := s.byHash[rec.CredentialHash]; exists {
		return Record{}, ErrDuplicateHash
	}

	rec.SessionID = ulid.Make().String()
	s.byID[rec.SessionID] = copyRecord(rec)
	s.byHash[rec.CredentialHash] = rec.SessionID

	if s.byOwner[rec.OwnerID] == nil {
		s.byOwner[rec.OwnerID] = make(map[string]struct{})
	}
	s.byOwner[rec.OwnerID][rec.SessionID] = struct{}{}

	return copyRecord(rec), nil
}

// Update fully replaces the record identified by rec.SessionID.
func (s *MemoryStore) Update(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[rec.SessionID]
	if !ok {
		return ErrSessionNotFound
	}

	s.unindexHashes(old)
	s.byID[rec.SessionID] = copyRecord(rec)
	s.indexHashes(rec)
	return nil
}

// Rotate performs the in-place credential swap if the record still
// carries oldHash and is not revoked.
func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[sessionID]
	if !ok || rec.CredentialHash != oldHash || rec.Revoked() {
		return false, nil
	}
	if other, exists := s.byHash[newHash]; exists && other != sessionID {
		return false, ErrDuplicateHash
	}

	// The older previous hash falls out of the index; only one rotation
	// step of history is kept.
	if rec.PrevCredentialHash != nil {
		delete(s.byHash, *rec.PrevCredentialHash)
	}

	prev := oldHash
	rec.PrevCredentialHash = &prev
	rec.CredentialHash = newHash
	rec.ExpiresAt = expiresAt
	lu := now
	rec.LastUsedAt = &lu
	rec.RevokedAt = nil
	rec.RevocationReason = nil
	rec.RevokedFromAddr = nil

	s.byID[sessionID] = rec
	s.byHash[newHash] = sessionID
	return true, nil
}

// RevokeByHash revokes the non-revoked record currently keyed by credentialHash.
func (s *MemoryStore) RevokeByHash(ctx context.Context, now time.Time, credentialHash, reason, fromAddr string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[credentialHash]
	if !ok {
		return false, nil
	}
	rec := s.byID[id]
	if rec.CredentialHash != credentialHash || rec.Revoked() {
		return false, nil
	}

	s.byID[id] = revokedCopy(rec, now, reason, fromAddr)
	return true, nil
}

// RevokeAllForOwner revokes every still-active record of ownerID.
func (s *MemoryStore) RevokeAllForOwner(ctx context.Context, now time.Time, ownerID, reason, fromAddr string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id := range s.byOwner[ownerID] {
		rec := s.byID[id]
		if rec.Revoked() {
			continue
		}
		s.byID[id] = revokedCopy(rec, now, reason, fromAddr)
		n++
	}
	return n, nil
}

// DeleteExpiredBefore removes records whose expiry passed before cutoff.
func (s *MemoryStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.byID {
		if !rec.ExpiresAt.Before(cutoff) {
			continue
		}
		s.unindexHashes(rec)
		delete(s.byID, id)
		if owned := s.byOwner[rec.OwnerID]; owned != nil {
			delete(owned, id)
			if len(owned) == 0 {
				delete(s.byOwner, rec.OwnerID)
			}
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) indexHashes(rec Record) {
	s.byHash[rec.CredentialHash] = rec.SessionID
	if rec.PrevCredentialHash != nil {
		s.byHash[*rec.PrevCredentialHash] = rec.SessionID
	}
}

func (s *MemoryStore) unindexHashes(rec Record) {
	delete(s.byHash, rec.CredentialHash)
	if rec.PrevCredentialHash != nil {
		delete(s.byHash, *rec.PrevCredentialHash)
	}
}

func revokedCopy(rec Record, now time.Time, reason, fromAddr string) Record {
	at := now
	rec.RevokedAt = &at
	rec.RevocationReason = &reason
	rec.RevokedFromAddr = &fromAddr
	return rec
}

// copyRecord deep-copies pointer fields so callers cannot alias store state.
func copyRecord(rec Record) Record {
	rec.PrevCredentialHash = copyStr(rec.PrevCredentialHash)
	rec.LastUsedAt = copyTime(rec.LastUsedAt)
	rec.RevokedAt = copyTime(rec.RevokedAt)
	rec.RevocationReason = copyStr(rec.RevocationReason)
	rec.RevokedFromAddr = copyStr(rec.RevokedFromAddr)
	return rec
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
