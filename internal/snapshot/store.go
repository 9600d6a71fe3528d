// Package snapshot gives a caller an explicit, opt-in way to persist
// and restore a membership view. Nothing in internal/cluster or
// internal/detector calls into this package on its own: persistence
// here is "what a caller chooses to snapshot", never automatic, so a
// node that never asks for it behaves exactly as if the package
// didn't exist.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"swimguard/internal/membership"
)

const membersKey = "members"

// Store is a single-file LevelDB-backed snapshot of a membership view.
type Store struct {
	db   *leveldb.DB
	path string
}

// Open opens (or creates) a snapshot store at path. A corrupted
// database is recovered in place rather than silently discarded,
// matching the teacher's open-then-recover-then-fail discipline.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		if errors.IsCorrupted(err) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Save writes the given membership view as the store's sole record,
// overwriting whatever snapshot was there before.
func (s *Store) Save(members []membership.MembershipRumor) error {
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("snapshot: marshal members: %w", err)
	}
	if err := s.db.Put([]byte(membersKey), data, nil); err != nil {
		return fmt.Errorf("snapshot: put: %w", err)
	}
	return nil
}

// Load reads back the most recently Saved membership view. A store
// that was never saved to returns an empty slice, not an error.
func (s *Store) Load() ([]membership.MembershipRumor, error) {
	data, err := s.db.Get([]byte(membersKey), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: get: %w", err)
	}

	var members []membership.MembershipRumor
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal members: %w", err)
	}
	return members, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
