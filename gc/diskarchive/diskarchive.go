// Package diskarchive is an opaque goleveldb-backed archive sink for the
// garbage collector: each archived round is stored as a small fixed
// summary blob (round, hash, archival timestamp), keyed by big-endian
// round number. It does not attempt to persist a full signed state — the
// wire/disk format for that is out of scope here — only enough to answer
// "was round R archived, and when".
package diskarchive

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/tos-network/sigstate/common"
)

// recordLen is 48 bytes of hash plus 8 bytes of Unix-nano timestamp.
const recordLen = common.HashLength + 8

// ErrNotFound is returned by Get when no record exists for a round.
var ErrNotFound = errors.New("diskarchive: round not found")

// Store is the goleveldb-backed archive sink.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying leveldb handle.
func (s *Store) Close() error { return s.db.Close() }

func roundKey(round uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round)
	return key
}

// Put persists the archival summary for round.
func (s *Store) Put(round uint64, hash common.Hash, archivedAt time.Time) error {
	rec := make([]byte, recordLen)
	copy(rec, hash[:])
	binary.BigEndian.PutUint64(rec[common.HashLength:], uint64(archivedAt.UnixNano()))
	return s.db.Put(roundKey(round), rec, nil)
}

// Get returns the archival summary previously stored for round.
func (s *Store) Get(round uint64) (hash common.Hash, archivedAt time.Time, err error) {
	rec, err := s.db.Get(roundKey(round), nil)
	if err == leveldb.ErrNotFound {
		return common.Hash{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return common.Hash{}, time.Time{}, err
	}
	if len(rec) != recordLen {
		return common.Hash{}, time.Time{}, errors.New("diskarchive: corrupt record length")
	}
	copy(hash[:], rec[:common.HashLength])
	ns := int64(binary.BigEndian.Uint64(rec[common.HashLength:]))
	return hash, time.Unix(0, ns), nil
}

// Has reports whether a record exists for round.
func (s *Store) Has(round uint64) (bool, error) {
	return s.db.Has(roundKey(round), nil)
}

// Delete removes the archival summary for round, if present.
func (s *Store) Delete(round uint64) error {
	return s.db.Delete(roundKey(round), nil)
}
