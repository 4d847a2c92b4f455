// Package localcache persists the session's working copy of patients and
// appointments on local disk so the service keeps its data across restarts
// and backend outages.
//
// Records are JSON envelopes stored under "<table>/<id>". Each envelope
// carries the insertion sequence of the record so lists come back in the
// order they were first written.
package localcache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const seqKey = "meta/seq"

type envelope struct {
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// Record is one value to write under an id.
type Record struct {
	ID    string
	Value interface{}
}

// Store is a LevelDB-backed table cache.
type Store struct {
	mu  sync.Mutex
	db  *leveldb.DB
	seq uint64
}

// Open opens (or creates) the cache at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open local cache %s: %w", path, err)
	}
	return newStore(db)
}

// OpenMemory opens a cache that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory cache: %w", err)
	}
	return newStore(db)
}

func newStore(db *leveldb.DB) (*Store, error) {
	s := &Store{db: db}
	v, err := db.Get([]byte(seqKey), nil)
	switch {
	case err == leveldb.ErrNotFound:
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	default:
		s.seq, err = strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse sequence: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(table, id string) []byte {
	return []byte(table + "/" + id)
}

// seqFor returns the existing sequence of a record or allocates the next one.
func (s *Store) seqFor(k []byte) (uint64, error) {
	raw, err := s.db.Get(k, nil)
	if err == nil {
		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil {
			return env.Seq, nil
		}
	} else if err != leveldb.ErrNotFound {
		return 0, err
	}
	s.seq++
	return s.seq, nil
}

func (s *Store) encode(batch *leveldb.Batch, table string, rec Record) error {
	data, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, rec.ID, err)
	}
	k := key(table, rec.ID)
	seq, err := s.seqFor(k)
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", table, rec.ID, err)
	}
	env, err := json.Marshal(envelope{Seq: seq, Data: data})
	if err != nil {
		return err
	}
	batch.Put(k, env)
	return nil
}

// Put writes or replaces one record, keeping its original position.
func (s *Store) Put(table, id string, v interface{}) error {
	return s.PutMany(table, []Record{{ID: id, Value: v}})
}

// PutMany writes records atomically, in order.
func (s *Store) PutMany(table string, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, rec := range recs {
		if err := s.encode(batch, table, rec); err != nil {
			return err
		}
	}
	batch.Put([]byte(seqKey), []byte(strconv.FormatUint(s.seq, 10)))
	return s.db.Write(batch, nil)
}

// Delete removes one record. Deleting a missing record is not an error.
func (s *Store) Delete(table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(key(table, id), nil)
}

// Replace swaps the whole table for recs in one atomic batch.
func (s *Store) Replace(table string, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(table+"/")), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}

	for _, rec := range recs {
		data, err := json.Marshal(rec.Value)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", table, rec.ID, err)
		}
		s.seq++
		env, err := json.Marshal(envelope{Seq: s.seq, Data: data})
		if err != nil {
			return err
		}
		batch.Put(key(table, rec.ID), env)
	}
	batch.Put([]byte(seqKey), []byte(strconv.FormatUint(s.seq, 10)))
	return s.db.Write(batch, nil)
}

// Raw returns the JSON payloads of a table in insertion order.
func (s *Store) Raw(table string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var envs []envelope
	iter := s.db.NewIterator(util.BytesPrefix([]byte(table+"/")), nil)
	for iter.Next() {
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			iter.Release()
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		envs = append(envs, env)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	sort.Slice(envs, func(i, j int) bool { return envs[i].Seq < envs[j].Seq })
	out := make([]json.RawMessage, len(envs))
	for i, env := range envs {
		out[i] = env.Data
	}
	return out, nil
}

// Load decodes a whole table into T, in insertion order.
func Load[T any](s *Store, table string) ([]T, error) {
	raws, err := s.Raw(table)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", table, err)
		}
		out = append(out, v)
	}
	return out, nil
}
