package mastosw

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore keeps every cache generation in one LevelDB:
//
//	n:<cache>            marker, the cache exists
//	e:<cache>\x00<key>   gob-encoded CacheEntry
type LevelStore struct {
	db *leveldb.DB
}

func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

func markerKey(name string) []byte { return []byte("n:" + name) }

func entryPrefix(name string) []byte { return []byte("e:" + name + "\x00") }

func entryKey(name, key string) []byte { return append(entryPrefix(name), key...) }

func (s *LevelStore) Open(name string) error {
	return s.db.Put(markerKey(name), nil, nil)
}

func (s *LevelStore) Names() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), "n:"))
	}
	return out, it.Error()
}

func (s *LevelStore) Drop(name string) error {
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(bytes.Clone(it.Key()))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete(markerKey(name))
	return s.db.Write(batch, nil)
}

func (s *LevelStore) Match(name, key string) (CacheEntry, bool, error) {
	b, err := s.db.Get(entryKey(name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var ent CacheEntry
	if err := decodeGob(b, &ent); err != nil {
		return CacheEntry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return ent, true, nil
}

func (s *LevelStore) Put(name, key string, ent CacheEntry) error {
	return s.PutAll(name, map[string]CacheEntry{key: ent})
}

func (s *LevelStore) PutAll(name string, ents map[string]CacheEntry) error {
	batch := new(leveldb.Batch)
	batch.Put(markerKey(name), nil)
	for k, ent := range ents {
		b, err := encodeGob(ent)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		batch.Put(entryKey(name, k), b)
	}
	return s.db.Write(batch, nil)
}

func (s *LevelStore) Delete(name, key string) error {
	return s.db.Delete(entryKey(name, key), nil)
}

func (s *LevelStore) Keys(name string) ([]string, error) {
	prefix := entryPrefix(name)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(prefix):]))
	}
	return out, it.Error()
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
