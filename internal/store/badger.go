package store

import (
	"context"
	"path/filepath"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerKV is an embedded KV backend for single-node deployments
type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV opens (or creates) a Badger database at path
func NewBadgerKV(path string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerKV{db: db}, nil
}

func recordKey(c Collection, key string) []byte {
	return []byte(string(c) + "/" + key)
}

func (s *BadgerKV) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(c, key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerKV) Put(ctx context.Context, c Collection, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(c, key), value)
	})
}

func (s *BadgerKV) Delete(ctx context.Context, c Collection, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(c, key))
	})
}

func (s *BadgerKV) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	prefix := []byte(string(c) + "/")
	out := map[string][]byte{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), string(prefix))
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *BadgerKV) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return badger.ErrDBClosed
	}
	return nil
}

func (s *BadgerKV) Close() error {
	return s.db.Close()
}
