package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"cluster-chaos/internal/config"
)

type Engine struct {
	db *badger.DB
}

var _ Store = (*Engine)(nil)

type Config struct {
	DataPath   string
	InMemory   bool
	SyncWrites bool
	ValueLogGC bool
	GCInterval time.Duration
}

// ConfigFromJournal maps the journal section of the engine config
func ConfigFromJournal(cfg config.JournalConfig) Config {
	return Config{
		DataPath:   cfg.Path,
		InMemory:   cfg.InMemory,
		SyncWrites: true,
		ValueLogGC: !cfg.InMemory,
		GCInterval: 10 * time.Minute,
	}
}

func NewEngine(config Config) (*Engine, error) {
	opts := badger.DefaultOptions(config.DataPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(config.SyncWrites)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	engine := &Engine{db: db}
	if config.ValueLogGC && !config.InMemory {
		go engine.runGC(config.GCInterval)
	}
	return engine, nil
}

func (e *Engine) Put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (e *Engine) Get(key string, value interface{}) error {
	var data []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}

func (e *Engine) Delete(key string) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (e *Engine) List(prefix string, fn func(key string, decode func(interface{}) error) error) error {
	p := []byte(prefix)
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			decode := func(v interface{}) error { return json.Unmarshal(value, v) }
			if err := fn(string(item.KeyCopy(nil)), decode); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) runGC(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if e.db.IsClosed() {
			return
		}
		for e.db.RunValueLogGC(0.5) == nil {
		}
	}
}
