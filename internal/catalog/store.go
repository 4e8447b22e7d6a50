package catalog

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

const snapshotKey = "catalog/snapshot"

var ErrNoSnapshot = errors.New("catalog: no stored snapshot")

// StoreConfig configures the embedded snapshot store.
type StoreConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string
	// InMemory skips disk persistence; used by tests.
	InMemory bool
}

// Store persists FormatRaw snapshots in an embedded badger database so a
// capture session's learned actions survive restarts.
type Store struct {
	db *badger.DB
}

func OpenStore(cfg StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the catalog's raw export as the current snapshot.
func (s *Store) Save(c *Catalog) error {
	data, err := c.Export(FormatRaw)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("catalog: save snapshot: %w", err)
	}
	log.Info().Int("bytes", len(data)).Msg("catalog.store.save")
	return nil
}

// Load replaces the catalog contents with the stored snapshot.
func (s *Store) Load(c *Catalog) error {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return err
		}
		return fmt.Errorf("catalog: load snapshot: %w", err)
	}
	return c.Import(data)
}
