// Package store keeps snapshots of sheets in an embedded badger database.
// a Store also serves as a Registry's SheetLoader, so snapshotted sheets
// load the first time a formula names them.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vogtb/go-spreadsheet/packages/codec"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// ErrNotFound is returned for sheets without a snapshot
var ErrNotFound = errors.New("snapshot not found")

var (
	sheetPrefix = []byte("sheet/")
	savedPrefix = []byte("saved/")
)

func sheetKey(name string) []byte {
	return append(slices.Clone(sheetPrefix), name...)
}

func savedKey(name string) []byte {
	return append(slices.Clone(savedPrefix), name...)
}

// Config configures the database
type Config struct {
	// Path is the database directory. ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory, for tests
	InMemory bool

	// SyncWrites fsyncs every commit
	SyncWrites bool

	// Logger receives badger's own log output; nil silences it
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration for path
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration that never touches disk
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes badger's logging through slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store saves and restores sheets
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database described by cfg
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save snapshots one sheet, replacing any earlier snapshot of it
func (s *Store) Save(ctx context.Context, grid *spreadsheet.Grid) error {
	return s.SaveAll(ctx, grid)
}

// SaveAll snapshots several sheets in a single transaction
func (s *Store) SaveAll(ctx context.Context, grids ...*spreadsheet.Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make([][]byte, len(grids))
	for i, grid := range grids {
		var buf bytes.Buffer
		if err := codec.Encode(&buf, grid); err != nil {
			return fmt.Errorf("encode %s: %w", grid.Name(), err)
		}
		encoded[i] = buf.Bytes()
	}

	saved, err := s.now().UTC().MarshalBinary()
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for i, grid := range grids {
			if err := txn.Set(sheetKey(grid.Name()), encoded[i]); err != nil {
				return err
			}
			if err := txn.Set(savedKey(grid.Name()), saved); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.DebugContext(ctx, "sheets saved", "count", len(grids))
	return nil
}

// Load returns the snapshot of a sheet
func (s *Store) Load(ctx context.Context, name string) (*codec.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *codec.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sheetKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			doc, err = codec.Decode(bytes.NewReader(val))
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if doc.Name == "" {
		doc.Name = name
	}
	return doc, nil
}

// SavedAt returns when a sheet was last saved
func (s *Store) SavedAt(ctx context.Context, name string) (time.Time, error) {
	var saved time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(savedKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		return item.Value(saved.UnmarshalBinary)
	})
	return saved, err
}

// Sheets returns the names of all snapshotted sheets, sorted
func (s *Store) Sheets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = sheetPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(sheetPrefix):]))
		}
		return nil
	})
	return names, err
}

// Delete removes the snapshot of a sheet
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sheetKey(name)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err := txn.Delete(sheetKey(name)); err != nil {
			return err
		}
		return txn.Delete(savedKey(name))
	})
}

// LoadSheet implements spreadsheet.SheetLoader
func (s *Store) LoadSheet(ctx context.Context, name string, registry *spreadsheet.Registry) (*spreadsheet.Grid, error) {
	doc, err := s.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return codec.Build(doc, name, registry)
}

// Restore registers every snapshotted sheet that is not registered yet
func (s *Store) Restore(ctx context.Context, registry *spreadsheet.Registry) ([]string, error) {
	names, err := s.Sheets(ctx)
	if err != nil {
		return nil, err
	}
	var docs []*codec.Document
	for _, name := range names {
		if registry.Contains(name) {
			continue
		}
		doc, err := s.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	restored, err := codec.RegisterAll(ctx, docs, registry)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "snapshot restored", "sheets", len(restored))
	return restored, nil
}
