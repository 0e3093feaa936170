// Package cache persists diagnostic results across runs. Results are keyed by
// function name, shot key and a canonical encoding of the call parameters and
// stored in a sqlite database.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrTypeMismatch is returned when a function name is registered again with a
// different value type.
var ErrTypeMismatch = errors.New("cache: function registered with a different value type")

// Entry is a single encoded cache entry, used to move new results between
// stores, e.g. from worker processes back to the coordinating one.
type Entry struct {
	Function string `json:"function"`
	Key      Key    `json:"key"`
	Value    []byte `json:"value"`
}

// registered is the type-erased view of a Function held by the Store.
type registered interface {
	Name() string
	Save(ctx context.Context) (int, error)
	Load(ctx context.Context) error
	Stats() Stats
	String() string
	pendingEntries() ([]Entry, error)
	mergeEntries(entries []Entry) error
	dedupe(ctx context.Context) (int64, error)
}

// Store owns the database and every function registered against it.
type Store struct {
	db      *sql.DB
	path    string
	session string
	clock   timeutil.Clock

	mu    sync.Mutex
	funcs map[string]registered
}

// Open opens (creating if needed) the cache database at path and migrates it
// to the latest schema. Use ":memory:" for a throwaway cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}
	// sqlite serialises writers anyway and ":memory:" databases are per
	// connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring cache %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		path:    path,
		session: uuid.NewString(),
		clock:   timeutil.RealClock{},
		funcs:   make(map[string]registered),
	}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load cache migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("cache migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Session identifies this process in the rows it writes.
func (s *Store) Session() string { return s.session }

// SetClock replaces the clock used for timing calls and stamping rows.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database without saving pending entries.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register returns the cache for name, creating and loading it on first use.
// Registering a name twice returns the existing cache.
func Register[T any](ctx context.Context, s *Store, name string, opts Options) (*Function[T], error) {
	s.mu.Lock()
	if existing, ok := s.funcs[name]; ok {
		s.mu.Unlock()
		f, ok := existing.(*Function[T])
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrTypeMismatch, name)
		}
		log := monitoring.WithComponent("cache")
		log.Warn().Str("function", name).Msg("function already cached, reusing the existing cache")
		return f, nil
	}
	f := newFunction[T](s, name, opts)
	s.funcs[name] = f
	s.mu.Unlock()

	if err := f.Load(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Names returns the registered function names in sorted order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.funcs))
	for name := range s.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) each(fn func(r registered) error) error {
	for _, name := range s.Names() {
		s.mu.Lock()
		r := s.funcs[name]
		s.mu.Unlock()
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// SaveAll saves the pending entries of every registered function and returns
// the number of entries written.
func (s *Store) SaveAll(ctx context.Context) (int, error) {
	var total int
	err := s.each(func(r registered) error {
		n, err := r.Save(ctx)
		total += n
		return err
	})
	return total, err
}

// ReloadAll saves and then reloads every registered function, picking up
// entries written by other processes.
func (s *Store) ReloadAll(ctx context.Context) error {
	return s.each(func(r registered) error {
		if _, err := r.Save(ctx); err != nil {
			return err
		}
		return r.Load(ctx)
	})
}

// GCAll saves everything, drops superseded rows of every function and
// compacts the database file.
func (s *Store) GCAll(ctx context.Context) error {
	if _, err := s.SaveAll(ctx); err != nil {
		return err
	}
	var removed int64
	err := s.each(func(r registered) error {
		n, err := r.dedupe(ctx)
		removed += n
		return err
	})
	if err != nil {
		return err
	}
	if err := s.vacuum(ctx); err != nil {
		return err
	}
	monitoring.Logf("cache gc: removed %d superseded entries", removed)
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum cache: %w", err)
	}
	return nil
}

// Stats returns the statistics of every registered function.
func (s *Store) Stats() []Stats {
	var out []Stats
	_ = s.each(func(r registered) error {
		out = append(out, r.Stats())
		return nil
	})
	return out
}

// PendingEntries collects the unsaved entries of every registered function.
func (s *Store) PendingEntries() ([]Entry, error) {
	var out []Entry
	err := s.each(func(r registered) error {
		e, err := r.pendingEntries()
		out = append(out, e...)
		return err
	})
	return out, err
}

// MergePending adds entries collected from another store to the pending
// entries of the matching registered functions. Entries of functions not
// registered here are skipped.
func (s *Store) MergePending(entries []Entry) error {
	byFunc := make(map[string][]Entry)
	for _, e := range entries {
		byFunc[e.Function] = append(byFunc[e.Function], e)
	}
	return s.each(func(r registered) error {
		if e := byFunc[r.Name()]; len(e) > 0 {
			return r.mergeEntries(e)
		}
		return nil
	})
}

// StoredFunctions lists the function names with rows in the database,
// including ones not registered in this process.
func (s *Store) StoredFunctions(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT function, COUNT(*) FROM cache_entries GROUP BY function`)
	if err != nil {
		return nil, fmt.Errorf("listing cached functions: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
