package requestlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dbPrefix = "dispatch_log-"
	dbSuffix = ".db"
)

// Repo manages rolling SQLite databases for the dispatch log. Each DB is
// named dispatch_log-<unix_ms>.db; the active one rotates on size and the
// oldest files are pruned down to the retain count.
type Repo struct {
	logDir      string
	maxBytes    int64
	retainCount int

	activeDB   *sql.DB
	activePath string

	now func() time.Time
}

// NewRepo creates a Repo over logDir. maxBytes controls rotation;
// retainCount sets how many historical files are kept.
func NewRepo(logDir string, maxBytes int64, retainCount int) *Repo {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024 * 1024
	}
	if retainCount <= 0 {
		retainCount = 5
	}
	return &Repo{
		logDir:      logDir,
		maxBytes:    maxBytes,
		retainCount: retainCount,
		now:         time.Now,
	}
}

// Open opens (or creates) the active database. An existing latest file is
// reused; a new one is created only when the directory holds none.
func (r *Repo) Open() error {
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return fmt.Errorf("requestlog: mkdir %s: %w", r.logDir, err)
	}

	files, err := r.listDBFiles()
	if err != nil {
		return err
	}
	if len(files) > 0 {
		if err := r.openDB(files[len(files)-1]); err != nil {
			return err
		}
		return r.cleanup()
	}
	return r.rotate()
}

// Close closes the active database.
func (r *Repo) Close() error {
	if r.activeDB == nil {
		return nil
	}
	err := r.activeDB.Close()
	r.activeDB = nil
	r.activePath = ""
	return err
}

// InsertBatch writes a batch of entries in one transaction and returns the
// number of rows inserted.
func (r *Repo) InsertBatch(entries []Entry) (int, error) {
	if r.activeDB == nil {
		return 0, fmt.Errorf("requestlog: no active db")
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := r.maybeRotate(); err != nil {
		return 0, err
	}

	tx, err := r.activeDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("requestlog: begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO dispatch_log
			(id, dispatch_id, ts_ns, operation, account, proxy_id, attempt, duration_ns, success, kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("requestlog: prepare: %w", err)
	}

	inserted := 0
	for _, e := range entries {
		success := 0
		if e.Success {
			success = 1
		}
		res, err := stmt.Exec(e.ID, e.DispatchID, e.Timestamp.UnixNano(), e.Operation,
			e.Account, e.ProxyID, e.Attempt, int64(e.Duration), success, e.Kind, truncateError(e.Error))
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, fmt.Errorf("requestlog: insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("requestlog: commit: %w", err)
	}
	return inserted, nil
}

// Count returns the number of rows in the active database.
func (r *Repo) Count() (int, error) {
	if r.activeDB == nil {
		return 0, fmt.Errorf("requestlog: no active db")
	}
	var n int
	if err := r.activeDB.QueryRow("SELECT COUNT(*) FROM dispatch_log").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) openDB(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("requestlog: open %s: %w", path, err)
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return err
	}
	r.activeDB = db
	r.activePath = path
	return nil
}

func (r *Repo) rotate() error {
	if r.activeDB != nil {
		if err := r.activeDB.Close(); err != nil {
			log.Printf("[requestlog] close %s: %v", r.activePath, err)
		}
		r.activeDB = nil
	}
	name := dbPrefix + strconv.FormatInt(r.now().UnixMilli(), 10) + dbSuffix
	if err := r.openDB(filepath.Join(r.logDir, name)); err != nil {
		return err
	}
	return r.cleanup()
}

// maybeRotate rotates when the active file has outgrown maxBytes.
func (r *Repo) maybeRotate() error {
	info, err := os.Stat(r.activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("requestlog: stat %s: %w", r.activePath, err)
	}
	if info.Size() < r.maxBytes {
		return nil
	}
	log.Printf("[requestlog] rotating %s at %d bytes", r.activePath, info.Size())
	return r.rotate()
}

// cleanup prunes historical files beyond the retain count, oldest first.
func (r *Repo) cleanup() error {
	files, err := r.listDBFiles()
	if err != nil {
		return err
	}
	for len(files) > r.retainCount {
		doomed := files[0]
		files = files[1:]
		if doomed == r.activePath {
			continue
		}
		if err := os.Remove(doomed); err != nil {
			log.Printf("[requestlog] prune %s: %v", doomed, err)
		}
	}
	return nil
}

// listDBFiles returns the log databases sorted by their timestamp name.
func (r *Repo) listDBFiles() ([]string, error) {
	entries, err := os.ReadDir(r.logDir)
	if err != nil {
		return nil, fmt.Errorf("requestlog: read dir %s: %w", r.logDir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, dbPrefix) && strings.HasSuffix(name, dbSuffix) {
			files = append(files, filepath.Join(r.logDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// migrateDB applies the embedded schema migrations to one database.
func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("requestlog: init migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("requestlog: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("requestlog: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("requestlog: migrate up: %w", err)
	}
	return nil
}
