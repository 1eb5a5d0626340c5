// Package registry owns the persisted account set. It is the only writer
// of the accounts file; every mutation rewrites the whole file atomically.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/roostd/roost/internal/config"
	"github.com/roostd/roost/internal/model"
)

var (
	ErrNotFound = errors.New("registry: account not found")
	ErrExists   = errors.New("registry: account already exists")
)

// Registry indexes accounts by username and persists them to a JSON file.
// Reads go through the concurrent index; the file itself is written under a
// single-writer lock with write-then-rename semantics.
type Registry struct {
	path string

	accounts *xsync.Map[string, model.Account]

	loadMu sync.Mutex
	loaded bool

	saveMu sync.Mutex
}

// New creates a Registry over the given accounts file. Call Load before use.
func New(path string) *Registry {
	return &Registry{
		path:     path,
		accounts: xsync.NewMap[string, model.Account](),
	}
}

// Load reads the accounts file into the index. It is idempotent: the first
// caller performs the read, later callers observe the already-loaded set.
// A missing file is an empty registry, not an error.
func (r *Registry) Load() error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.loaded {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.loaded = true
			log.Printf("[registry] %s missing, starting empty", r.path)
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", r.path, err)
	}

	var list []model.Account
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("registry: parse %s: %w", r.path, err)
	}

	weak := 0
	for _, acct := range list {
		if acct.Username == "" {
			continue
		}
		if config.IsWeakPassword(acct.Password) {
			weak++
			log.Printf("[registry] account %s has a weak password", acct.Username)
		}
		r.accounts.Store(acct.Username, acct)
	}
	r.loaded = true
	log.Printf("[registry] loaded %d accounts from %s (%d weak passwords)", r.accounts.Size(), r.path, weak)
	return nil
}

// Save writes the entire account set to disk atomically.
func (r *Registry) Save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	list := r.List()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("registry: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: rename %s: %w", r.path, err)
	}
	return nil
}

// List returns the accounts sorted by username.
func (r *Registry) List() []model.Account {
	list := make([]model.Account, 0, r.accounts.Size())
	r.accounts.Range(func(_ string, acct model.Account) bool {
		list = append(list, acct)
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	return list
}

// FindByUsername returns the account with the given username.
func (r *Registry) FindByUsername(username string) (model.Account, bool) {
	return r.accounts.Load(username)
}

// Size returns the number of accounts.
func (r *Registry) Size() int {
	return r.accounts.Size()
}

// mutate applies fn to the named account and persists the whole set.
func (r *Registry) mutate(username string, fn func(*model.Account)) error {
	found := false
	r.accounts.Compute(username, func(acct model.Account, loaded bool) (model.Account, xsync.ComputeOp) {
		if !loaded {
			return acct, xsync.CancelOp
		}
		found = true
		fn(&acct)
		return acct, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return r.Save()
}

// MarkLocked flags the account as hard-locked and unusable.
func (r *Registry) MarkLocked(username string) error {
	return r.mutate(username, func(a *model.Account) {
		a.IsLocked = true
		a.Usable = false
	})
}

// MarkSuspended flags the account as unusable. The suspension itself lives
// in the health tracker; only the usable gate is persisted.
func (r *Registry) MarkSuspended(username string) error {
	return r.mutate(username, func(a *model.Account) {
		a.Usable = false
	})
}

// SetCookies replaces the account's stored session cookies.
func (r *Registry) SetCookies(username string, cookies []model.Cookie) error {
	return r.mutate(username, func(a *model.Account) {
		a.Cookies = cookies
	})
}

// --- Admin surface ---

// Add inserts a new account. Fails with ErrExists on username conflict.
func (r *Registry) Add(acct model.Account) error {
	if acct.Username == "" {
		return fmt.Errorf("registry: empty username")
	}
	conflict := false
	r.accounts.Compute(acct.Username, func(old model.Account, loaded bool) (model.Account, xsync.ComputeOp) {
		if loaded {
			conflict = true
			return old, xsync.CancelOp
		}
		return acct, xsync.UpdateOp
	})
	if conflict {
		return fmt.Errorf("%w: %s", ErrExists, acct.Username)
	}
	return r.Save()
}

// Update replaces an existing account wholesale.
func (r *Registry) Update(acct model.Account) error {
	return r.mutate(acct.Username, func(a *model.Account) {
		*a = acct
	})
}

// Delete removes an account.
func (r *Registry) Delete(username string) error {
	found := false
	r.accounts.Compute(username, func(old model.Account, loaded bool) (model.Account, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		found = true
		return old, xsync.DeleteOp
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return r.Save()
}

// ClearCookies drops the stored session for one account.
func (r *Registry) ClearCookies(username string) error {
	return r.SetCookies(username, nil)
}

// ClearAllCookies drops every stored session.
func (r *Registry) ClearAllCookies() error {
	r.accounts.Range(func(username string, acct model.Account) bool {
		acct.Cookies = nil
		r.accounts.Store(username, acct)
		return true
	})
	return r.Save()
}

// DeleteLocked removes every hard-locked account and returns how many went.
func (r *Registry) DeleteLocked() (int, error) {
	var doomed []string
	r.accounts.Range(func(username string, acct model.Account) bool {
		if acct.IsLocked {
			doomed = append(doomed, username)
		}
		return true
	})
	for _, username := range doomed {
		r.accounts.Delete(username)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	return len(doomed), r.Save()
}
