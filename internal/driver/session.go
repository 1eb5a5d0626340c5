package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/roostd/roost/internal/classify"
	"github.com/roostd/roost/internal/model"
	"github.com/roostd/roost/internal/netutil"
)

// ErrAccountLocked is returned when login is refused because the account
// carries the persistent lock flag.
var ErrAccountLocked = errors.New("driver: account is locked")

const (
	loginAntiBurstDelay = time.Second
	defaultLoginTimeout = 45 * time.Second
)

// sessionCookieKeys are the cookies captured after a credential login.
var sessionCookieKeys = map[string]bool{
	"auth_token": true,
	"ct0":        true,
	"guest_id":   true,
}

// Session is one account's upstream session: a Client bound to the
// account's proxy transport plus the login state.
type Session struct {
	mu       sync.Mutex
	client   Client
	loggedIn bool
}

// Client returns the session's upstream client.
func (s *Session) Client() Client {
	return s.client
}

// Manager owns the per-account sessions and the login policy.
type Manager struct {
	sessions *xsync.Map[string, *Session]

	factory      Factory
	loginTimeout time.Duration

	// onCookies persists refreshed session cookies after a credential
	// login. onLocked persists the hard-lock flags when login surfaces
	// the upstream locked code.
	onCookies func(username string, cookies []model.Cookie) error
	onLocked  func(username string)

	sleep func(ctx context.Context, d time.Duration) error
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Factory      Factory
	LoginTimeout time.Duration
	OnCookies    func(username string, cookies []model.Cookie) error
	OnLocked     func(username string)
	Sleep        func(ctx context.Context, d time.Duration) error
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Manager{
		sessions:     xsync.NewMap[string, *Session](),
		factory:      cfg.Factory,
		loginTimeout: cfg.LoginTimeout,
		onCookies:    cfg.OnCookies,
		onLocked:     cfg.OnLocked,
		sleep:        cfg.Sleep,
	}
}

// Session returns the account's session, building the client with the
// account's proxy transport on first use.
func (m *Manager) Session(acct *model.Account, proxy *model.Proxy) (*Session, error) {
	var buildErr error
	sess, _ := m.sessions.LoadOrCompute(acct.Username, func() (*Session, bool) {
		transport, err := netutil.Transport(proxy)
		if err != nil {
			buildErr = fmt.Errorf("driver: session for %s: %w", acct.Username, err)
			return nil, true
		}
		return &Session{client: m.factory(transport)}, false
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return sess, nil
}

// Drop discards the account's session, forcing a rebuild on next use.
func (m *Manager) Drop(username string) {
	m.sessions.Delete(username)
}

// EnsureLogin makes the session usable: refuse locked accounts, install
// stored cookies without validation when present (session rot surfaces on
// the first real call), otherwise perform a credential login and persist
// the captured cookies.
func (m *Manager) EnsureLogin(ctx context.Context, sess *Session, acct *model.Account) error {
	if acct.IsLocked {
		return fmt.Errorf("%w: %s", ErrAccountLocked, acct.Username)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.loggedIn {
		return nil
	}

	if len(acct.Cookies) > 0 {
		if err := sess.client.SetCookies(cookieStrings(acct.Cookies)); err != nil {
			return fmt.Errorf("driver: install cookies for %s: %w", acct.Username, err)
		}
		sess.loggedIn = true
		return nil
	}

	// Anti-burst spacing before hitting the login endpoint.
	if err := m.sleep(ctx, loginAntiBurstDelay); err != nil {
		return err
	}

	loginCtx, cancel := context.WithTimeout(ctx, m.loginTimeout)
	defer cancel()
	if err := sess.client.Login(loginCtx, acct.Username, acct.Password, acct.Email, acct.TwoFactor); err != nil {
		if classify.HasLockedCode(err.Error()) && m.onLocked != nil {
			m.onLocked(acct.Username)
		}
		return fmt.Errorf("driver: login %s: %w", acct.Username, err)
	}

	captured := captureSessionCookies(sess.client.GetCookies())
	if len(captured) > 0 && m.onCookies != nil {
		if err := m.onCookies(acct.Username, captured); err != nil {
			log.Printf("[driver] persist cookies for %s: %v", acct.Username, err)
		}
	}
	sess.loggedIn = true
	return nil
}

// Invalidate marks the session as logged out, e.g. after an auth failure.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
}

// cookieStrings renders stored cookies in Set-Cookie form for the client.
func cookieStrings(cookies []model.Cookie) []string {
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		var b strings.Builder
		b.WriteString(c.Key)
		b.WriteString("=")
		b.WriteString(c.Value)
		if c.Domain != "" {
			b.WriteString("; Domain=")
			b.WriteString(c.Domain)
		}
		if c.Path != "" {
			b.WriteString("; Path=")
			b.WriteString(c.Path)
		}
		if c.Secure {
			b.WriteString("; Secure")
		}
		if c.HTTPOnly {
			b.WriteString("; HttpOnly")
		}
		if c.SameSite != "" {
			b.WriteString("; SameSite=")
			b.WriteString(c.SameSite)
		}
		out = append(out, b.String())
	}
	return out
}

// captureSessionCookies extracts the session cookies from the client's
// cookie jar in stored form.
func captureSessionCookies(raw []string) []model.Cookie {
	var out []model.Cookie
	for _, line := range raw {
		parts := strings.Split(line, ";")
		if len(parts) == 0 {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
		if !ok || !sessionCookieKeys[key] {
			continue
		}
		cookie := model.Cookie{Key: key, Value: value, Path: "/"}
		for _, attr := range parts[1:] {
			k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
			switch strings.ToLower(k) {
			case "domain":
				cookie.Domain = v
			case "path":
				cookie.Path = v
			case "expires":
				cookie.Expires = v
			case "secure":
				cookie.Secure = true
			case "httponly":
				cookie.HTTPOnly = true
			case "samesite":
				cookie.SameSite = v
			}
		}
		out = append(out, cookie)
	}
	return out
}

// sleepCtx sleeps for d unless ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepCtx is the context-aware sleep shared with the dispatcher's
// inter-batch pauses.
func SleepCtx(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, d)
}
