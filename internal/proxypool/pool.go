// Package proxypool loads the proxy list and pins one proxy to each
// account. A binding never changes for the life of the process.
package proxypool

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/roostd/roost/internal/model"
)

// Pool hands out sticky proxy assignments and enforces the per-proxy
// minimum spacing between requests.
type Pool struct {
	path    string
	spacing time.Duration

	proxies []model.Proxy

	// username → index into proxies, pinned on first assignment.
	assignments   *xsync.Map[string, int]
	assignedCount atomic.Int64

	// proxy ID → unix-nano the proxy is next ready at.
	nextReadyAt *xsync.Map[string, *atomic.Int64]

	now func() time.Time
}

// Config tunes a Pool. Spacing <= 0 selects the 1s default.
type Config struct {
	Path    string
	Spacing time.Duration
	Now     func() time.Time
}

// New creates an unloaded Pool.
func New(cfg Config) *Pool {
	if cfg.Spacing <= 0 {
		cfg.Spacing = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pool{
		path:        cfg.Path,
		spacing:     cfg.Spacing,
		assignments: xsync.NewMap[string, int](),
		nextReadyAt: xsync.NewMap[string, *atomic.Int64](),
		now:         cfg.Now,
	}
}

// Load reads the proxy file. A missing file leaves the pool empty; calls
// then proceed without a proxy.
func (p *Pool) Load() error {
	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[proxypool] %s missing, running proxyless", p.path)
			return nil
		}
		return fmt.Errorf("proxypool: open %s: %w", p.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxy, err := ParseLine(line)
		if err != nil {
			log.Printf("[proxypool] %s:%d: %v (skipped)", p.path, lineNo, err)
			continue
		}
		p.proxies = append(p.proxies, proxy)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxypool: scan %s: %w", p.path, err)
	}
	log.Printf("[proxypool] loaded %d proxies from %s", len(p.proxies), p.path)
	return nil
}

// ParseLine parses one proxies.txt entry: host:port:username:password, with
// an optional socks5:// scheme prefix. Username and password may be absent.
func ParseLine(line string) (model.Proxy, error) {
	scheme := "http"
	if rest, ok := strings.CutPrefix(line, "socks5://"); ok {
		scheme = "socks5"
		line = rest
	} else if rest, ok := strings.CutPrefix(line, "http://"); ok {
		line = rest
	}

	parts := strings.Split(line, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return model.Proxy{}, fmt.Errorf("want host:port[:user:pass], got %d fields", len(parts))
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return model.Proxy{}, fmt.Errorf("invalid port %q", parts[1])
	}

	proxy := model.Proxy{
		Host:   parts[0],
		Port:   port,
		Scheme: scheme,
	}
	if len(parts) == 4 {
		proxy.Username = parts[2]
		proxy.Password = parts[3]
	}
	proxy.ID = identity(proxy)
	return proxy, nil
}

// identity derives a stable short ID from host, port and username.
func identity(p model.Proxy) string {
	h := xxh3.HashString(p.Host + ":" + strconv.Itoa(p.Port) + ":" + p.Username)
	return fmt.Sprintf("%016x", h)
}

// Size returns the number of loaded proxies.
func (p *Pool) Size() int {
	return len(p.proxies)
}

// Assign returns the proxy pinned to username, assigning one round-robin on
// first use. Returns nil when the pool is empty.
func (p *Pool) Assign(username string) *model.Proxy {
	if len(p.proxies) == 0 {
		return nil
	}
	idx, _ := p.assignments.LoadOrCompute(username, func() (int, bool) {
		n := p.assignedCount.Add(1) - 1
		return int(n % int64(len(p.proxies))), false
	})
	proxy := p.proxies[idx]
	return &proxy
}

// Reserve claims a dispatch slot on the proxy. On success the proxy's next
// ready time moves forward by the spacing. On refusal the remaining wait is
// returned.
func (p *Pool) Reserve(proxy *model.Proxy) (ok bool, wait time.Duration) {
	if proxy == nil {
		return true, 0
	}
	slot, _ := p.nextReadyAt.LoadOrStore(proxy.ID, new(atomic.Int64))

	for {
		now := p.now().UnixNano()
		ready := slot.Load()
		if now < ready {
			return false, time.Duration(ready - now)
		}
		if slot.CompareAndSwap(ready, now+int64(p.spacing)) {
			return true, 0
		}
		// Lost the race to another dispatch; re-read.
	}
}

// Assignments returns a snapshot of username → proxy ID bindings.
func (p *Pool) Assignments() map[string]string {
	out := make(map[string]string)
	p.assignments.Range(func(username string, idx int) bool {
		out[username] = p.proxies[idx].ID
		return true
	})
	return out
}

// Proxies returns the loaded list.
func (p *Pool) Proxies() []model.Proxy {
	return p.proxies
}
