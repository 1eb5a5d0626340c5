package proxypool

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeProxies(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.txt")
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadedPool(t *testing.T, now func() time.Time, lines ...string) *Pool {
	t.Helper()
	p := New(Config{Path: writeProxies(t, lines...), Now: now})
	if err := p.Load(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseLine(t *testing.T) {
	proxy, err := ParseLine("10.0.0.1:8080:alice:s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if proxy.Host != "10.0.0.1" || proxy.Port != 8080 || proxy.Username != "alice" || proxy.Password != "s3cret" {
		t.Fatalf("parsed %+v", proxy)
	}
	if proxy.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", proxy.Scheme)
	}
	if proxy.ID == "" {
		t.Fatal("expected stable id")
	}

	again, _ := ParseLine("10.0.0.1:8080:alice:different-password")
	if again.ID != proxy.ID {
		t.Fatal("id must not depend on the password")
	}

	socks, err := ParseLine("socks5://10.0.0.2:1080:u:p")
	if err != nil {
		t.Fatal(err)
	}
	if socks.Scheme != "socks5" {
		t.Fatalf("scheme = %q, want socks5", socks.Scheme)
	}

	if _, err := ParseLine("not-a-proxy"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseLine("host:99999:u:p"); err == nil {
		t.Fatal("expected port range error")
	}
}

func TestPool_StickyRoundRobin(t *testing.T) {
	p := loadedPool(t, nil,
		"10.0.0.1:8080:u:p",
		"10.0.0.2:8080:u:p",
		"10.0.0.3:8080:u:p",
	)

	first := p.Assign("alice")
	second := p.Assign("bob")
	third := p.Assign("carol")
	fourth := p.Assign("dave")

	if first.Host == second.Host || second.Host == third.Host {
		t.Fatalf("round robin not spreading: %s %s %s", first.Host, second.Host, third.Host)
	}
	if fourth.Host != first.Host {
		t.Fatalf("fourth assignment should wrap to first proxy: %s vs %s", fourth.Host, first.Host)
	}

	// Binding is stable.
	for i := 0; i < 5; i++ {
		if got := p.Assign("alice"); got.ID != first.ID {
			t.Fatalf("alice rebound from %s to %s", first.ID, got.ID)
		}
	}
}

func TestPool_AssignConcurrentStable(t *testing.T) {
	p := loadedPool(t, nil, "10.0.0.1:8080:u:p", "10.0.0.2:8080:u:p")

	const goroutines = 16
	ids := make([]string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = p.Assign("alice").ID
		}(i)
	}
	wg.Wait()
	for i := 1; i < goroutines; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent assignment split: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestPool_EmptyPoolAssignsNone(t *testing.T) {
	p := New(Config{Path: filepath.Join(t.TempDir(), "missing.txt")})
	if err := p.Load(); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if got := p.Assign("alice"); got != nil {
		t.Fatalf("expected nil proxy from empty pool, got %+v", got)
	}
	if ok, _ := p.Reserve(nil); !ok {
		t.Fatal("nil proxy reserve must succeed")
	}
}

func TestPool_ReserveSpacing(t *testing.T) {
	clock := time.Unix(1000, 0)
	p := loadedPool(t, func() time.Time { return clock }, "10.0.0.1:8080:u:p")
	proxy := p.Assign("alice")

	if ok, _ := p.Reserve(proxy); !ok {
		t.Fatal("first reserve must succeed")
	}
	ok, wait := p.Reserve(proxy)
	if ok {
		t.Fatal("second reserve within spacing must be refused")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("wait = %v, want (0, 1s]", wait)
	}

	clock = clock.Add(1100 * time.Millisecond)
	if ok, _ := p.Reserve(proxy); !ok {
		t.Fatal("reserve after spacing must succeed")
	}
}

func TestPool_ReserveNeverDoubleDispatches(t *testing.T) {
	p := loadedPool(t, nil, "10.0.0.1:8080:u:p")
	proxy := p.Assign("alice")

	const goroutines = 32
	var granted int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := p.Reserve(proxy); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("granted %d reservations within one spacing window, want 1", granted)
	}
}

func TestPool_SkipsMalformedLines(t *testing.T) {
	p := loadedPool(t, nil,
		"# comment",
		"",
		"garbage-line",
		"10.0.0.1:8080:u:p",
	)
	if p.Size() != 1 {
		t.Fatalf("size = %d, want 1", p.Size())
	}
}

func TestPool_AssignmentsSnapshot(t *testing.T) {
	p := loadedPool(t, nil, "10.0.0.1:8080:u:p", "10.0.0.2:8080:u:p")
	for i := 0; i < 4; i++ {
		p.Assign(fmt.Sprintf("user%d", i))
	}
	snap := p.Assignments()
	if len(snap) != 4 {
		t.Fatalf("snapshot size = %d, want 4", len(snap))
	}
}
