package netutil

import (
	"net/http"
	"testing"

	"github.com/roostd/roost/internal/model"
)

func TestProxyURL(t *testing.T) {
	p := &model.Proxy{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "p w"}
	u := ProxyURL(p)
	if u.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", u.Scheme)
	}
	if u.Host != "10.0.0.1:8080" {
		t.Fatalf("host = %q", u.Host)
	}
	if pw, _ := u.User.Password(); u.User.Username() != "u" || pw != "p w" {
		t.Fatalf("credentials lost: %v", u.User)
	}
}

func TestProxyURL_NoCredentials(t *testing.T) {
	u := ProxyURL(&model.Proxy{Host: "10.0.0.1", Port: 3128})
	if u.User != nil {
		t.Fatalf("expected no userinfo, got %v", u.User)
	}
}

func TestTransport_Direct(t *testing.T) {
	tr, err := Transport(nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Proxy != nil {
		t.Fatal("direct transport must not set a proxy")
	}
	if !tr.DisableKeepAlives {
		t.Fatal("proxy transports must disable keep-alives")
	}
}

func TestTransport_HTTPProxy(t *testing.T) {
	tr, err := Transport(&model.Proxy{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Proxy == nil {
		t.Fatal("expected proxy func")
	}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	u, err := tr.Proxy(req)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "10.0.0.1:8080" {
		t.Fatalf("proxy host = %q", u.Host)
	}
}

func TestTransport_SOCKS5(t *testing.T) {
	tr, err := Transport(&model.Proxy{Scheme: "socks5", Host: "10.0.0.1", Port: 1080, Username: "u", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.DialContext == nil {
		t.Fatal("socks5 transport must install a dialer")
	}
}

func TestTransport_UnsupportedScheme(t *testing.T) {
	if _, err := Transport(&model.Proxy{Scheme: "quic", Host: "h", Port: 1}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
