// Package netutil builds HTTP transports bound to a proxy.
// Each account session gets its own transport object, so no process-global
// proxy install window exists between concurrent calls.
package netutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/roostd/roost/internal/model"
)

const dialTimeout = 30 * time.Second

// ProxyURL renders the proxy as a URL with embedded credentials.
func ProxyURL(p *model.Proxy) *url.URL {
	u := &url.URL{
		Scheme: p.Scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Transport returns an http.RoundTripper that egresses through the given
// proxy. A nil proxy yields a plain direct transport. Keep-alives are
// disabled, so every request opens a fresh connection.
func Transport(p *model.Proxy) (*http.Transport, error) {
	if p == nil {
		return &http.Transport{
			DisableKeepAlives: true,
			ForceAttemptHTTP2: true,
		}, nil
	}

	switch p.Scheme {
	case "", "http", "https":
		return &http.Transport{
			Proxy:             http.ProxyURL(ProxyURL(p)),
			DisableKeepAlives: true,
			ForceAttemptHTTP2: true,
		}, nil
	case "socks5":
		var auth *xproxy.Auth
		if p.Username != "" {
			auth = &xproxy.Auth{User: p.Username, Password: p.Password}
		}
		addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
		dialer, err := xproxy.SOCKS5("tcp", addr, auth, &net.Dialer{Timeout: dialTimeout})
		if err != nil {
			return nil, fmt.Errorf("netutil: socks5 dialer for %s: %w", p.ID, err)
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				if cd, ok := dialer.(xproxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, address)
				}
				return dialer.Dial(network, address)
			},
			DisableKeepAlives: true,
		}, nil
	default:
		return nil, fmt.Errorf("netutil: unsupported proxy scheme %q", p.Scheme)
	}
}
