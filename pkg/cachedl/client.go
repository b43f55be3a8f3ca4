package cachedl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultMaxRedirects is the redirect limit of clients built by NewHTTPClient.
const DefaultMaxRedirects = 10

var (
	ErrInvalidProxyURL    = errors.New("cachedl: invalid proxy URL")
	ErrUnsupportedProxy   = errors.New("cachedl: unsupported proxy scheme")
	ErrTooManyRedirects   = errors.New("cachedl: too many redirects")
	supportedProxySchemes = map[string]bool{"http": true, "https": true, "socks5": true}
)

// NewHTTPClient returns an HTTP client routed through proxyURL, which may be
// an http, https or socks5 URL with optional credentials. An empty proxyURL
// yields a direct client. A zero timeout means no client-level timeout.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{
		Timeout:       timeout,
		CheckRedirect: redirectPolicy(DefaultMaxRedirects),
	}
	if proxyURL == "" {
		return client, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	if !supportedProxySchemes[parsed.Scheme] {
		return nil, ErrUnsupportedProxy
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if parsed.Scheme == "socks5" {
		var auth *proxy.Auth
		if parsed.User != nil {
			pass, _ := parsed.User.Password()
			auth = &proxy.Auth{
				User:     parsed.User.Username(),
				Password: pass,
			}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	} else {
		transport.Proxy = http.ProxyURL(parsed)
	}
	client.Transport = transport
	return client, nil
}

func redirectPolicy(max int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, max)
		}
		return nil
	}
}
