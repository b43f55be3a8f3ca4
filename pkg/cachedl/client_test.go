package cachedl

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name    string
		proxy   string
		wantErr error
	}{
		{"direct", "", nil},
		{"http proxy", "http://proxy.local:3128", nil},
		{"socks5 with auth", "socks5://user:pw@127.0.0.1:1080", nil},
		{"unsupported", "ftp://proxy.local", ErrUnsupportedProxy},
		{"missing host", "http://", ErrInvalidProxyURL},
		{"garbage", "://nope", ErrInvalidProxyURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewHTTPClient(tt.proxy, 5*time.Second)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && c.Timeout != 5*time.Second {
				t.Fatalf("timeout = %v", c.Timeout)
			}
		})
	}
}

func TestNewHTTPClient_HTTPProxyIsUsed(t *testing.T) {
	proxied := make(chan string, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied <- r.URL.String()
		io.WriteString(w, "via proxy")
	}))
	defer proxy.Close()

	c, err := NewHTTPClient(proxy.URL, 0)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	resp, err := c.Get("http://tiles.invalid/1.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "via proxy" {
		t.Fatalf("body = %q", body)
	}
	if got := <-proxied; got != "http://tiles.invalid/1.png" {
		t.Fatalf("proxy saw %q", got)
	}
}

func TestNewHTTPClient_RedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, fmt.Sprintf("%s/loop", srv.URL), http.StatusFound)
	}))
	defer srv.Close()

	c, _ := NewHTTPClient("", 0)
	_, err := c.Get(srv.URL)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestStripURLCredentials(t *testing.T) {
	if got := StripURLCredentials("sftp://u:p@host/x"); got != "sftp://host/x" {
		t.Fatalf("got %q", got)
	}
	if got := StripURLCredentials("::bad"); got != "::bad" {
		t.Fatalf("got %q", got)
	}
}
