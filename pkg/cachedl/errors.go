package cachedl

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

var (
	// ErrNotCached is returned by Index.Get for unknown keys.
	ErrNotCached = errors.New("cachedl: key is not cached")
	// ErrUnsupportedScheme is returned for URLs no transport can serve.
	ErrUnsupportedScheme = errors.New("cachedl: unsupported URL scheme")
	// ErrShortBody is returned when a transfer ends before the announced size.
	ErrShortBody = errors.New("cachedl: body shorter than announced size")
)

// StatusError is an HTTP response with a non-success status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// FetchError wraps a failure to fetch a key. Key never carries credentials.
type FetchError struct {
	Op  string
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cachedl: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(op, key string, err error) *FetchError {
	return &FetchError{Op: op, Key: StripURLCredentials(key), Err: err}
}

// StripURLCredentials removes userinfo (username:password) from a URL string.
// Unparseable input is returned unchanged.
func StripURLCredentials(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.User = nil
	return parsed.String()
}
