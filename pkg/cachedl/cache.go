package cachedl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/warpdl/gridfetch/pkg/logger"
)

// DefaultUserAgent is sent with HTTP requests unless Options.UserAgent is set.
const DefaultUserAgent = "gridfetch/1"

// Entry describes one cached resource. Path is relative to the cache's fs.
type Entry struct {
	Key         string    `json:"key"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
	// Cached is set when Fetch served the entry without network I/O.
	Cached bool `json:"cached"`
}

// Stats summarizes the contents of a cache.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Options configures a Cache. The zero value is usable.
type Options struct {
	// Client serves http and https URLs; http.DefaultClient when nil.
	Client    *http.Client
	UserAgent string
	// RateLimit caps network fetches per second; 0 disables the limit.
	RateLimit float64
	Burst     int
	// Retry is used as-is when MaxAttempts > 0, else DefaultRetryConfig().
	Retry RetryConfig
	// DialTimeout bounds FTP and SFTP connection setup.
	DialTimeout    time.Duration
	KnownHostsPath string
	SSHKeyPath     string
	Log            logger.Logger
}

// Cache fetches resources on a miss and serves them from disk afterwards.
type Cache struct {
	fs         afero.Fs
	idx        *Index
	limiter    *rate.Limiter
	retry      RetryConfig
	transports map[string]transport
	log        logger.Logger
}

// New returns a Cache storing blobs on fs and metadata in idx.
func New(fs afero.Fs, idx *Index, opts Options) *Cache {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialWait
	}
	if opts.Log == nil {
		opts.Log = logger.NewNopLogger()
	}
	if opts.KnownHostsPath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			opts.KnownHostsPath = filepath.Join(dir, "gridfetch", "known_hosts")
		}
	}

	c := &Cache{
		fs:    fs,
		idx:   idx,
		retry: opts.Retry,
		log:   opts.Log,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	web := &httpTransport{client: opts.Client, userAgent: opts.UserAgent}
	ftpT := &ftpTransport{timeout: opts.DialTimeout}
	c.transports = map[string]transport{
		"http":  web,
		"https": web,
		"ftp":   ftpT,
		"ftps":  ftpT,
		"sftp": &sftpTransport{
			timeout:    opts.DialTimeout,
			knownHosts: opts.KnownHostsPath,
			keyPath:    opts.SSHKeyPath,
		},
	}
	return c
}

// Fetch returns the cached entry for key, downloading it first on a miss.
// Its signature matches fetchq.DownloadFunc[Entry].
func (c *Cache) Fetch(ctx context.Context, key string) (Entry, error) {
	e, err := c.lookup(ctx, key)
	if err == nil {
		e.Cached = true
		return e, nil
	}
	if !errors.Is(err, ErrNotCached) {
		return Entry{}, newFetchError("lookup", key, err)
	}

	u, err := url.Parse(key)
	if err != nil {
		return Entry{}, newFetchError("parse", key, err)
	}
	tr, ok := c.transports[strings.ToLower(u.Scheme)]
	if !ok {
		return Entry{}, newFetchError("route", key, ErrUnsupportedScheme)
	}

	var state RetryState
	for {
		state.Attempts++
		e, err = c.fetchOnce(ctx, tr, u, key)
		if err == nil {
			if state.Attempts > 1 {
				c.log.Info("cachedl: fetched %s after %d attempts", StripURLCredentials(key), state.Attempts)
			}
			return e, nil
		}
		if !c.retry.ShouldRetry(&state, err) {
			return Entry{}, newFetchError("fetch", key, err)
		}
		c.log.Warning("cachedl: attempt %d for %s failed: %v", state.Attempts, StripURLCredentials(key), err)
		if werr := c.retry.WaitForRetry(ctx, &state, ClassifyError(err)); werr != nil {
			return Entry{}, newFetchError("fetch", key, werr)
		}
	}
}

// lookup returns the entry for key when both its row and its blob exist.
// A row whose blob has vanished is dropped.
func (c *Cache) lookup(ctx context.Context, key string) (Entry, error) {
	e, err := c.idx.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	ok, err := afero.Exists(c.fs, e.Path)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		c.log.Debug("cachedl: blob for %s is missing, refetching", StripURLCredentials(key))
		if err := c.idx.Delete(ctx, key); err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrNotCached
	}
	return e, nil
}

func (c *Cache) fetchOnce(ctx context.Context, tr transport, u *url.URL, key string) (Entry, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Entry{}, err
		}
	}
	rem, err := tr.open(ctx, u)
	if err != nil {
		return Entry{}, err
	}
	defer rem.body.Close()

	p := BlobPath(key)
	n, err := c.writeBlob(p, rem.body, rem.size)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Key:         key,
		Path:        p,
		Size:        n,
		ContentType: rem.contentType,
		ETag:        rem.etag,
		FetchedAt:   time.Now().UTC(),
	}
	if err := c.idx.Put(ctx, e); err != nil {
		return Entry{}, err
	}
	c.log.Debug("cachedl: stored %s (%d bytes) at %s", StripURLCredentials(key), n, p)
	return e, nil
}

// writeBlob streams r into a temp file beside p and renames it into place,
// so a blob at p is always complete.
func (c *Cache) writeBlob(p string, r io.Reader, want int64) (int64, error) {
	if err := c.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, err
	}
	tmp := p + ".tmp-" + uuid.NewString()
	f, err := c.fs.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && want >= 0 && n != want {
		err = ErrShortBody
	}
	if err != nil {
		_ = c.fs.Remove(tmp)
		return 0, err
	}
	if err := c.fs.Rename(tmp, p); err != nil {
		_ = c.fs.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// Open opens the cached blob of key for reading.
func (c *Cache) Open(ctx context.Context, key string) (afero.File, error) {
	e, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.fs.Open(e.Path)
}

// List returns every cached entry, most recently fetched first.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	return c.idx.List(ctx)
}

// Remove drops key's blob and index row. Removing an unknown key returns
// ErrNotCached.
func (c *Cache) Remove(ctx context.Context, key string) error {
	e, err := c.idx.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := c.fs.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return c.idx.Delete(ctx, key)
}

// Flush drops every blob and index row, returning the number of entries.
func (c *Cache) Flush(ctx context.Context) (int, error) {
	entries, err := c.idx.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := c.fs.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			c.log.Warning("cachedl: failed to remove blob %s: %v", e.Path, err)
		}
	}
	n, err := c.idx.Flush(ctx)
	return int(n), err
}

// Stats returns the number and total size of cached entries.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	count, bytes, err := c.idx.Totals(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entries: count, Bytes: bytes}, nil
}

// BlobPath is the fs-relative path a key's blob is stored at.
func BlobPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return path.Join(h[:2], h)
}
