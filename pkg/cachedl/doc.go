// Package cachedl is the cache-downloading function used behind the fetch
// scheduler: given a resource URL it returns a cached copy, fetching and
// storing it first when needed.
//
// Blobs live on an afero filesystem under a content-addressed path derived
// from the URL, and their metadata in a SQLite index. Misses are fetched over
// HTTP(S), FTP(S) or SFTP, throttled by a request rate limiter and retried
// with exponential backoff when the failure looks transient.
//
// # Usage
//
//	idx, err := cachedl.OpenIndex(filepath.Join(dir, "index.db"))
//	fs := afero.NewBasePathFs(afero.NewOsFs(), dir)
//	cache := cachedl.New(fs, idx, cachedl.Options{RateLimit: 20})
//	sched := fetchq.New(cache.Fetch)
package cachedl
