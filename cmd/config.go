package cmd

const (
	DESCRIPTION = `
gridfetch fetches resources through a bounded-concurrency priority queue.
Requests for the same URL share one download, lower priorities go first,
and every result lands in a local content-addressed cache.
`

	FetchDescription = `Requests every target through one scheduler and waits
for them to settle. Targets are URLs, optionally suffixed with @PRIORITY
(lower is fetched earlier, default 0). A manifest file holds one target per
line, either "URL" or "PRIORITY URL"; blank lines and lines starting with #
are skipped.

Example:
        gridfetch fetch https://tiles.example/0/0/0.png@0 https://tiles.example/1/0/0.png@40
        gridfetch fetch --manifest tiles.txt
`

	ScoreDescription = `Computes the fetch priority of an element from its bounding
box and the viewport. Elements intersecting the viewport score 0, others
score their pixel distance from the nearest viewport edge, capped at the
limit.

Example:
        gridfetch score --top 1400 --bottom 1600 --height 900 --width 1200
`

	ServeDescription = `Runs the JSON-RPC server. Clients call fetch.request and
friends over HTTP at /jsonrpc or over WebSocket at /jsonrpc/ws, where
fetch.dispatched and fetch.settled notifications are pushed as well.
Requests must carry "Authorization: Bearer <secret>". Without --secret or a
configured one, a secret is generated and kept in the system keyring.

--listen takes host:port, unix:PATH for a unix socket readable only by its
owner, or npipe:NAME for a named pipe restricted to the current user on
windows.

Example:
        gridfetch serve --listen 127.0.0.1:7420
        gridfetch serve --listen unix:/run/user/1000/gridfetch.sock
`

	CacheListDescription = `Lists cached resources, most recently fetched first.

Example:
        gridfetch cache list
`

	CacheFlushDescription = `Removes every cached resource and its index entry.

Example:
        gridfetch cache flush --force
`
)
