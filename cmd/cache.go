package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/warpdl/gridfetch/cmd/common"
	"github.com/warpdl/gridfetch/pkg/cachedl"
)

var forceFlush bool

var flushFlags = []cli.Flag{
	cli.BoolFlag{
		Name:        "force, f",
		Usage:       "flush without asking for confirmation",
		Destination: &forceFlush,
	},
}

func cacheList(ctx *cli.Context) error {
	s, err := openSession(ctx, nil)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cache-list", "open_cache", err)
		return err
	}
	defer s.Close()
	return writeCacheList(context.Background(), os.Stdout, s.cache, time.Now())
}

func writeCacheList(ctx context.Context, w io.Writer, c *cachedl.Cache, now time.Time) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "cache is empty")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tFETCHED\tTYPE\tURL")
	var total int64
	for _, e := range entries {
		total += e.Size
		ct := e.ContentType
		if ct == "" {
			ct = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			humanize.Bytes(uint64(e.Size)),
			humanize.RelTime(e.FetchedAt, now, "ago", "from now"),
			ct,
			common.Truncate(cachedl.StripURLCredentials(e.Key), 80),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d entries, %s\n", len(entries), humanize.Bytes(uint64(total)))
	return nil
}

func cacheFlush(ctx *cli.Context) error {
	s, err := openSession(ctx, nil)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cache-flush", "open_cache", err)
		return err
	}
	defer s.Close()
	if !confirm(os.Stdin, os.Stdout, "Remove every cached resource?", forceFlush) {
		fmt.Println("flush aborted")
		return nil
	}
	n, err := s.cache.Flush(context.Background())
	if err != nil {
		common.PrintRuntimeErr(ctx, "cache-flush", "flush", err)
		return err
	}
	fmt.Printf("removed %d cached resource(s)\n", n)
	return nil
}
