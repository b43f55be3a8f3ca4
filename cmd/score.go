package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/warpdl/gridfetch/cmd/common"
	"github.com/warpdl/gridfetch/pkg/visibility"
)

var scoreFlags = []cli.Flag{
	cli.Float64Flag{Name: "top", Usage: "element top edge in `PX`, relative to the viewport"},
	cli.Float64Flag{Name: "bottom", Usage: "element bottom edge in `PX`"},
	cli.Float64Flag{Name: "left", Usage: "element left edge in `PX`"},
	cli.Float64Flag{Name: "right", Usage: "element right edge in `PX` (default: left)"},
	cli.Float64Flag{Name: "height", Usage: "viewport height in `PX`"},
	cli.Float64Flag{Name: "width", Usage: "viewport width in `PX`"},
	cli.BoolFlag{Name: "intersecting", Usage: "the element overlaps the viewport"},
	cli.IntFlag{Name: "limit", Usage: "cap the score at `N` (default from config)"},
}

var errViewportSize = errors.New("viewport --height and --width must be positive")

type scoreInput struct {
	entry visibility.Entry
	limit int
}

func scoreInputFromFlags(ctx *cli.Context, defLimit int) (scoreInput, error) {
	in := scoreInput{
		entry: visibility.Entry{
			Intersecting: ctx.Bool("intersecting"),
			Bounds: visibility.Rect{
				Top:    ctx.Float64("top"),
				Bottom: ctx.Float64("bottom"),
				Left:   ctx.Float64("left"),
				Right:  ctx.Float64("right"),
			},
			Root: visibility.Viewport(ctx.Float64("width"), ctx.Float64("height")),
		},
		limit: defLimit,
	}
	if !ctx.IsSet("right") {
		in.entry.Bounds.Right = in.entry.Bounds.Left
	}
	if ctx.IsSet("limit") {
		in.limit = ctx.Int("limit")
	}
	if in.entry.Root.Bottom <= 0 || in.entry.Root.Right <= 0 {
		return scoreInput{}, errViewportSize
	}
	if in.entry.Bounds.Bottom < in.entry.Bounds.Top {
		return scoreInput{}, errors.New("--bottom must not be above --top")
	}
	return in, nil
}

func writeScore(w io.Writer, in scoreInput) int {
	sc := visibility.Score(in.entry, in.limit)
	fmt.Fprintf(w, "score: %d (distance %.0fpx, intersecting %t)\n",
		sc, visibility.Distance(in.entry.Bounds, in.entry.Root), in.entry.Intersecting)
	return sc
}

func score(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "score", "load_config", err)
		return err
	}
	in, err := scoreInputFromFlags(ctx, cfg.Scheduler.MaxScore)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	writeScore(os.Stdout, in)
	return nil
}
