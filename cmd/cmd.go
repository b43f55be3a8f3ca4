package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/warpdl/gridfetch/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "load configuration from `FILE` (default $GRIDFETCH_CONFIG)",
	},
	cli.StringFlag{
		Name:  "cache-dir",
		Usage: "store cached resources under `DIR`",
	},
	cli.IntFlag{
		Name:  "max-concurrent, m",
		Usage: "run at most `N` downloads at once",
	},
	cli.BoolFlag{
		Name:  "debug",
		Usage: "log scheduler and cache diagnostics to stderr",
	},
}

func Execute(args []string, bArgs BuildArgs) error {
	app := newApp(bArgs)
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name, app.Version, runtime.GOOS, runtime.GOARCH, bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}

func newApp(bArgs BuildArgs) *cli.App {
	return &cli.App{
		Name:                  "gridfetch",
		HelpName:              "gridfetch",
		Usage:                 "A priority-aware resource fetcher.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "gridfetch [global options] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Metadata:              map[string]interface{}{buildArgsKey: bArgs},
		Commands: []cli.Command{
			{
				Name:                   "fetch",
				Aliases:                []string{"f"},
				Usage:                  "fetch resources in priority order",
				UsageText:              "[--manifest FILE] [URL[@PRIORITY]...]",
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				Action:                 fetch,
				Flags:                  fetchFlags,
				UseShortOptionHandling: true,
				Description:            FetchDescription,
			},
			{
				Name:               "score",
				Usage:              "compute the visibility priority of an element",
				UsageText:          "--top T --bottom B --height H --width W [--left L --right R] [--intersecting]",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             score,
				Flags:              scoreFlags,
				Description:        ScoreDescription,
			},
			{
				Name:               "serve",
				Usage:              "run the JSON-RPC fetch server",
				UsageText:          "[--listen ADDR] [--secret SECRET]",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             serve,
				Flags:              serveFlags,
				Description:        ServeDescription,
			},
			{
				Name:  "cache",
				Usage: "inspect or clear the local cache",
				Subcommands: []cli.Command{
					{
						Name:               "list",
						Aliases:            []string{"l"},
						Usage:              "list cached resources",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             cacheList,
						Description:        CacheListDescription,
					},
					{
						Name:               "flush",
						Usage:              "remove every cached resource",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             cacheFlush,
						Flags:              flushFlags,
						Description:        CacheFlushDescription,
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "prints installed version of gridfetch",
				Action:  common.GetVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
}
