package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/warpdl/gridfetch/cmd/common"
	"github.com/warpdl/gridfetch/internal/server"
	"github.com/warpdl/gridfetch/pkg/fetchq"
)

var (
	listenAddr string
	rpcSecret  string
	logFile    string
)

var serveFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "listen, l",
		Usage:       "listen on `ADDR`: host:port, unix:PATH or npipe:NAME (default from config)",
		Destination: &listenAddr,
	},
	cli.StringFlag{
		Name:        "secret",
		Usage:       "require `SECRET` as the Bearer token",
		EnvVar:      "GRIDFETCH_RPC_SECRET",
		Destination: &rpcSecret,
	},
	cli.StringFlag{
		Name:        "log-file",
		Usage:       "also append logs to `FILE`",
		Destination: &logFile,
	},
}

func serve(ctx *cli.Context) error {
	l, err := openLogFile(logFile, ctx.GlobalBool("debug"))
	if err != nil {
		common.PrintRuntimeErr(ctx, "serve", "open_log", err)
		return err
	}
	s, err := openSession(ctx, l)
	if err != nil {
		l.Close()
		common.PrintRuntimeErr(ctx, "serve", "open_cache", err)
		return err
	}
	defer s.Close()

	if listenAddr != "" {
		s.cfg.Server.Listen = listenAddr
	}
	secret, err := s.cfg.ResolveSecret(rpcSecret)
	if err != nil {
		common.PrintRuntimeErr(ctx, "serve", "resolve_secret", err)
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, _ := ctx.App.Metadata[buildArgsKey].(BuildArgs)
	return runServer(sigCtx, s, server.RPCConfig{
		Secret:    secret,
		MaxScore:  s.cfg.Scheduler.MaxScore,
		Version:   b.Version,
		Commit:    b.Commit,
		BuildType: b.BuildType,
	}, nil)
}

// runServer serves the RPC API until ctx is done. ready, if not nil, is
// closed once the listener is bound.
func runServer(ctx context.Context, s *session, rc server.RPCConfig, ready chan<- struct{}) error {
	notifier := server.NewRPCNotifier(s.log)
	sched := fetchq.New(s.cache.Fetch, s.schedulerOptions(
		fetchq.WithDispatchHook(notifier.OnDispatch),
		fetchq.WithSettleHook(notifier.OnSettle),
	)...)
	defer sched.Close()

	rpc := server.NewRPCServer(&rc, sched, s.cache, notifier, s.log)
	srv := server.NewServer(s.log, rpc, s.cfg.Server.Listen)
	s.log.Debug("serve: scheduler allows %d concurrent fetches", s.cfg.Scheduler.MaxConcurrent)
	return srv.Start(ctx, ready)
}
