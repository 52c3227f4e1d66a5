package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/injector"
)

const Version = "0.1.0"

const usage = `Tree synchronization server.

Keeps server-side component trees and streams incremental state
messages to connected clients over HTTP and WebSocket push.

Usage:
    treesync serve [--config=<path>] [--addr=<addr>] [--catalog=<path>]
        [--store=<path>] [--static=<dir>] [--log-level=<level>]
        [--production]
    treesync -h | --help
    treesync --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    -c --config=<path>     Load a JSON or YAML configuration file.
    --addr=<addr>          Listen address, overrides the configured one.
    --catalog=<path>       Component catalog loaded at startup.
    --store=<path>         Session checkpoint database path.
    --static=<dir>         Directory served under /static/.
    --log-level=<level>    One of debug, info, warn, error.
    --production           Chunk dependencies along inheritance chains.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		if err := serve(opts); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}
}

func serve(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	srv, cleanup, err := injector.BuildServer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := srv.Start(context.Background()); err != nil {
		return err
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Stop(ctx)
}

// loadConfig layers the command line over the configuration file, if
// any, over the defaults.
func loadConfig(opts docopt.Opts) (*config.Config, error) {
	cfg := config.Default()
	if pathAny := opts["--config"]; pathAny != nil {
		loaded, err := config.LoadFile(pathAny.(string))
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if addrAny := opts["--addr"]; addrAny != nil {
		cfg.Addr = addrAny.(string)
	}
	if catalogAny := opts["--catalog"]; catalogAny != nil {
		cfg.CatalogPath = catalogAny.(string)
	}
	if storeAny := opts["--store"]; storeAny != nil {
		cfg.StorePath = storeAny.(string)
	}
	if staticAny := opts["--static"]; staticAny != nil {
		cfg.StaticDir = staticAny.(string)
	}
	if levelAny := opts["--log-level"]; levelAny != nil {
		cfg.LogLevel = levelAny.(string)
	}
	if production, _ := opts.Bool("--production"); production {
		cfg.ProductionMode = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
