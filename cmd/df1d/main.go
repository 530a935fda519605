// Command df1d multiplexes a DF1 serial line across TCP clients keyed
// by node address (spec section 6). Usage:
//
//	df1d [-d] [-f] [-v] <config file>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdf1/df1/pkg/config"
	"github.com/abdf1/df1/pkg/scheduler"
)

const version = "1.0.0"

func main() {
	debug := flag.Bool("d", false, "enable debug logging")
	foreground := flag.Bool("f", false, "run in the foreground, logging to stderr")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("df1d", version)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	configPath := flag.Arg(0)

	logger := newLogger(*debug, *foreground)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if len(cfg.Connections) == 0 {
		logger.Error("config has no [connection.*] sections", "path", configPath)
		os.Exit(1)
	}

	svc := scheduler.New(logger)
	var channels []*serialChannel
	for _, cc := range cfg.Connections {
		channel, err := openSerialChannel(cc.Device, cc.Baud)
		if err != nil {
			logger.Error("failed to open serial device", "connection", cc.Name, "device", cc.Device, "err", err)
			closeAll(channels)
			os.Exit(1)
		}
		channels = append(channels, channel)

		listenAddr := fmt.Sprintf(":%d", cc.Port)
		if err := svc.AddConnection(cc.Name, channel, cc.LinkConfig(), listenAddr); err != nil {
			logger.Error("failed to register connection", "connection", cc.Name, "err", err)
			closeAll(channels)
			os.Exit(1)
		}
		logger.Info("connection configured", "connection", cc.Name, "device", cc.Device, "baud", cc.Baud, "listen", listenAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, reload is not yet implemented, continuing with current config")
			case syscall.SIGTERM, syscall.SIGINT:
				logger.Info("shutdown signal received", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	err = svc.Run(ctx)
	signal.Stop(sigCh)
	closeAll(channels)
	if err != nil && err != context.Canceled {
		logger.Error("scheduler stopped with error", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func closeAll(channels []*serialChannel) {
	for _, c := range channels {
		c.Close()
	}
}

func newLogger(debug, foreground bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	out := os.Stdout
	if foreground {
		out = os.Stderr
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-d] [-f] [-v] <config file>\n", os.Args[0])
	flag.PrintDefaults()
}
