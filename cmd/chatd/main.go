package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linechat/internal/app"
	"linechat/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (.json, .yaml or .yml)")
	flag.Parse()

	// Used until the app's configured logger exists, and for fatal exits.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("load failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(context.Background()); err != nil {
		boot.Error("start failed", logx.Err(err))
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		boot.Error("stopped on fatal error", logx.Err(err))
		os.Exit(1)
	}
}
