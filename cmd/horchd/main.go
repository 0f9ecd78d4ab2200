package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/horchlabs/horch/pkg/capture"
	"github.com/horchlabs/horch/pkg/horch"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	envFile := flag.String("env", ".env", "path to an optional env file")
	listDevices := flag.Bool("list-devices", false, "print capture devices and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
	}

	if *listDevices {
		devices, err := capture.ListCaptureDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list devices: %v\n", err)
			os.Exit(1)
		}
		for i, name := range devices {
			fmt.Printf("%d: %s\n", i, name)
		}
		return
	}

	cfg, err := horch.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	transport, err := horch.BuildTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build transport: %v\n", err)
		os.Exit(1)
	}

	app, err := horch.NewEngine(horch.EngineOptions{
		Config:    cfg,
		Transport: transport,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		slog.Error("engine_start_failed", "error", err.Error())
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	_ = app.Stop()
}
