package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mkixlab/mkxi/pkg/bridge"
	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	goVersion string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return fmt.Sprintf("mkxi %s (%s)", v, goVer)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(formatVersion())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := bridge.Run(ctx, cfg); err != nil && ctx.Err() == nil {
		logger.ErrorCF("main", "Bridge stopped", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.InfoC("main", "Shutdown complete")
}
