package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/roostd/roost/internal/buildinfo"
	"github.com/roostd/roost/internal/config"
	"github.com/roostd/roost/internal/driver"
)

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	factory := driver.RegisteredFactory()
	if factory == nil {
		fmt.Fprintln(os.Stderr, "fatal: no upstream driver registered; the embedding service must call driver.RegisterFactory before starting roostd")
		os.Exit(1)
	}

	log.Printf("roostd %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
	if err := run(envCfg, factory); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)
}
