package main

import (
	"log/slog"
	"os"

	"github.com/lab47/dbs/cli"
	"github.com/lab47/dbs/version"
)

func main() {
	log := slog.Default()

	if os.Getenv("DBS_DEBUG") != "" {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	c, err := cli.NewCLI(log, version.GetInfo().Version, os.Args[1:])
	if err != nil {
		log.Error("error creating CLI", "error", err)
		os.Exit(1)
		return
	}

	code, err := c.Run()
	if err != nil {
		log.Error("error running CLI", "error", err)
		os.Exit(1)
	}

	os.Exit(code)
}
