// Package main provides the packmatic CLI entrypoint.
//
// Usage:
//
//	packmatic create [options] <manifest.yaml> [<manifest.yaml>...]
//
// Each manifest file describes one archive: its output path and the entries
// to encode into it. Multiple manifests are encoded concurrently.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is overridden via ldflags at build time.
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "packmatic",
		Usage:   "stream ZIP64 archives from manifest files",
		Version: version,
		Commands: []*cli.Command{
			createCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
