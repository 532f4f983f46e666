package main

import (
	"context"
	"os"

	"github.com/jiglab/jigbridge/internal/cli"
	"github.com/jiglab/jigbridge/internal/config"
)

func main() {
	cfg := config.DefaultConfig()
	r := cli.NewRunner(cfg.ListenAddr, os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}
