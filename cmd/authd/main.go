// Command authd serves token issuance, credential management and policy
// decisions over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/SandraRGdev/wp-api-codeia-sub001/config"
	"github.com/SandraRGdev/wp-api-codeia-sub001/internal/server"
	"github.com/SandraRGdev/wp-api-codeia-sub001/secret"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("AUTHD_CONFIG"), "Path to the YAML configuration (or set AUTHD_CONFIG)")
	watch := flag.Bool("watch", true, "Reload the role policy when the configuration file changes")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	var resolver *secret.Resolver
	opts := server.Options{}
	if *configPath != "" {
		resolver = secret.Default(filepath.Dir(*configPath))
		loaded, err := config.Load(ctx, *configPath, resolver)
		if err != nil {
			return err
		}
		cfg = loaded
		if *watch {
			opts.ConfigPath = *configPath
			opts.Resolver = resolver
		}
	}

	app, err := server.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
