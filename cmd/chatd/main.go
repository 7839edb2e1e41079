package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/itsamit108/chat-app/internal/config"
	"github.com/itsamit108/chat-app/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (default: <data dir>/config.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}

// loadConfig reads the config file, falling back to defaults when none
// exists yet. A missing file at the default location is not an error; a
// missing file named explicitly is.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(config.Default().DataDir, "config.toml")
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config %s: %w", path, err)
}
