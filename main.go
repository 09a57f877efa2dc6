package main

import (
	"context"
	"flag"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/crate-audio/crate/internal"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Main")

// main loads the user configuration and runs the Crate server until an
// interrupt or termination signal arrives.
func main() {
	if err := godotenv.Load(); err == nil {
		log.Emit(logger.DEBUG, "Loaded environment overrides from .env\n")
	}

	defaultConfigPath := "config.yaml"
	if home, err := homedir.Dir(); err == nil {
		defaultConfigPath = filepath.Join(home, ".config", "crate", "config.yaml")
	}

	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	envOnly := flag.Bool("env-only", false, "skip the configuration file and configure from environment variables only")
	verbose := flag.Bool("verbose", false, "enable verbose logging output")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config := internal.CrateConfig{}
	if *envOnly {
		if err := config.LoadFromEnv(); err != nil {
			log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
			return
		}
	} else {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Crate stopped due to error: %v\n", err)
	}
}
