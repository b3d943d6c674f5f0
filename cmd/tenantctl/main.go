package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/cli"
	"github.com/agentmitra/tenancy/pkg/config"
	"github.com/agentmitra/tenancy/pkg/observability"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tenantctl [-log-level LEVEL] <command> [args]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := setupLogger(*logLevel)
	env := &cli.Env{
		Out:    os.Stdout,
		Logger: logger,
		Actor:  os.Getenv("USER"),
		Open: func() (*app.App, error) {
			cfg, err := config.LoadConfig()
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			// Component logs stay quiet unless debugging; command output goes through logrus.
			level := observability.ErrorLevel
			if logger.IsLevelEnabled(logrus.DebugLevel) {
				level = observability.DebugLevel
			}
			return app.New(cfg, observability.NewLogger(level, os.Stderr))
		},
	}

	if err := cli.NewRootCommand(env).Execute(flag.Args()); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			logger.Error(err)
		}
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
