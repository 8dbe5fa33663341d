package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gmsas95/pillpal/internal/app"
	"github.com/gmsas95/pillpal/internal/cli"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/store"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	debug      = flag.Bool("debug", false, "Development logging")
	version    = "dev"
)

func main() {
	cli.Version = version

	// global flags come before the subcommand and its own flags
	flag.Parse()
	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "help", "--help", "-h":
		cli.PrintHelp(os.Stdout)
		return
	case "version", "--version", "-v":
		fmt.Printf("PillPal version %s\n", version)
		return
	}

	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := config.LoadEnvFiles(); err != nil {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	switch command {
	case "status":
		cli.HandleStatusCommand(cfg, os.Stdout)
		return
	}

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.Close()

	application := app.New(cfg, st, logger, version)
	application.ConfigPath = *configPath
	if application.ConfigPath == "" {
		application.ConfigPath = filepath.Join(cfg.Storage.DataDir, "pillpal.yaml")
	}

	switch command {
	case "serve":
		logger.Info("Starting PillPal", zap.String("version", version))
		if err := application.RunServer(); err != nil {
			logger.Error("Server stopped", zap.Error(err))
		}
	case "resync":
		err = cli.HandleResyncCommand(args, application, os.Stdout)
	case "report":
		err = cli.HandleReportCommand(args, application, os.Stdout)
	default:
		err = fmt.Errorf("unknown command %q, run 'pillpal help'", command)
	}

	if err != nil {
		st.Close()
		exitOnError(err)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
