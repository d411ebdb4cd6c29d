package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/classmap/api"
	"github.com/agentic-research/classmap/internal/config"
	"github.com/agentic-research/classmap/internal/engine"
)

// Version is stamped at build time.
var Version = "dev"

var (
	envFile     string
	dbPath      string
	logLevel    string
	validateSQL bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Env file to load instead of ./.env")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database (overrides CLASSMAP_DB)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides CLASSMAP_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&validateSQL, "validate-sql", false, "Lint generated SQL (overrides CLASSMAP_VALIDATE_SQL)")
}

var rootCmd = &cobra.Command{
	Use:           "classmap",
	Short:         "Map class hierarchies onto SQLite tables",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the env file, the environment and the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.LoadFile(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("validate-sql") {
		cfg.ValidateSQL = validateSQL
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

// openEngine loads configuration and opens the engine it names.
func openEngine(cmd *cobra.Command) (*engine.Engine, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := newLogger(cfg)
	eng, err := engine.Open(cmd.Context(), cfg, engine.WithLogger(log))
	if err != nil {
		return nil, log, err
	}
	return eng, log, nil
}

// openMemory opens a throwaway engine with the schema file imported.
func openMemory(ctx context.Context, path string) (*engine.Engine, error) {
	doc, err := loadSchema(path)
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(ctx, &config.Config{DBPath: ":memory:", LogLevel: "warn"})
	if err != nil {
		return nil, err
	}
	if _, err := eng.ImportSchema(ctx, &doc.Schema); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return eng, nil
}

func loadSchema(path string) (*api.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return api.Load(osfs.New(filepath.Dir(abs)), filepath.Base(abs))
}
