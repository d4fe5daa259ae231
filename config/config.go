// Package config builds the explicit configuration structs both pipelines
// receive. Connection and storage settings come from an optional YAML file
// merged with CLI flags; nothing is read from process-wide mutable state
// after startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Database holds the relational store connection settings.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Charset  string
}

// DSN renders the go-sql-driver connection string. parseTime is required so
// DATETIME columns scan into time.Time.
func (d Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name, d.Charset)
}

// Ingest configures the relational ingestion pipeline.
type Ingest struct {
	SourceDir      string
	ScratchDir     string
	AttachmentsDir string
	BatchSize      int
	LogLevel       string
	LogDir         string
	IncludeHeader  []string
	IncludeBody    []string
	ExcludeHeader  []string
	ExcludeBody    []string
	DB             Database
}

// Extract configures the filesystem-only extraction pipeline.
type Extract struct {
	SourceDir string
	DestDir   string
	LogLevel  string
	LogDir    string
}

// RegisterIngestFlags attaches the ingest flags to the provided command.
func RegisterIngestFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("config", "", "Path to the YAML config file with database and storage settings")
	flags.String("scratch-dir", "", "Scratch directory for decoder output (default: <temp>/pst-ingest)")
	flags.String("attachments-dir", "", "Root directory for content-addressed attachment storage")
	flags.Int("batch-size", 50, "Messages per transaction commit")
	flags.String("db-host", "", "Database host")
	flags.Int("db-port", 0, "Database port")
	flags.String("db-user", "", "Database user")
	flags.String("db-pass", "", "Database password (falls back to DB_PASS env var)")
	flags.String("db-name", "", "Database name")
	flags.String("db-charset", "", "Database connection character set")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs to stdout only when empty)")
	flags.StringArray("include-header", nil, "Regex allow-list applied to raw message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to raw message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to raw message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to raw message bodies (mutually exclusive with include flags)")
}

// Report configures the reporting command.
type Report struct {
	Top       int
	OutputDir string
	DB        Database
}

// RegisterReportFlags attaches the report flags to the provided command.
func RegisterReportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("config", "", "Path to the YAML config file with database settings")
	flags.IntP("top", "t", 10, "Number of top identities to display")
	flags.StringP("output", "o", "", "Directory for CSV reports (none written when empty)")
	flags.String("db-host", "", "Database host")
	flags.Int("db-port", 0, "Database port")
	flags.String("db-user", "", "Database user")
	flags.String("db-pass", "", "Database password (falls back to DB_PASS env var)")
	flags.String("db-name", "", "Database name")
	flags.String("db-charset", "", "Database connection character set")
}

// LoadReport merges the config file, environment and flags into a Report
// config.
func LoadReport(cmd *cobra.Command) (Report, error) {
	flags := cmd.Flags()

	configFile, err := flags.GetString("config")
	if err != nil {
		return Report{}, err
	}

	v, err := readFile(configFile)
	if err != nil {
		return Report{}, err
	}

	cfg := Report{
		DB: Database{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
			Charset:  v.GetString("database.charset"),
		},
	}

	if cfg.Top, err = flags.GetInt("top"); err != nil {
		return Report{}, err
	}
	if cfg.OutputDir, err = flags.GetString("output"); err != nil {
		return Report{}, err
	}
	if s, err := flags.GetString("db-host"); err != nil {
		return Report{}, err
	} else if s != "" {
		cfg.DB.Host = s
	}
	if n, err := flags.GetInt("db-port"); err != nil {
		return Report{}, err
	} else if n != 0 {
		cfg.DB.Port = n
	}
	if s, err := flags.GetString("db-user"); err != nil {
		return Report{}, err
	} else if s != "" {
		cfg.DB.User = s
	}
	if s, err := flags.GetString("db-pass"); err != nil {
		return Report{}, err
	} else if s != "" {
		cfg.DB.Password = s
	}
	if s, err := flags.GetString("db-name"); err != nil {
		return Report{}, err
	} else if s != "" {
		cfg.DB.Name = s
	}
	if s, err := flags.GetString("db-charset"); err != nil {
		return Report{}, err
	} else if s != "" {
		cfg.DB.Charset = s
	}

	if cfg.DB.Password == "" {
		cfg.DB.Password = os.Getenv("DB_PASS")
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 3306
	}
	if cfg.DB.Charset == "" {
		cfg.DB.Charset = "utf8mb4"
	}

	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return Report{}, fmt.Errorf("database host, user and name must be configured")
	}
	if cfg.Top <= 0 {
		return Report{}, fmt.Errorf("--top must be positive")
	}
	return cfg, nil
}

// RegisterExtractFlags attaches the extract flags to the provided command.
func RegisterExtractFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs to stdout only when empty)")
}

// LoadIngest merges the config file, environment and flags into an Ingest
// config. args carries the positional source directory.
func LoadIngest(cmd *cobra.Command, args []string) (Ingest, error) {
	flags := cmd.Flags()

	configFile, err := flags.GetString("config")
	if err != nil {
		return Ingest{}, err
	}

	v, err := readFile(configFile)
	if err != nil {
		return Ingest{}, err
	}

	cfg := Ingest{
		SourceDir:      args[0],
		AttachmentsDir: v.GetString("storage.attachments_dir"),
		BatchSize:      50,
		DB: Database{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
			Charset:  v.GetString("database.charset"),
		},
	}

	if cfg.ScratchDir, err = flags.GetString("scratch-dir"); err != nil {
		return Ingest{}, err
	}
	if s, err := flags.GetString("attachments-dir"); err != nil {
		return Ingest{}, err
	} else if s != "" {
		cfg.AttachmentsDir = s
	}
	if n, err := flags.GetInt("batch-size"); err != nil {
		return Ingest{}, err
	} else if n > 0 {
		cfg.BatchSize = n
	}
	if s, err := flags.GetString("db-host"); err != nil {
		return Ingest{}, err
	} else if s != "" {
		cfg.DB.Host = s
	}
	if n, err := flags.GetInt("db-port"); err != nil {
		return Ingest{}, err
	} else if n != 0 {
		cfg.DB.Port = n
	}
	if s, err := flags.GetString("db-user"); err != nil {
		return Ingest{}, err
	} else if s != "" {
		cfg.DB.User = s
	}
	if s, err := flags.GetString("db-pass"); err != nil {
		return Ingest{}, err
	} else if s != "" {
		cfg.DB.Password = s
	}
	if s, err := flags.GetString("db-name"); err != nil {
		return Ingest{}, err
	} else if s != "" {
		cfg.DB.Name = s
	}
	if s, err := flags.GetString("db-charset"); err != nil {
		return Ingest{}, err
	} else if s != "" {
		cfg.DB.Charset = s
	}
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Ingest{}, err
	}
	if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
		return Ingest{}, err
	}
	if cfg.IncludeHeader, err = flags.GetStringArray("include-header"); err != nil {
		return Ingest{}, err
	}
	if cfg.IncludeBody, err = flags.GetStringArray("include-body"); err != nil {
		return Ingest{}, err
	}
	if cfg.ExcludeHeader, err = flags.GetStringArray("exclude-header"); err != nil {
		return Ingest{}, err
	}
	if cfg.ExcludeBody, err = flags.GetStringArray("exclude-body"); err != nil {
		return Ingest{}, err
	}

	if cfg.DB.Password == "" {
		cfg.DB.Password = os.Getenv("DB_PASS")
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 3306
	}
	if cfg.DB.Charset == "" {
		cfg.DB.Charset = "utf8mb4"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "pst-ingest")
	}
	cfg.LogLevel = normalizeLogLevel(cfg.LogLevel)

	if err := validateIngest(cfg); err != nil {
		return Ingest{}, err
	}
	return cfg, nil
}

// LoadExtract builds the Extract config. args carries the positional source
// and destination directories.
func LoadExtract(cmd *cobra.Command, args []string) (Extract, error) {
	flags := cmd.Flags()

	cfg := Extract{
		SourceDir: args[0],
		DestDir:   args[1],
	}

	var err error
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Extract{}, err
	}
	if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
		return Extract{}, err
	}
	cfg.LogLevel = normalizeLogLevel(cfg.LogLevel)

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return Extract{}, err
	}
	return cfg, nil
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func validateIngest(cfg Ingest) error {
	if cfg.SourceDir == "" {
		return fmt.Errorf("source directory is required")
	}
	if cfg.AttachmentsDir == "" {
		return fmt.Errorf("attachments directory must be set via --attachments-dir or storage.attachments_dir")
	}
	if cfg.DB.Host == "" {
		return fmt.Errorf("database host must be set via --db-host or database.host")
	}
	if cfg.DB.User == "" {
		return fmt.Errorf("database user must be set via --db-user or database.user")
	}
	if cfg.DB.Name == "" {
		return fmt.Errorf("database name must be set via --db-name or database.name")
	}
	if cfg.DB.Port <= 0 || cfg.DB.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	return validateLogLevel(cfg.LogLevel)
}

func normalizeLogLevel(level string) string {
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	return level
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid --log-level: %s", level)
	}
}
