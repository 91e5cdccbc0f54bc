// Package config loads genomicore settings from an optional YAML file and
// GENOMICORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"genomicore/internal/blob"
	"genomicore/internal/core"
	"genomicore/pkg/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// GENOMICORE_STORAGE_DRIVER.
const EnvPrefix = "GENOMICORE"

// LogConfig selects the logger.
type LogConfig struct {
	Level  string
	Format string
}

// IngestionConfig bounds ingestion batches.
type IngestionConfig struct {
	BatchSize int
	// FanOut dispatches one task per discovered file instead of ingesting inline.
	FanOut bool
}

// IncidentConfig tunes incident recording.
type IncidentConfig struct {
	DedupWindow       time.Duration
	SeverityThreshold int
}

// EmailConfig configures the relay used for site notifications.
type EmailConfig struct {
	RelayURL       string
	SiteRecipients map[string][]string
	CCRecipients   []string
}

// TaskConfig configures outbound task dispatch.
type TaskConfig struct {
	BaseURL string
	Queue   string
}

// ReconcileTarget is one bucket prefix listed by the data file reconciler.
type ReconcileTarget struct {
	Bucket     string
	Prefix     string
	GenomeType domain.GenomeType
}

// ReconcileConfig configures the reconciler.
type ReconcileConfig struct {
	Targets      []ReconcileTarget
	MissingAfter time.Duration
}

// CompilerConfig configures outbound manifest rendering.
type CompilerConfig struct {
	Bucket         string
	MaxRowsPerFile int
}

// ContaminationConfig holds the category thresholds.
type ContaminationConfig struct {
	NoExtractMax  float64
	ExtractWGSMax float64
}

// Source is the default bucket and subfolder scanned by an ingestion job.
type Source struct {
	Bucket    string
	Subfolder string
}

// Config is the fully resolved configuration.
type Config struct {
	Log           LogConfig
	Storage       core.StorageConfig
	Blob          blob.Config
	Ingestion     IngestionConfig
	Incidents     IncidentConfig
	Alerts        map[string]string
	Email         EmailConfig
	Tasks         TaskConfig
	Reconcile     ReconcileConfig
	Compiler      CompilerConfig
	Contamination ContaminationConfig
	Sources       map[domain.JobKind]Source
	Watermark     time.Time
	Tracing       bool
	ServerAddr    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", string(core.StorageSQLite))
	v.SetDefault("storage.sqlite_path", "genomicore.db")
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("ingestion.batch_size", 100)
	v.SetDefault("ingestion.fan_out", false)
	v.SetDefault("incidents.dedup_window", 7*24*time.Hour)
	v.SetDefault("incidents.severity_threshold", 1)
	v.SetDefault("tasks.queue", "resource-tasks")
	v.SetDefault("reconcile.missing_after", 0)
	v.SetDefault("compiler.bucket", "genomic-manifests")
	v.SetDefault("compiler.max_rows_per_file", 10000)
	v.SetDefault("contamination.no_extract_max", 0.01)
	v.SetDefault("contamination.extract_wgs_max", 0.03)
	v.SetDefault("watermark.default", "2020-01-01T00:00:00Z")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("server.addr", ":8080")
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (skipped when empty or missing) and resolves the config.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	return FromViper(v)
}

// FromViper resolves a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Log: LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
		Storage: core.StorageConfig{
			Driver:      core.StorageDriver(v.GetString("storage.driver")),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
			MySQLDSN:    v.GetString("storage.mysql_dsn"),
		},
		Blob: blob.Config{
			Driver: blob.Driver(v.GetString("blob.driver")),
			FSRoot: v.GetString("blob.fs_root"),
			S3: blob.S3Config{
				Region:          v.GetString("blob.s3.region"),
				Endpoint:        v.GetString("blob.s3.endpoint"),
				AccessKeyID:     v.GetString("blob.s3.access_key_id"),
				SecretAccessKey: v.GetString("blob.s3.secret_access_key"),
				PathStyle:       v.GetBool("blob.s3.path_style"),
			},
			Azure: blob.AzureConfig{ServiceURL: v.GetString("blob.azure.service_url")},
		},
		Ingestion: IngestionConfig{
			BatchSize: v.GetInt("ingestion.batch_size"),
			FanOut:    v.GetBool("ingestion.fan_out"),
		},
		Incidents: IncidentConfig{
			DedupWindow:       v.GetDuration("incidents.dedup_window"),
			SeverityThreshold: v.GetInt("incidents.severity_threshold"),
		},
		Alerts: map[string]string{},
		Email: EmailConfig{
			RelayURL:       v.GetString("email.relay_url"),
			SiteRecipients: v.GetStringMapStringSlice("email.site_recipients"),
			CCRecipients:   v.GetStringSlice("email.cc_recipients"),
		},
		Tasks: TaskConfig{BaseURL: v.GetString("tasks.base_url"), Queue: v.GetString("tasks.queue")},
		Reconcile: ReconcileConfig{
			MissingAfter: v.GetDuration("reconcile.missing_after"),
		},
		Compiler: CompilerConfig{
			Bucket:         v.GetString("compiler.bucket"),
			MaxRowsPerFile: v.GetInt("compiler.max_rows_per_file"),
		},
		Contamination: ContaminationConfig{
			NoExtractMax:  v.GetFloat64("contamination.no_extract_max"),
			ExtractWGSMax: v.GetFloat64("contamination.extract_wgs_max"),
		},
		Sources:    map[domain.JobKind]Source{},
		Tracing:    v.GetBool("tracing.enabled"),
		ServerAddr: v.GetString("server.addr"),
	}
	for ns := range v.GetStringMap("alerts") {
		if url := v.GetString("alerts." + ns + ".webhook_url"); url != "" {
			cfg.Alerts[ns] = url
		}
	}
	for job := range v.GetStringMap("sources") {
		cfg.Sources[domain.JobKind(job)] = Source{
			Bucket:    v.GetString("sources." + job + ".bucket"),
			Subfolder: v.GetString("sources." + job + ".subfolder"),
		}
	}
	targets, err := parseTargets(v.Get("reconcile.targets"))
	if err != nil {
		return Config{}, err
	}
	cfg.Reconcile.Targets = targets

	wm, err := time.Parse(time.RFC3339, v.GetString("watermark.default"))
	if err != nil {
		return Config{}, fmt.Errorf("watermark.default: %w", err)
	}
	cfg.Watermark = wm.UTC()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseTargets(raw any) ([]ReconcileTarget, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("reconcile.targets must be a list, got %T", raw)
	}
	out := make([]ReconcileTarget, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reconcile.targets[%d]: expected map, got %T", i, item)
		}
		t := ReconcileTarget{}
		t.Bucket, _ = m["bucket"].(string)
		t.Prefix, _ = m["prefix"].(string)
		gt, _ := m["genome_type"].(string)
		t.GenomeType = domain.GenomeType(strings.TrimSpace(gt))
		if t.Bucket == "" {
			return nil, fmt.Errorf("reconcile.targets[%d]: missing bucket", i)
		}
		if !t.GenomeType.Valid() {
			return nil, fmt.Errorf("reconcile.targets[%d]: unknown genome type %q", i, gt)
		}
		out = append(out, t)
	}
	return out, nil
}

// Validate checks the invariants the services rely on.
func (c Config) Validate() error {
	var problems []string
	if c.Ingestion.BatchSize <= 0 {
		problems = append(problems, "ingestion.batch_size must be positive")
	}
	if c.Compiler.MaxRowsPerFile <= 0 {
		problems = append(problems, "compiler.max_rows_per_file must be positive")
	}
	if c.Incidents.DedupWindow < 0 {
		problems = append(problems, "incidents.dedup_window must not be negative")
	}
	if c.Contamination.NoExtractMax < 0 || c.Contamination.ExtractWGSMax < c.Contamination.NoExtractMax {
		problems = append(problems, "contamination thresholds must satisfy 0 <= no_extract_max <= extract_wgs_max")
	}
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres, core.StorageMySQL:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}
