package common

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cuihairu/abmetrics/internal/analytics/mq"
	"github.com/cuihairu/abmetrics/internal/analytics/worker"
	"github.com/cuihairu/abmetrics/internal/objstore"
	"github.com/cuihairu/abmetrics/internal/telemetry"
	"github.com/cuihairu/abmetrics/internal/tlsutil"
)

// EnvPrefix prefixes environment overrides, e.g. ABMETRICS_WAREHOUSE_DSN.
const EnvPrefix = "ABMETRICS"

// WarehouseConfig selects where orders are read from and written to.
type WarehouseConfig struct {
	// Driver is clickhouse or sql (postgres/sqlite through gorm).
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Dataset string `mapstructure:"dataset"`
	Table   string `mapstructure:"table"`
	// TLS applies to the clickhouse driver.
	TLS tlsutil.Files `mapstructure:"tls"`
}

type ReportConfig struct {
	Plan        string `mapstructure:"plan"`
	Format      string `mapstructure:"format"`
	OutDir      string `mapstructure:"out_dir"`
	Concurrency int    `mapstructure:"concurrency"`
	// Prefix is the object key prefix when archiving to storage.
	Prefix string `mapstructure:"prefix"`
}

type IngestConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseChunks bool   `mapstructure:"use_chunks"`
	ChunkSize int    `mapstructure:"chunk_size"`
	// ManifestDSN enables skipping already loaded files (gorm DSN).
	ManifestDSN string `mapstructure:"manifest_dsn"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AuditConfig enables the run ledger when Path is set.
type AuditConfig struct {
	Path  string `mapstructure:"path"`
	Actor string `mapstructure:"actor"`
}

// Config is the whole abmetrics configuration.
type Config struct {
	Warehouse WarehouseConfig  `mapstructure:"warehouse"`
	Report    ReportConfig     `mapstructure:"report"`
	Ingest    IngestConfig     `mapstructure:"ingest"`
	Stream    worker.Config    `mapstructure:"stream"`
	Storage   objstore.Config  `mapstructure:"storage"`
	MQ        mq.Config        `mapstructure:"mq"`
	Log       LogConfig        `mapstructure:"log"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// SetDefaults registers every key so environment overrides resolve even
// when the config file omits them.
func SetDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"warehouse.driver":                   "sql",
		"warehouse.dsn":                      "",
		"warehouse.dataset":                  "gold",
		"warehouse.table":                    "sales",
		"warehouse.tls.enable":               false,
		"warehouse.tls.ca_file":              "",
		"warehouse.tls.cert_file":            "",
		"warehouse.tls.key_file":             "",
		"warehouse.tls.server_name":          "",
		"warehouse.tls.insecure_skip_verify": false,
		"report.plan":                        "",
		"report.format":                      "table",
		"report.out_dir":                     "",
		"report.concurrency":                 4,
		"report.prefix":                      "reports",
		"ingest.bucket":                      "file:///data/raw",
		"ingest.prefix":                      "sales_",
		"ingest.use_chunks":                  true,
		"ingest.chunk_size":                  1_000_000,
		"ingest.manifest_dsn":                "",
		"stream.redis_url":                   "redis://localhost:6379/0",
		"stream.stream":                      "abmetrics:sales",
		"stream.group":                       "abmetrics-loader",
		"stream.consumer":                    "",
		"stream.batch_size":                  500,
		"stream.flush_interval":              "15s",
		"stream.block":                       "2s",
		"storage.driver":                     "",
		"storage.bucket":                     "",
		"storage.region":                     "",
		"storage.endpoint":                   "",
		"storage.access_key":                 "",
		"storage.secret_key":                 "",
		"storage.force_path_style":           false,
		"storage.base_dir":                   "",
		"storage.signed_url_ttl":             "15m",
		"mq.type":                            "noop",
		"mq.brokers":                         []string{},
		"mq.topic":                           mq.DefaultTopic,
		"mq.redis_url":                       "",
		"mq.stream":                          mq.DefaultStream,
		"mq.max_len":                         mq.DefaultMaxLen,
		"mq.approx":                          true,
		"mq.timeout":                         "5s",
		"log.level":                          "info",
		"log.format":                         "console",
		"log.file":                           "",
		"log.max_size":                       100,
		"log.max_backups":                    7,
		"log.max_age":                        7,
		"log.compress":                       true,
		"audit.path":                         "",
		"audit.actor":                        "",
		"telemetry.service_name":             "abmetrics",
		"telemetry.service_version":          "",
		"telemetry.environment":              "development",
		"telemetry.collector_url":            "localhost:4318",
		"telemetry.enable_tracing":           false,
		"telemetry.enable_metrics":           false,
		"telemetry.sampling_ratio":           1.0,
		"telemetry.insecure":                 true,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// LoadWithIncludes reads base config and merges includes in order.
func LoadWithIncludes(base string, includes []string) (*viper.Viper, error) {
	v := viper.New()
	if base != "" {
		v.SetConfigFile(base)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	for _, inc := range includes {
		iv := viper.New()
		iv.SetConfigFile(inc)
		if err := iv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("include %s: %w", inc, err)
		}
		if err := v.MergeConfigMap(iv.AllSettings()); err != nil {
			return nil, fmt.Errorf("include %s: %w", inc, err)
		}
	}
	return v, nil
}

// mergeMaps recursively merges b into a.
func mergeMaps(a, b map[string]any) map[string]any {
	for k, vb := range b {
		if ma, ok := a[k].(map[string]any); ok {
			if mb, ok2 := vb.(map[string]any); ok2 {
				a[k] = mergeMaps(ma, mb)
				continue
			}
		}
		a[k] = vb
	}
	return a
}

// ApplyProfile overlays profiles.<name> on top of the root settings.
func ApplyProfile(v *viper.Viper, profile string) (*viper.Viper, error) {
	if profile == "" {
		return v, nil
	}
	prof := v.Sub("profiles")
	if prof == nil {
		return nil, fmt.Errorf("profiles not found in config")
	}
	p := prof.Sub(profile)
	if p == nil {
		return nil, fmt.Errorf("profile %s not found", profile)
	}
	settings := v.AllSettings()
	delete(settings, "profiles")
	nv := viper.New()
	if err := nv.MergeConfigMap(mergeMaps(settings, p.AllSettings())); err != nil {
		return nil, err
	}
	return nv, nil
}

// Load builds the effective viper: file, includes, profile, defaults and
// ABMETRICS_* environment overrides.
func Load(cfgFile string, includes []string, profile string) (*viper.Viper, error) {
	v, err := LoadWithIncludes(cfgFile, includes)
	if err != nil {
		return nil, err
	}
	if v, err = ApplyProfile(v, profile); err != nil {
		return nil, err
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Decode unmarshals the effective settings.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}
