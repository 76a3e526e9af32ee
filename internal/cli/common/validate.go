package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuihairu/abmetrics/internal/analytics/report"
	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
	"github.com/cuihairu/abmetrics/internal/objstore"
	"github.com/cuihairu/abmetrics/internal/tlsutil"
)

func fileExists(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

// ValidateWarehouse checks the warehouse section.
func ValidateWarehouse(c WarehouseConfig) error {
	switch strings.ToLower(c.Driver) {
	case "clickhouse":
		if c.DSN == "" {
			return fmt.Errorf("dsn required for clickhouse driver")
		}
	case "sql", "":
	default:
		return fmt.Errorf("unknown warehouse driver: %s", c.Driver)
	}
	return warehouse.Destination{Dataset: c.Dataset, Table: c.Table}.Validate()
}

// ValidateConfig checks every section. strict also requires the optional
// plan file and storage settings to be usable.
func ValidateConfig(c *Config, strict bool) error {
	if err := ValidateWarehouse(c.Warehouse); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	if strict {
		if _, err := tlsutil.ClientConfig(c.Warehouse.TLS); err != nil {
			return fmt.Errorf("warehouse.tls: %w", err)
		}
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report.format: %w", err)
	}
	if c.Report.Plan != "" {
		if err := fileExists(c.Report.Plan); err != nil {
			return fmt.Errorf("report.plan: %w", err)
		}
		if strict {
			if _, err := report.LoadPlan(c.Report.Plan); err != nil {
				return fmt.Errorf("report.plan: %w", err)
			}
		}
	}
	if c.Storage.Driver != "" {
		if err := objstore.Validate(c.Storage); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	switch strings.ToLower(c.MQ.Type) {
	case "", "noop", "redis":
	case "kafka":
		if len(c.MQ.Brokers) == 0 {
			return fmt.Errorf("mq: kafka requires brokers")
		}
	default:
		return fmt.Errorf("mq: unsupported type %q", c.MQ.Type)
	}
	if c.Ingest.UseChunks && c.Ingest.ChunkSize < 0 {
		return fmt.Errorf("ingest.chunk_size must not be negative")
	}
	return nil
}
