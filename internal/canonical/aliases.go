// Package canonical maps raw source records onto the fixed bronze column set
// and computes their deterministic content hash.
//
// Different source exports name the same column differently ("CustomerID",
// "Customer ID", "customer_id"), breaking dedup and lineage if taken at face
// value. This package provides a case-insensitive alias table mapping
// source-provided header variants onto canonical field names, with optional
// overrides loaded from a YAML config file.
package canonical

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bronzeline-io/bronzeline/internal/config"
)

// Canonical source field names, in hash and storage order.
const (
	FieldInvoice     = "invoice"
	FieldStockCode   = "stock_code"
	FieldDescription = "description"
	FieldQuantity    = "quantity"
	FieldInvoiceDate = "invoice_date"
	FieldUnitPrice   = "unit_price"
	FieldCustomerID  = "customer_id"
	FieldCountry     = "country"
)

// DefaultConfigPath is the default location for the bronzeline configuration file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".bronzeline.yaml"

// ConfigPathEnvVar is the environment variable name for custom config path.
const ConfigPathEnvVar = "BRONZELINE_CONFIG_PATH"

// Fields returns the canonical source fields in their fixed order.
// This order defines both the hash input sequence and the storage column order.
func Fields() []string {
	return []string{
		FieldInvoice,
		FieldStockCode,
		FieldDescription,
		FieldQuantity,
		FieldInvoiceDate,
		FieldUnitPrice,
		FieldCustomerID,
		FieldCountry,
	}
}

// AliasConfig holds column alias configuration loaded from .bronzeline.yaml.
type AliasConfig struct {
	// ColumnAliases maps canonical field names to additional source header
	// variants. Matching is case-insensitive; entries extend (never replace)
	// the built-in alias table.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	ColumnAliases map[string][]string `yaml:"column_aliases"`
}

// defaultAliases is the built-in alias table covering the header variants seen
// across UCI retail exports.
func defaultAliases() map[string][]string {
	return map[string][]string{
		FieldInvoice:     {"invoice", "invoiceno", "invoice no"},
		FieldStockCode:   {"stock_code", "stockcode", "stock code"},
		FieldDescription: {"description"},
		FieldQuantity:    {"quantity"},
		FieldInvoiceDate: {"invoice_date", "invoicedate", "invoice date"},
		FieldUnitPrice:   {"unit_price", "unitprice", "unit price", "price"},
		FieldCustomerID:  {"customer_id", "customerid", "customer id"},
		FieldCountry:     {"country"},
	}
}

// LoadAliasConfig loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures ingestion can run even without a config
// file, since the built-in alias table covers the known exports.
func LoadAliasConfig(path string) (*AliasConfig, error) {
	cfg := &AliasConfig{
		ColumnAliases: make(map[string][]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing with built-in aliases",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, continuing with built-in aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, continuing with built-in aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &AliasConfig{ColumnAliases: make(map[string][]string)}, nil
	}

	if cfg.ColumnAliases == nil {
		cfg.ColumnAliases = make(map[string][]string)
	}

	return cfg, nil
}

// LoadAliasConfigFromEnv loads config from the path in BRONZELINE_CONFIG_PATH,
// falling back to ".bronzeline.yaml" in the current directory.
func LoadAliasConfigFromEnv() (*AliasConfig, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadAliasConfig(path)
}

// Resolver resolves source column headers to canonical field names.
// Thread-safe for concurrent use (immutable after construction).
type Resolver struct {
	// variants maps each canonical field to its lowercase header variants,
	// built-ins first, config additions after. Order matters: when a source
	// row carries several headers that alias the same canonical field, the
	// earliest variant wins.
	variants map[string][]string
}

// NewResolver builds a resolver from the built-in alias table extended by cfg.
// A nil cfg yields the built-in table only. Aliases for unknown canonical
// fields are skipped with a warning.
func NewResolver(cfg *AliasConfig) *Resolver {
	variants := defaultAliases()

	if cfg != nil {
		for field, extra := range cfg.ColumnAliases {
			if _, known := variants[field]; !known {
				slog.Warn("Skipping aliases for unknown canonical field",
					slog.String("field", field))

				continue
			}

			for _, alias := range extra {
				alias = strings.ToLower(strings.TrimSpace(alias))
				if alias != "" {
					variants[field] = append(variants[field], alias)
				}
			}
		}
	}

	return &Resolver{variants: variants}
}

// Variants returns the lowercase header variants for a canonical field.
func (r *Resolver) Variants(field string) []string {
	return r.variants[field]
}
