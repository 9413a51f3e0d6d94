package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/config"
	"github.com/bronzeline-io/bronzeline/internal/extract"
)

// Default quality gate thresholds, matching the historical ingestion config
// for the UCI retail dataset.
const (
	defaultMinRecords   = 100
	defaultMaxNullRate  = 0.10
	defaultMaxUnitPrice = 10000
)

// dateLayouts are tried in order when parsing invoice dates. Source exports
// are inconsistent: ISO timestamps, bare dates, and US-style slash dates all
// occur in the wild.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"1/2/2006 15:04",
	"01/02/2006 15:04",
	"1/2/06 15:04",
}

type (
	// ValidationConfig holds the quality gate thresholds.
	ValidationConfig struct {
		// MinRecords below which the extract is rejected (blocking).
		MinRecords int

		// MaxNullRate is the per-column null fraction above which a warning
		// is raised.
		MaxNullRate float64

		// MaxUnitPrice is the price ceiling above which a warning is raised.
		MaxUnitPrice float64

		// DateRangeStart / DateRangeEnd bound the plausible invoice date
		// window; dates outside it raise a warning.
		DateRangeStart time.Time
		DateRangeEnd   time.Time

		// RequiredFields are canonical field names that must be present in
		// the source header (matched case-insensitively through the alias
		// table). Missing fields are a blocking issue.
		RequiredFields []string
	}

	// ValidationResult is produced once per extraction and never mutated.
	// IsValid is false iff Issues is non-empty.
	ValidationResult struct {
		IsValid  bool
		Issues   []string
		Warnings []string
		Metrics  map[string]any
	}

	// Validator applies the quality gates to extracted records.
	//
	// Blocking vs. warning separation is deliberate: operationally noisy but
	// legitimate data (returns encoded as negative quantity, missing customer
	// identifiers) flows through, while truly unusable extracts (wrong
	// schema, too few rows) are rejected before any write attempt.
	Validator struct {
		cfg      ValidationConfig
		resolver *canonical.Resolver
		logger   *slog.Logger
	}
)

// DefaultValidationConfig returns the standard thresholds for retail extracts.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MinRecords:     defaultMinRecords,
		MaxNullRate:    defaultMaxNullRate,
		MaxUnitPrice:   defaultMaxUnitPrice,
		DateRangeStart: time.Date(2009, time.January, 1, 0, 0, 0, 0, time.UTC),
		DateRangeEnd:   time.Date(2012, time.December, 31, 23, 59, 59, 0, time.UTC),
		RequiredFields: []string{
			canonical.FieldInvoice,
			canonical.FieldStockCode,
			canonical.FieldQuantity,
			canonical.FieldInvoiceDate,
			canonical.FieldUnitPrice,
			canonical.FieldCountry,
		},
	}
}

// LoadValidationConfig loads thresholds from environment variables with
// fallback to the defaults.
func LoadValidationConfig() ValidationConfig {
	cfg := DefaultValidationConfig()
	cfg.MinRecords = config.GetEnvInt("BRONZE_MIN_RECORDS", cfg.MinRecords)
	cfg.MaxNullRate = config.GetEnvFloat("BRONZE_MAX_NULL_RATE", cfg.MaxNullRate)
	cfg.MaxUnitPrice = config.GetEnvFloat("BRONZE_MAX_UNIT_PRICE", cfg.MaxUnitPrice)

	return cfg
}

// NewValidator creates a Validator. A nil resolver falls back to the built-in
// alias table; a nil logger falls back to slog.Default().
func NewValidator(cfg ValidationConfig, resolver *canonical.Resolver, logger *slog.Logger) *Validator {
	if resolver == nil {
		resolver = canonical.NewResolver(nil)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Validator{cfg: cfg, resolver: resolver, logger: logger}
}

// Validate applies the quality gates in order. Each check contributes to
// Issues (blocking) or Warnings (advisory); the orchestrator aborts the run
// iff IsValid is false.
func (v *Validator) Validate(records []extract.Record) *ValidationResult {
	result := &ValidationResult{
		Metrics: make(map[string]any),
	}

	columns := collectColumns(records)

	// 1. Minimum record count (blocking).
	if len(records) < v.cfg.MinRecords {
		result.Issues = append(result.Issues,
			fmt.Sprintf("insufficient records: %d < %d", len(records), v.cfg.MinRecords))
	}

	// 2. Required column presence (blocking).
	if missing := v.missingRequired(columns); len(missing) > 0 {
		result.Issues = append(result.Issues,
			fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")))
	}

	// 3. Null rate per column (warning).
	v.checkNullRates(records, columns, result)

	// 4. Value ranges: unit price and quantity (warnings).
	v.checkValueRanges(records, result)

	// 5. Date range plausibility (warning).
	v.checkDateRange(records, result)

	// Profiling metrics beyond the gates, kept for the audit summary.
	v.collectMetrics(records, result)

	result.IsValid = len(result.Issues) == 0

	v.logger.Info("validation complete",
		slog.Bool("is_valid", result.IsValid),
		slog.Int("records", len(records)),
		slog.Int("issues", len(result.Issues)),
		slog.Int("warnings", len(result.Warnings)),
	)

	return result
}

// collectColumns returns the union of source column names across all records,
// lowercased for case-insensitive matching.
func collectColumns(records []extract.Record) map[string]struct{} {
	columns := make(map[string]struct{})

	for _, record := range records {
		for name := range record {
			columns[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
		}
	}

	return columns
}

// missingRequired returns the required canonical fields for which no alias
// variant appears in the source header.
func (v *Validator) missingRequired(columns map[string]struct{}) []string {
	var missing []string

	for _, field := range v.cfg.RequiredFields {
		found := false

		for _, variant := range v.resolver.Variants(field) {
			if _, ok := columns[variant]; ok {
				found = true

				break
			}
		}

		if !found {
			missing = append(missing, field)
		}
	}

	return missing
}

func (v *Validator) checkNullRates(
	records []extract.Record,
	columns map[string]struct{},
	result *ValidationResult,
) {
	if len(records) == 0 {
		return
	}

	nullRates := make(map[string]float64, len(columns))

	for column := range columns {
		nulls := 0

		for _, record := range records {
			if v.fieldValue(record, column) == "" {
				nulls++
			}
		}

		rate := float64(nulls) / float64(len(records))
		nullRates[column] = rate

		if rate > v.cfg.MaxNullRate {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("high null rate in %s: %.1f%%", column, rate*100))
		}
	}

	result.Metrics["null_rates"] = nullRates
}

func (v *Validator) checkValueRanges(records []extract.Record, result *ValidationResult) {
	var (
		negativePrices int
		zeroQuantities int
		maxPrice       float64
		maxPriceSeen   bool
	)

	for _, record := range records {
		if raw := v.lookupField(record, canonical.FieldUnitPrice); raw != "" {
			if price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				if price < 0 {
					negativePrices++
				}

				if !maxPriceSeen || price > maxPrice {
					maxPrice = price
					maxPriceSeen = true
				}
			}
		}

		if raw := v.lookupField(record, canonical.FieldQuantity); raw != "" {
			if qty, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && qty == 0 {
				zeroQuantities++
			}
		}
	}

	if negativePrices > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("found %d records with negative prices", negativePrices))
	}

	if maxPriceSeen && maxPrice > v.cfg.MaxUnitPrice {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("unusually high price detected: %.2f", maxPrice))
	}

	if zeroQuantities > 0 {
		// Advisory only: zero-quantity rows are valid business events such
		// as stock adjustments.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("found %d records with zero quantity", zeroQuantities))
	}
}

func (v *Validator) checkDateRange(records []extract.Record, result *ValidationResult) {
	var (
		minDate, maxDate time.Time
		parsed           int
	)

	for _, record := range records {
		raw := v.lookupField(record, canonical.FieldInvoiceDate)
		if raw == "" {
			continue
		}

		date, ok := parseDate(raw)
		if !ok {
			continue
		}

		if parsed == 0 || date.Before(minDate) {
			minDate = date
		}

		if parsed == 0 || date.After(maxDate) {
			maxDate = date
		}

		parsed++
	}

	if parsed == 0 {
		return
	}

	result.Metrics["date_range"] = map[string]string{
		"min_date": minDate.Format(time.RFC3339),
		"max_date": maxDate.Format(time.RFC3339),
	}

	if minDate.Before(v.cfg.DateRangeStart) || maxDate.After(v.cfg.DateRangeEnd) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("dates outside expected range: %s to %s",
				minDate.Format("2006-01-02"), maxDate.Format("2006-01-02")))
	}
}

// collectMetrics adds profiling statistics that annotate the run summary:
// unique entity counts and total revenue.
func (v *Validator) collectMetrics(records []extract.Record, result *ValidationResult) {
	uniqueInvoices := make(map[string]struct{})
	uniqueProducts := make(map[string]struct{})
	uniqueCustomers := make(map[string]struct{})
	uniqueCountries := make(map[string]struct{})

	var totalRevenue float64

	for _, record := range records {
		addUnique(uniqueInvoices, v.lookupField(record, canonical.FieldInvoice))
		addUnique(uniqueProducts, v.lookupField(record, canonical.FieldStockCode))
		addUnique(uniqueCustomers, v.lookupField(record, canonical.FieldCustomerID))
		addUnique(uniqueCountries, v.lookupField(record, canonical.FieldCountry))

		qty, qtyErr := strconv.ParseFloat(strings.TrimSpace(v.lookupField(record, canonical.FieldQuantity)), 64)
		price, priceErr := strconv.ParseFloat(strings.TrimSpace(v.lookupField(record, canonical.FieldUnitPrice)), 64)

		if qtyErr == nil && priceErr == nil {
			totalRevenue += qty * price
		}
	}

	result.Metrics["unique_invoices"] = len(uniqueInvoices)
	result.Metrics["unique_products"] = len(uniqueProducts)
	result.Metrics["unique_customers"] = len(uniqueCustomers)
	result.Metrics["unique_countries"] = len(uniqueCountries)
	result.Metrics["total_revenue"] = totalRevenue
}

// lookupField finds the value of a canonical field in a raw record via the
// alias table, case-insensitively. Returns "" when absent.
func (v *Validator) lookupField(record extract.Record, field string) string {
	for _, variant := range v.resolver.Variants(field) {
		for name, value := range record {
			if strings.ToLower(strings.TrimSpace(name)) == variant {
				return value
			}
		}
	}

	return ""
}

// fieldValue returns the value of a raw source column, case-insensitively.
func (v *Validator) fieldValue(record extract.Record, column string) string {
	for name, value := range record {
		if strings.ToLower(strings.TrimSpace(name)) == column {
			return value
		}
	}

	return ""
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)

	for _, layout := range dateLayouts {
		if date, err := time.Parse(layout, raw); err == nil {
			return date, true
		}
	}

	return time.Time{}, false
}

func addUnique(set map[string]struct{}, value string) {
	value = strings.TrimSpace(value)
	if value != "" {
		set[value] = struct{}{}
	}
}
