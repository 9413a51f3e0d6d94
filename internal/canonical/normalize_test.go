package canonical

import "testing"

func TestNormalizeNumeric(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"integer unchanged", "6", "6"},
		{"trailing zero decimal collapses", "6.0", "6"},
		{"padded decimal collapses", "2.550", "2.55"},
		{"whitespace trimmed", " 5.00 ", "5"},
		{"negative value", "-1.50", "-1.5"},
		{"zero variants collapse", "0.00", "0"},
		{"scientific notation expands", "1e3", "1000"},
		{"non-numeric returned trimmed", " gift card ", "gift card"},
		{"empty stays empty", "", ""},
		{"whitespace only becomes empty", "   ", ""},
		{"infinity returned as text", "Inf", "Inf"},
		{"nan returned as text", "NaN", "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeNumeric(tt.input); got != tt.want {
				t.Errorf("NormalizeNumeric(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeField(t *testing.T) {
	t.Run("numeric fields are canonicalized", func(t *testing.T) {
		if got := normalizeField(FieldQuantity, "6.0"); got != "6" {
			t.Errorf("normalizeField(quantity, 6.0) = %q, want %q", got, "6")
		}

		if got := normalizeField(FieldUnitPrice, "2.50"); got != "2.5" {
			t.Errorf("normalizeField(unit_price, 2.50) = %q, want %q", got, "2.5")
		}
	})

	t.Run("identifier fields keep exact text", func(t *testing.T) {
		if got := normalizeField(FieldStockCode, "084509"); got != "084509" {
			t.Errorf("normalizeField(stock_code, 084509) = %q, want %q", got, "084509")
		}

		if got := normalizeField(FieldInvoice, "536365.0"); got != "536365.0" {
			t.Errorf("normalizeField(invoice, 536365.0) = %q, want %q", got, "536365.0")
		}
	})

	t.Run("text fields are trimmed", func(t *testing.T) {
		if got := normalizeField(FieldCountry, " France "); got != "France" {
			t.Errorf("normalizeField(country) = %q, want %q", got, "France")
		}
	})
}

func TestContentHash(t *testing.T) {
	values := []string{"536365", "85123A", "desc", "6", "2010-12-01 08:26:00", "2.55", "17850", "United Kingdom"}

	t.Run("hash is deterministic hex", func(t *testing.T) {
		first := ContentHash(values)
		second := ContentHash(values)

		if first != second {
			t.Errorf("ContentHash not deterministic: %q vs %q", first, second)
		}

		if len(first) != 64 {
			t.Errorf("ContentHash length = %d, want 64", len(first))
		}
	})

	t.Run("value order matters", func(t *testing.T) {
		reversed := make([]string, len(values))
		for i, v := range values {
			reversed[len(values)-1-i] = v
		}

		if ContentHash(values) == ContentHash(reversed) {
			t.Error("reordered values produced the same hash")
		}
	})

	t.Run("empty values hash to a stable identity", func(t *testing.T) {
		empty := make([]string, 8)
		if ContentHash(empty) != ContentHash(make([]string, 8)) {
			t.Error("all-empty value hash is not stable")
		}
	})
}
