package models

import "testing"

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"€ 1.250 per maand", 1250, true},
		{"€ 350.000 k.k.", 350000, true},
		{"€ 1.250,50", 1250.5, true},
		{"€1,250.00", 1250, true},
		{"1450", 1450, true},
		{"€ 12,5", 12.5, true},
		{"Prijs op aanvraag", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got := ParsePrice(tt.raw)
		if !tt.ok {
			if got != nil {
				t.Errorf("ParsePrice(%q) = %v; want nil", tt.raw, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("ParsePrice(%q) = %v; want %.2f", tt.raw, got, tt.want)
		}
	}
}

func TestParseAreaAndCount(t *testing.T) {
	if a := ParseArea("72,5 m²"); a == nil || *a != 72.5 {
		t.Errorf("ParseArea: got %v, want 72.5", a)
	}
	if n := ParseCount("3 slaapkamers"); n == nil || *n != 3 {
		t.Errorf("ParseCount: got %v, want 3", n)
	}
	if n := ParseCount("onbekend"); n != nil {
		t.Errorf("ParseCount(onbekend): got %d, want nil", *n)
	}
}

func TestResolveRawData(t *testing.T) {
	extras, blob := ResolveRawData(map[string]string{
		"Energielabel": " B ",
		"Bouwjaar":     "gebouwd in 1932",
		"Balkon":       "ja",
	})

	if extras.EnergyLabel != "B" {
		t.Errorf("EnergyLabel: got %q, want %q", extras.EnergyLabel, "B")
	}
	if extras.BuildYear == nil || *extras.BuildYear != 1932 {
		t.Errorf("BuildYear: got %v, want 1932", extras.BuildYear)
	}
	if len(blob) == 0 {
		t.Error("raw blob should be retained for diagnostics")
	}

	empty, none := ResolveRawData(nil)
	if empty.EnergyLabel != "" || empty.BuildYear != nil || none != nil {
		t.Error("empty raw data should resolve to zero extras and no blob")
	}
}

func TestResolveRawDataPicksLabelDeterministically(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
		want string
	}{
		{"label beats consumption", map[string]string{
			"Energieverbruik":   "212 kWh/m² per jaar",
			"Energielabel":      "A",
			"Energie opmerking": "zie rapport",
		}, "A"},
		{"dedicated key beats other valid label", map[string]string{
			"Energieklasse oud": "G",
			"energy_label":      "C",
		}, "C"},
		{"only free text", map[string]string{
			"Energieverbruik": "212 kWh/m²",
		}, "212 kWh/m²"},
	}

	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			extras, _ := ResolveRawData(tt.raw)
			if extras.EnergyLabel != tt.want {
				t.Errorf("%s: run %d: got %q, want %q", tt.name, i, extras.EnergyLabel, tt.want)
				break
			}
		}
	}

	years := map[string]string{"Bouwjaar": "1932", "build_year": "2001", "year_built": "1975"}
	for i := 0; i < 50; i++ {
		extras, _ := ResolveRawData(years)
		if extras.BuildYear == nil || *extras.BuildYear != 1932 {
			t.Fatalf("BuildYear run %d: got %v, want 1932", i, extras.BuildYear)
		}
	}
}

func TestCanonicalEnergyLabel(t *testing.T) {
	tests := []struct{ raw, want string }{
		{" a+ ", "A+"},
		{"Energielabel: B", "B"},
		{"label A++", "A++"},
		{"H", ""},
		{"212 kWh", ""},
	}
	for _, tt := range tests {
		if got := CanonicalEnergyLabel(tt.raw); got != tt.want {
			t.Errorf("CanonicalEnergyLabel(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCandidateAddress(t *testing.T) {
	c := &CandidateListing{Street: "Oudegracht", HouseNumber: "12A", PostalCode: "3511 AB", City: "Utrecht"}
	want := "Oudegracht 12A, 3511 AB Utrecht, Netherlands"
	if got := c.Address(); got != want {
		t.Errorf("Address: got %q, want %q", got, want)
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		raw                               string
		street, number, postal, cityWant string
	}{
		{"Oudegracht 12-A, 3511 AB Utrecht", "Oudegracht", "12-A", "3511 AB", "Utrecht"},
		{"Keizersgracht 101 1015CJ Amsterdam", "Keizersgracht", "101", "1015 CJ", "Amsterdam"},
		{"Lange Voorhout 7, Den Haag", "Lange Voorhout", "7", "", "Den Haag"},
		{"Markt", "Markt", "", "", ""},
		{"", "", "", "", ""},
	}

	for _, tt := range tests {
		street, number, postal, city := SplitAddress(tt.raw)
		if street != tt.street || number != tt.number || postal != tt.postal || city != tt.cityWant {
			t.Errorf("SplitAddress(%q) = %q, %q, %q, %q; want %q, %q, %q, %q",
				tt.raw, street, number, postal, city, tt.street, tt.number, tt.postal, tt.cityWant)
		}
	}
}
