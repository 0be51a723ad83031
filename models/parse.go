package models

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	// numberRegexp captures the first number, including thousands/decimal separators.
	numberRegexp = regexp.MustCompile(`\d[\d.,]*`)
	// yearRegexp captures a plausible four-digit build year.
	yearRegexp = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)
	// postalRegexp matches a Dutch postal code ("3511 AB", "3511AB").
	postalRegexp = regexp.MustCompile(`\b(\d{4})\s?([A-Za-z]{2})\b`)
	// streetRegexp splits "Oudegracht 12-A" into street and house number.
	streetRegexp = regexp.MustCompile(`^(.*?)\s+(\d+\S*)$`)
)

// ParsePrice extracts an amount from scraped price text.
// Examples:
//
//	"€ 1.250 per maand" → 1250
//	"€ 350.000 k.k."    → 350000
//	"€ 1.250,50"        → 1250.5
//	"Prijs op aanvraag" → nil
func ParsePrice(raw string) *float64 {
	v, ok := parseNumber(raw)
	if !ok || v <= 0 {
		return nil
	}
	return &v
}

// ParseArea extracts a surface area such as "85 m²" or "72,5 m2".
func ParseArea(raw string) *float64 {
	v, ok := parseNumber(raw)
	if !ok || v <= 0 {
		return nil
	}
	return &v
}

// ParseCount extracts a small integer such as "3 slaapkamers".
func ParseCount(raw string) *int {
	v, ok := parseNumber(raw)
	if !ok || v < 0 {
		return nil
	}
	n := int(v)
	return &n
}

// parseNumber reads the first number in s, accepting both Dutch ("1.250,50")
// and English ("1,250.50") separators.
func parseNumber(s string) (float64, bool) {
	match := numberRegexp.FindString(s)
	if match == "" {
		return 0, false
	}
	match = strings.TrimRight(match, ".,")

	lastDot := strings.LastIndex(match, ".")
	lastComma := strings.LastIndex(match, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The right-most separator is the decimal mark.
		if lastComma > lastDot {
			match = strings.ReplaceAll(match, ".", "")
			match = strings.Replace(match, ",", ".", 1)
		} else {
			match = strings.ReplaceAll(match, ",", "")
		}
	case lastDot >= 0:
		match = normaliseSingleSeparator(match, ".")
	case lastComma >= 0:
		match = normaliseSingleSeparator(match, ",")
	}

	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normaliseSingleSeparator decides whether sep groups thousands or marks decimals.
func normaliseSingleSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	thousands := len(parts) > 2
	if len(parts) == 2 && len(parts[1]) == 3 {
		thousands = true
	}
	if thousands {
		return strings.Join(parts, "")
	}
	return parts[0] + "." + parts[1]
}

// energyLabelKeys are the attribute names that hold nothing but the label.
var energyLabelKeys = map[string]bool{
	"energielabel":  true,
	"energy_label":  true,
	"energy label":  true,
	"energylabel":   true,
	"energieklasse": true,
}

// ResolveRawData pulls the known extras out of an adapter's raw attribute bag
// and returns the whole bag as an opaque JSON blob for diagnostics.
//
// Keys are visited in sorted order. For the energy label a dedicated key with
// a valid label beats any other key with a valid label, which beats a key
// that merely mentions energy. For the build year the first key wins.
func ResolveRawData(raw map[string]string) (Extras, json.RawMessage) {
	var extras Extras
	if len(raw) == 0 {
		return extras, nil
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	labelRank := 0
	for _, key := range keys {
		k := strings.ToLower(strings.TrimSpace(key))
		val := strings.TrimSpace(raw[key])
		if val == "" {
			continue
		}
		switch {
		case strings.Contains(k, "energ"):
			rank := 1
			if CanonicalEnergyLabel(val) != "" {
				rank = 2
				if energyLabelKeys[k] {
					rank = 3
				}
			}
			if rank > labelRank {
				extras.EnergyLabel, labelRank = val, rank
			}
		case strings.Contains(k, "bouwjaar") || strings.Contains(k, "build_year") || strings.Contains(k, "year_built"):
			if extras.BuildYear != nil {
				continue
			}
			if m := yearRegexp.FindString(val); m != "" {
				y, _ := strconv.Atoi(m)
				extras.BuildYear = &y
			}
		}
	}

	blob, err := json.Marshal(raw)
	if err != nil {
		return extras, nil
	}
	return extras, blob
}

// CanonicalEnergyLabel maps scraped label text such as "energielabel: a+" to
// one of EnergyLabels, or "" when it is not a label.
func CanonicalEnergyLabel(raw string) string {
	s := strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw))
	s = strings.TrimPrefix(s, "ENERGIELABEL")
	s = strings.TrimPrefix(s, "LABEL")
	s = strings.Trim(s, ":")
	for _, label := range EnergyLabels {
		if s == label {
			return label
		}
	}
	return ""
}

// SplitAddress breaks a one-line Dutch address such as
// "Oudegracht 12-A, 3511 AB Utrecht" into its parts. Missing parts come back empty.
func SplitAddress(raw string) (street, houseNumber, postalCode, city string) {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return "", "", "", ""
	}

	streetPart := raw
	if loc := postalRegexp.FindStringSubmatchIndex(raw); loc != nil {
		postalCode = strings.ToUpper(raw[loc[2]:loc[3]] + " " + raw[loc[4]:loc[5]])
		streetPart = raw[:loc[0]]
		city = strings.Trim(raw[loc[1]:], " ,")
	} else if i := strings.LastIndex(raw, ","); i >= 0 {
		streetPart = raw[:i]
		city = strings.TrimSpace(raw[i+1:])
	}

	streetPart = strings.Trim(streetPart, " ,")
	if m := streetRegexp.FindStringSubmatch(streetPart); m != nil {
		return m[1], m[2], postalCode, city
	}
	return streetPart, "", postalCode, city
}
