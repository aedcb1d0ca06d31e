package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/esg-lite/emissions-pipeline/internal/models"
)

// Field parsing for Russian operational documents. The parser recognizes a
// structured transport schema (waybills reporting kilograms of CO2) and flat
// numeric emission fields (tonnes); anything else is tagged unrecognized so
// aggregation can log it instead of probing optional fields.

var (
	transportMarkers = []string{
		"транспортная накладная",
		"путевой лист",
		"waybill",
		"товарно-транспортная",
	}

	// number with optional thousands spaces and comma or dot decimals
	numPattern = `([0-9][0-9\s]*(?:[.,][0-9]+)?)`

	transportKgRe = regexp.MustCompile(`(?i)` + numPattern + `\s*(?:кг|kg)\s*(?:co2|co₂|со2)`)

	// \b is ASCII-only in Go regexp, so the tonne unit ends on an explicit
	// delimiter instead of a word boundary.
	tonnesUnit = `\s*(?:тонн[а-я]*|т|tonnes|t)(?:[\s.,;:)]|$)`

	flatEmissionsRe = regexp.MustCompile(`(?i)(?:выбросы|emissions)\D{0,20}?` + numPattern + tonnesUnit)
	flatCO2Re       = regexp.MustCompile(`(?i)(?:co2|co₂)\D{0,20}?` + numPattern + tonnesUnit)
	flatCarbonRe    = regexp.MustCompile(`(?i)(?:углерод|carbon)\D{0,20}?` + numPattern + tonnesUnit)
)

// ParseEmissionFields extracts the structured emissions payload from OCR
// text. Transport documents win over flat fields so a waybill carrying both
// schemas is not double-counted.
func ParseEmissionFields(text string) *models.Extraction {
	lower := strings.ToLower(text)

	if isTransportDocument(lower) {
		if m := transportKgRe.FindStringSubmatch(text); m != nil {
			if kg, ok := parseNumber(m[1]); ok {
				return models.NewTransportExtraction(kg)
			}
		}
	}

	flat := models.FlatExtraction{}
	found := false
	if m := flatEmissionsRe.FindStringSubmatch(text); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			flat.Emissions = &v
			found = true
		}
	}
	if m := flatCO2Re.FindStringSubmatch(text); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			flat.CO2 = &v
			found = true
		}
	}
	if m := flatCarbonRe.FindStringSubmatch(text); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			flat.Carbon = &v
			found = true
		}
	}
	if found {
		return models.NewFlatExtraction(flat)
	}

	return models.NewUnrecognizedExtraction()
}

func isTransportDocument(lower string) bool {
	for _, marker := range transportMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func parseNumber(raw string) (float64, bool) {
	s := strings.ReplaceAll(raw, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
