package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Values that look like locations but are not countries. "aisa" is a
// misspelling seen in client files.
var nonCountries = map[string]bool{
	"asia": true, "aisa": true, "africa": true, "europe": true,
	"north america": true, "south america": true, "australia/oceania": true,
	"oceania": true, "antarctica": true,
}

// Common country names mapped to ISO2
var countryNames = map[string]string{
	"united states": "US", "united states of america": "US", "usa": "US",
	"united kingdom": "GB", "great britain": "GB", "england": "GB",
	"germany": "DE", "france": "FR", "italy": "IT", "spain": "ES",
	"netherlands": "NL", "belgium": "BE", "luxembourg": "LU", "ireland": "IE",
	"switzerland": "CH", "sweden": "SE", "norway": "NO", "denmark": "DK",
	"japan": "JP", "china": "CN", "india": "IN", "singapore": "SG", "hong kong": "HK",
	"australia": "AU", "new zealand": "NZ", "canada": "CA", "mexico": "MX",
	"brazil": "BR", "bermuda": "BM", "south africa": "ZA", "south korea": "KR",
}

// CountryNormalizer converts country codes and names to upper-case ISO2
type CountryNormalizer struct {
	v *validator.Validate
}

// NewCountryNormalizer creates a normalizer
func NewCountryNormalizer() *CountryNormalizer {
	return &CountryNormalizer{v: validator.New()}
}

// Normalize returns the ISO2 code for s. Continents and anything mentioning
// "world" are rejected; two-letter values must already be ISO2.
func (n *CountryNormalizer) Normalize(s string) (string, bool) {
	clean := strings.ToLower(strings.TrimSpace(s))
	if clean == "" || nonCountries[clean] || strings.Contains(clean, "world") {
		return "", false
	}
	if len(clean) == 2 {
		code := strings.ToUpper(clean)
		if n.v.Var(code, "iso3166_1_alpha2") != nil {
			return "", false
		}
		return code, true
	}
	if len(clean) == 3 {
		code := strings.ToUpper(clean)
		if n.v.Var(code, "iso3166_1_alpha3") == nil {
			if iso2, ok := alpha3[code]; ok {
				return iso2, true
			}
		}
	}
	code, ok := countryNames[clean]
	return code, ok
}

// alpha3 covers the ISO3 codes of the named countries above
var alpha3 = map[string]string{
	"USA": "US", "GBR": "GB", "DEU": "DE", "FRA": "FR", "ITA": "IT", "ESP": "ES",
	"NLD": "NL", "BEL": "BE", "LUX": "LU", "IRL": "IE", "CHE": "CH", "SWE": "SE",
	"NOR": "NO", "DNK": "DK", "JPN": "JP", "CHN": "CN", "IND": "IN", "SGP": "SG",
	"HKG": "HK", "AUS": "AU", "NZL": "NZ", "CAN": "CA", "MEX": "MX", "BRA": "BR",
	"BMU": "BM", "ZAF": "ZA", "KOR": "KR",
}
