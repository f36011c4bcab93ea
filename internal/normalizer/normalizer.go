// Package normalizer cleans free-text place names and infers the
// country they belong to, so lookups hit the cache and the provider
// with consistent, qualified addresses.
package normalizer

import (
	"log/slog"
	"regexp"
	"strings"
)

// trailingTokens pulls the last one, then the last two words off an
// address so they can be checked against the reference tables.
var trailingTokens = []*regexp.Regexp{
	regexp.MustCompile(`[\s,](\w+)$`),
	regexp.MustCompile(`[\s,](\w+\s?\w+)$`),
}

// Normalizer applies substitution rules and country inference to raw
// addresses.
type Normalizer struct {
	tables         *Tables
	rules          *Rules
	defaultCountry string
	log            *slog.Logger
}

// New creates a Normalizer. defaultCountry is an ISO code applied to
// addresses whose country cannot be inferred; empty disables the
// fallback.
func New(tables *Tables, rules *Rules, defaultCountry string, log *slog.Logger) *Normalizer {
	return &Normalizer{
		tables:         tables,
		rules:          rules,
		defaultCountry: strings.ToUpper(strings.TrimSpace(defaultCountry)),
		log:            log,
	}
}

// Improve cleans an address and works out which country it belongs to.
// It returns the cleaned address, possibly suffixed with a country
// name, and the inferred ISO2 code. The code is empty when nothing
// matched and no default country is configured.
//
// A caller-supplied country hint wins over inference. Otherwise the
// trailing tokens are matched against ISO2 codes, ISO3 codes and full
// country names, then state and province names; a state match pins the
// address to the owning country.
func (n *Normalizer) Improve(address, countryHint string) (string, string) {
	addr := n.rules.Apply(address)

	if hint := strings.TrimSpace(countryHint); hint != "" {
		return n.withCountry(addr, hint)
	}

	for _, tokenRe := range trailingTokens {
		match := tokenRe.FindStringSubmatch(addr)
		if match == nil {
			continue
		}
		token := strings.TrimSpace(match[1])

		if country, ok := n.tables.CountryByCode(token); ok {
			return addr, country.ISO2
		}
		if country, ok := n.tables.CountryByName(token); ok {
			return addr, country.ISO2
		}
		if state, ok := n.tables.StateByName(token); ok {
			improved := addr
			if country, found := n.tables.CountryByCode(state.CountryCode); found {
				improved = addr + ", " + country.Name
			}
			n.log.Debug("inferred country from state",
				"address", address, "state", state.Name, "country", state.CountryCode)
			return improved, state.CountryCode
		}
	}

	if n.defaultCountry != "" {
		return n.withCountry(addr, n.defaultCountry)
	}
	return addr, ""
}

// withCountry suffixes the country name onto the address unless it is
// already there, and returns the canonical ISO2 code.
func (n *Normalizer) withCountry(addr, code string) (string, string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	country, ok := n.tables.CountryByCode(code)
	if !ok {
		// Unknown code. Trust the caller and leave the address alone.
		return addr, code
	}
	if !strings.HasSuffix(strings.ToLower(addr), strings.ToLower(country.Name)) {
		addr += ", " + country.Name
	}
	return addr, country.ISO2
}
