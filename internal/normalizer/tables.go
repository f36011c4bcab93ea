package normalizer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed tables/countries.json
var defaultCountriesJSON []byte

//go:embed tables/states.json
var defaultStatesJSON []byte

// Country is one row of the country reference table. The JSON shape
// matches the nnjeim/world dataset so freshly downloaded tables drop
// in unchanged.
type Country struct {
	Name string `json:"name"`
	ISO2 string `json:"iso2"`
	ISO3 string `json:"iso3"`
}

// State is one row of the state and province reference table.
type State struct {
	Name        string `json:"name"`
	CountryCode string `json:"country_code"`
}

// Tables holds the country and state lookups used for trailing-token
// country inference.
type Tables struct {
	byISO2 map[string]Country
	byISO3 map[string]Country
	byName map[string]Country
	states map[string]State
}

// DefaultTables returns the embedded reference tables.
func DefaultTables() *Tables {
	tables, err := parseTables(defaultCountriesJSON, defaultStatesJSON)
	if err != nil {
		panic("embedded reference tables are invalid: " + err.Error())
	}
	return tables
}

// LoadTables reads host-supplied country and state tables. Either path
// may be empty, in which case the embedded default is used for it.
func LoadTables(countriesPath, statesPath string) (*Tables, error) {
	countries := defaultCountriesJSON
	states := defaultStatesJSON

	if countriesPath != "" {
		data, err := os.ReadFile(countriesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read countries table: %w", err)
		}
		countries = data
	}
	if statesPath != "" {
		data, err := os.ReadFile(statesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read states table: %w", err)
		}
		states = data
	}

	return parseTables(countries, states)
}

func parseTables(countriesJSON, statesJSON []byte) (*Tables, error) {
	var countries []Country
	if err := json.Unmarshal(countriesJSON, &countries); err != nil {
		return nil, fmt.Errorf("failed to decode countries table: %w", err)
	}
	var states []State
	if err := json.Unmarshal(statesJSON, &states); err != nil {
		return nil, fmt.Errorf("failed to decode states table: %w", err)
	}

	tables := &Tables{
		byISO2: make(map[string]Country, len(countries)),
		byISO3: make(map[string]Country, len(countries)),
		byName: make(map[string]Country, len(countries)),
		states: make(map[string]State, len(states)),
	}
	for _, country := range countries {
		tables.byISO2[strings.ToUpper(country.ISO2)] = country
		tables.byISO3[strings.ToUpper(country.ISO3)] = country
		tables.byName[strings.ToLower(country.Name)] = country
	}
	for _, state := range states {
		tables.states[strings.ToLower(state.Name)] = state
	}
	return tables, nil
}

// CountryByCode looks a country up by its ISO2 or ISO3 code.
func (t *Tables) CountryByCode(code string) (Country, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if country, ok := t.byISO2[code]; ok {
		return country, true
	}
	country, ok := t.byISO3[code]
	return country, ok
}

// CountryByName looks a country up by its full name.
func (t *Tables) CountryByName(name string) (Country, bool) {
	country, ok := t.byName[strings.ToLower(strings.TrimSpace(name))]
	return country, ok
}

// StateByName looks a state or province up by its full name.
func (t *Tables) StateByName(name string) (State, bool) {
	state, ok := t.states[strings.ToLower(strings.TrimSpace(name))]
	return state, ok
}
