package normalizer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

//go:embed tables/rules.json
var defaultRulesJSON []byte

// PatternRule rewrites any text matching a regular expression.
type PatternRule struct {
	Pattern string `json:"pattern"`
	Replace string `json:"replace"`
}

// WordRule rewrites a whole word wherever it appears.
type WordRule struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ruleFile is the on-disk shape of a substitution rule set. Pattern
// rules run before word rules, each group in listed order.
type ruleFile struct {
	Patterns []PatternRule `json:"patterns"`
	Words    []WordRule    `json:"words"`
}

// Rules is an ordered set of compiled address substitutions.
type Rules struct {
	compiled []compiledRule
}

type compiledRule struct {
	re      *regexp.Regexp
	replace string
}

var (
	spaceRuns      = regexp.MustCompile(`\s{2,}`)
	danglingCommas = regexp.MustCompile(`\s+,`)
)

// DefaultRules returns the embedded substitution rules.
func DefaultRules() *Rules {
	rules, err := parseRules(defaultRulesJSON)
	if err != nil {
		panic("embedded substitution rules are invalid: " + err.Error())
	}
	return rules
}

// LoadRules reads a host-supplied rule file, falling back to the
// embedded defaults when path is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return parseRules(data)
}

func parseRules(data []byte) (*Rules, error) {
	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode rules file: %w", err)
	}

	rules := &Rules{compiled: make([]compiledRule, 0, len(file.Patterns)+len(file.Words))}
	for _, pattern := range file.Patterns {
		re, err := regexp.Compile("(?i)" + pattern.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", pattern.Pattern, err)
		}
		rules.compiled = append(rules.compiled, compiledRule{re: re, replace: pattern.Replace})
	}
	for _, word := range file.Words {
		rules.compiled = append(rules.compiled, compiledRule{re: wordPattern(word.From), replace: word.To})
	}
	return rules, nil
}

// wordPattern builds a whole-word matcher. Entries ending in a dot
// keep the dot as a literal terminator instead of a word boundary.
func wordPattern(word string) *regexp.Regexp {
	pattern := `(?i)\b` + regexp.QuoteMeta(word)
	if word != "" && isWordByte(word[len(word)-1]) {
		pattern += `\b`
	}
	return regexp.MustCompile(pattern)
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// Apply runs every substitution in order, then tidies the whitespace
// and punctuation the removals leave behind.
func (r *Rules) Apply(address string) string {
	out := address
	for _, rule := range r.compiled {
		out = rule.re.ReplaceAllString(out, rule.replace)
	}
	out = danglingCommas.ReplaceAllString(out, ",")
	out = spaceRuns.ReplaceAllString(out, " ")
	return strings.Trim(out, " ,")
}
