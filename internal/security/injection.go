package security

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var ErrPromptInjection = errors.New("potential prompt injection detected")

// injectionRule is one named pattern. Phrases match case-insensitively with
// any run of whitespace between words.
type injectionRule struct {
	name string
	re   *regexp.Regexp
}

// PromptInjectionDetector flags free text that tries to steer the model
// away from the interaction prompt or forge its JSON answer
type PromptInjectionDetector struct {
	rules []injectionRule
}

var injectionPhrases = map[string][]string{
	"override instructions": {
		"ignore previous instructions", "ignore all previous", "disregard all previous",
		"forget all previous", "ignore the above", "disregard the above",
		"your new instructions", "your new task", "new directive", "override your",
		"system override",
	},
	"role change": {
		"jailbreak", "pretend you are", "act as if", "you are now", "developer mode",
	},
	"answer steering": {
		"respond with", "output only", "say there are no interactions",
	},
}

var injectionPatterns = map[string][]string{
	"override instructions": {
		`ignore\s+(all\s+)?(previous|above)\s+(instructions?|prompts?|rules?|directives?)`,
		`(disregard|forget)\s+(all\s+)?(previous|above)\s+(instructions?|prompts?|rules?|context)`,
		`(override|bypass)\s+(all\s+)?(rules?|restrictions?|filters?)`,
	},
	"role change": {
		`you\s+are\s+now\s+(a|an)\s+\w+`,
		`(pretend|act|simulate)\s+(that\s+)?you\s+are`,
	},
	"prompt markup": {
		`system:\s*you\s+must`,
		`<\|.*\|>`,
		`\[system\].*\[/system\]`,
		`###\s*(instruction|system)`,
	},
	"forged answer": {
		`"?\s*interactions"?\s*:`,
		`[{}\[\]<>]`,
	},
}

func NewPromptInjectionDetector() *PromptInjectionDetector {
	d := &PromptInjectionDetector{}
	for _, name := range sortedKeys(injectionPhrases) {
		for _, p := range injectionPhrases[name] {
			words := strings.Fields(regexp.QuoteMeta(p))
			d.add(name, `\b`+strings.Join(words, `\s+`)+`\b`)
		}
	}
	for _, name := range sortedKeys(injectionPatterns) {
		for _, p := range injectionPatterns[name] {
			d.add(name, p)
		}
	}
	return d
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *PromptInjectionDetector) add(name, pattern string) {
	d.rules = append(d.rules, injectionRule{name: name, re: regexp.MustCompile(`(?i)` + pattern)})
}

// Match returns the name of the first rule input matches
func (d *PromptInjectionDetector) Match(input string) (string, bool) {
	for _, r := range d.rules {
		if r.re.MatchString(input) {
			return r.name, true
		}
	}
	return "", false
}

func (d *PromptInjectionDetector) Detect(input string) bool {
	_, found := d.Match(input)
	return found
}

// Validate wraps ErrPromptInjection with the matched rule name
func (d *PromptInjectionDetector) Validate(input string) error {
	if name, found := d.Match(input); found {
		return fmt.Errorf("%w (%s)", ErrPromptInjection, name)
	}
	return nil
}

var defaultDetector = NewPromptInjectionDetector()

func DetectPromptInjection(input string) bool {
	return defaultDetector.Detect(input)
}

func ValidatePrompt(input string) error {
	return defaultDetector.Validate(input)
}
