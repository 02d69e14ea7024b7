// Package testdata flags records whose text content looks synthetic so they
// can be quarantined from promotion.
package testdata

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// TextField is one scannable text attribute of an entity.
type TextField struct {
	Name  string
	Value string
}

// Scannable is implemented by entity types that expose their text attributes
// for detection. The field list is declared explicitly per type.
type Scannable interface {
	TextFields() []TextField
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Detector matches text against an ordered pattern list. First match wins,
// there is no scoring. The list is mutable at runtime for operational tuning;
// mutations swap in a fresh slice so in-flight scans never observe a
// half-updated registry.
type Detector struct {
	mu       sync.RWMutex
	patterns []pattern
}

// Default pattern registry: generic synthetic markers, placeholder names and
// their common locale equivalents, placeholder emails, sequential ids and
// lorem-ipsum fragments.
var defaultPatterns = []struct {
	name string
	expr string
}{
	{"test-marker", `\btest(?:ing|er|s)?\b`},
	{"demo-marker", `\bdemo\b`},
	{"dummy-marker", `\bdummy\b`},
	{"sample-marker", `\bsample\b`},
	{"fake-marker", `\bfake\b`},
	{"placeholder-marker", `\bplaceholder\b`},
	{"placeholder-name", `\b(?:john|jane)\s+doe\b|\b(?:max|erika)\s+mustermann\b|\bfulanos?\s+de\s+tal\b`},
	{"placeholder-email", `@(?:example\.(?:com|org|net)|test\.com)\b|\btest@test\b`},
	{"sequential-id", `\b(?:user|customer|account|item|doc)[-_]?\d{1,4}\b`},
	{"keyboard-mash", `\b(?:asdf\w*|qwerty|foo\s?bar|foobar)\b`},
	{"lorem-ipsum", `lorem\s+ipsum|dolor\s+sit\s+amet`},
}

// NewDetector builds a detector loaded with the default pattern registry.
func NewDetector() *Detector {
	d := &Detector{}
	for _, p := range defaultPatterns {
		if err := d.AddPattern(p.name, p.expr); err != nil {
			// Default patterns are compiled constants; a failure here is a
			// programming error.
			panic(fmt.Sprintf("testdata: bad default pattern %s: %v", p.name, err))
		}
	}
	return d
}

// Check matches text against the registry, case-insensitively. It returns
// whether the text looks synthetic and the name of the first matching pattern.
func (d *Detector) Check(text string) (bool, string) {
	if text == "" {
		return false, ""
	}
	d.mu.RLock()
	patterns := d.patterns
	d.mu.RUnlock()

	for _, p := range patterns {
		if p.re.MatchString(text) {
			return true, p.name
		}
	}
	return false, ""
}

// CheckEntity runs Check over every declared text field and returns on the
// first hit with a reason naming the field and the matched pattern.
func (d *Detector) CheckEntity(item Scannable) (bool, string) {
	for _, f := range item.TextFields() {
		if hit, name := d.Check(f.Value); hit {
			return true, fmt.Sprintf("field '%s': matched pattern '%s'", f.Name, name)
		}
	}
	return false, ""
}

// AddPattern appends a named pattern to the registry. Expressions are
// compiled case-insensitive.
func (d *Detector) AddPattern(name, expr string) error {
	if !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]pattern, 0, len(d.patterns)+1)
	next = append(next, d.patterns...)
	next = append(next, pattern{name: name, re: re})
	d.patterns = next
	return nil
}

// RemovePattern drops the named pattern, reporting whether it was present.
func (d *Detector) RemovePattern(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]pattern, 0, len(d.patterns))
	found := false
	for _, p := range d.patterns {
		if p.name == name && !found {
			found = true
			continue
		}
		next = append(next, p)
	}
	d.patterns = next
	return found
}

// PatternNames returns the registry's current pattern names in match order.
func (d *Detector) PatternNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.patterns))
	for i, p := range d.patterns {
		names[i] = p.name
	}
	return names
}
