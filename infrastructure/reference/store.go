// Package reference provides the read-only lookup service over static
// pin and device metadata. The tables ship embedded in the binary so
// the service needs no external files and cannot drift from the code
// that renders them into prompt context.
package reference

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-pinwire/internal/ports"
)

//go:embed data/*.yaml
var dataFS embed.FS

// foldCaser is a package-level Unicode case folder for performance.
var foldCaser = cases.Fold()

// DefaultSimilarityThreshold is the minimum normalized Levenshtein
// similarity for a fuzzy token hit. Matches below it are discarded so
// near-random tokens do not surface unrelated entries.
const DefaultSimilarityThreshold = 0.72

type pinEntry struct {
	Pin          string   `yaml:"pin"`
	Capabilities []string `yaml:"capabilities"`
	Description  string   `yaml:"description"`
}

type deviceEntry struct {
	Name        string   `yaml:"name"`
	Interface   string   `yaml:"interface"`
	Roles       []string `yaml:"roles"`
	Description string   `yaml:"description"`
}

type pinsFile struct {
	Pins []pinEntry `yaml:"pins"`
}

type devicesFile struct {
	Devices []deviceEntry `yaml:"devices"`
}

type interfacesFile struct {
	Interfaces map[string]struct {
		Roles []string `yaml:"roles"`
	} `yaml:"interfaces"`
}

// indexedEntry is a reference entry with precomputed folded tokens for
// keyword matching.
type indexedEntry struct {
	entry     ports.ReferenceEntry
	foldedKey string
	tokens    []string
}

// Store serves keyword search over the embedded reference tables. It is
// immutable after construction and safe for concurrent use.
type Store struct {
	entries   []indexedEntry
	roles     map[string][]string
	threshold float64
}

var _ ports.ReferenceStore = (*Store)(nil)

// NewStore parses the embedded tables and builds the search index.
func NewStore() (*Store, error) {
	var pins pinsFile
	if err := loadYAML("data/pins.yaml", &pins); err != nil {
		return nil, err
	}
	var devices devicesFile
	if err := loadYAML("data/devices.yaml", &devices); err != nil {
		return nil, err
	}
	var interfaces interfacesFile
	if err := loadYAML("data/interfaces.yaml", &interfaces); err != nil {
		return nil, err
	}

	s := &Store{
		roles:     make(map[string][]string, len(interfaces.Interfaces)),
		threshold: DefaultSimilarityThreshold,
	}

	for class, def := range interfaces.Interfaces {
		if len(def.Roles) == 0 {
			return nil, fmt.Errorf("reference: interface class %q has no roles", class)
		}
		s.roles[class] = append([]string(nil), def.Roles...)
	}

	for _, p := range pins.Pins {
		text := fmt.Sprintf("%s: %s (%s)", p.Pin, p.Description, strings.Join(p.Capabilities, ", "))
		s.index(ports.ReferenceEntry{Kind: "pin", Key: p.Pin, Text: text}, p.Capabilities)
	}
	for _, d := range devices.Devices {
		text := fmt.Sprintf("%s [%s, needs %s]: %s",
			d.Name, d.Interface, strings.Join(d.Roles, "/"), d.Description)
		s.index(ports.ReferenceEntry{Kind: "device", Key: d.Name, Text: text}, d.Roles)
	}

	return s, nil
}

func loadYAML(path string, out any) error {
	raw, err := dataFS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reference: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("reference: parse %s: %w", path, err)
	}
	return nil
}

func (s *Store) index(entry ports.ReferenceEntry, extraTokens []string) {
	tokens := tokenize(entry.Text)
	for _, t := range extraTokens {
		tokens = append(tokens, foldCaser.String(t))
	}
	s.entries = append(s.entries, indexedEntry{
		entry:     entry,
		foldedKey: foldCaser.String(entry.Key),
		tokens:    tokens,
	})
}

// Search performs keyword search over the reference tables and returns
// up to limit entries, best match first. Matching is case-insensitive;
// exact key hits rank above substring hits, which rank above fuzzy
// token hits.
func (s *Store) Search(query string, limit int) []ports.ReferenceEntry {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	type scored struct {
		entry ports.ReferenceEntry
		score float64
	}
	var hits []scored

	for _, ie := range s.entries {
		score := s.scoreEntry(ie, queryTokens)
		if score > 0 {
			hits = append(hits, scored{entry: ie.entry, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.Key < hits[j].entry.Key
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]ports.ReferenceEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

// scoreEntry returns the best match score of any query token against
// the entry, or 0 when nothing clears the similarity threshold.
func (s *Store) scoreEntry(ie indexedEntry, queryTokens []string) float64 {
	best := 0.0
	for _, qt := range queryTokens {
		if qt == ie.foldedKey {
			return 2.0
		}
		if strings.Contains(ie.foldedKey, qt) && len(qt) >= 3 {
			if best < 1.5 {
				best = 1.5
			}
			continue
		}
		for _, token := range ie.tokens {
			if qt == token {
				if best < 1.0 {
					best = 1.0
				}
				continue
			}
			if sim := similarity(qt, token); sim >= s.threshold && sim > best {
				best = sim
			}
		}
	}
	return best
}

// InterfaceRoles returns the expected role sets for known multi-pin
// interface classes, keyed by class name.
func (s *Store) InterfaceRoles() map[string][]string {
	out := make(map[string][]string, len(s.roles))
	for class, roles := range s.roles {
		out[class] = append([]string(nil), roles...)
	}
	return out
}

// tokenize folds the text and splits it on non-alphanumeric runes,
// dropping tokens too short to be meaningful search terms.
func tokenize(text string) []string {
	folded := foldCaser.String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !(r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9'))
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// similarity is the normalized Levenshtein similarity between two
// already-folded tokens, 1.0 for identical and 0.0 for disjoint.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}
	sim := 1.0 - float64(distance)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}
