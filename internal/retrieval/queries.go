// Package retrieval turns a missing-cell description into ranked candidate
// chunks. Each cell yields one canonical query and at most one synonym
// variant; both run against the year's index partition and their results are
// merged.
package retrieval

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Synonyms maps an indicator keyword to the replacement used in the variant
// query, and a dataset category to an extra query token.
type Synonyms struct {
	Terms      map[string]string `yaml:"terms"`
	Categories map[string]string `yaml:"categories"`
}

// DefaultSynonyms covers the common municipal indicator vocabulary.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		Terms: map[string]string{
			"spesa":    "costo",
			"abitanti": "popolazione",
			"rifiuti":  "raccolta differenziata",
			"entrata":  "introito",
		},
		Categories: map[string]string{
			"financial":     "bilancio",
			"environmental": "ambiente",
		},
	}
}

// LoadSynonyms reads a synonyms file, merging it over the defaults. An empty
// path returns the defaults unchanged.
func LoadSynonyms(path string) (Synonyms, error) {
	syn := DefaultSynonyms()
	if path == "" {
		return syn, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return syn, eris.Wrapf(err, "retrieval: read synonyms %s", path)
	}
	var loaded Synonyms
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return syn, eris.Wrapf(err, "retrieval: parse synonyms %s", path)
	}
	for k, v := range loaded.Terms {
		syn.Terms[k] = v
	}
	for k, v := range loaded.Categories {
		syn.Categories[k] = v
	}
	return syn, nil
}

// Queries holds the 1-2 plain keyword queries built for one cell.
type Queries struct {
	Canonical string
	Variant   string // empty when no synonym applied
}

// BuildQueries composes the canonical query (indicator + category token +
// year) and, when an indicator word has a synonym, a variant query with that
// word substituted.
func BuildQueries(indicator, category string, year int, syn Synonyms) Queries {
	indicator = strings.TrimSpace(strings.ToLower(indicator))

	parts := []string{indicator}
	if tok, ok := syn.Categories[strings.ToLower(category)]; ok && !strings.Contains(indicator, tok) {
		parts = append(parts, tok)
	}
	parts = append(parts, strconv.Itoa(year))
	q := Queries{Canonical: strings.Join(parts, " ")}

	for _, word := range strings.Fields(indicator) {
		if repl, ok := syn.Terms[word]; ok {
			variant := strings.Replace(q.Canonical, word, repl, 1)
			if variant != q.Canonical {
				q.Variant = variant
			}
			break
		}
	}
	return q
}
