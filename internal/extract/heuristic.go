package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/civicdata/comune-cli/internal/model"
	"github.com/civicdata/comune-cli/internal/numit"
)

// Heuristic scoring. Each keyword found near a candidate number is worth
// keywordWeight; multiple distinct keywords, a nearby year token and a
// thousands-grouped format add bonuses. The raw score divided by scoreScale
// gives the confidence, capped at 1.
const (
	windowRadius   = 300
	evidenceLimit  = 240
	keywordWeight  = 1.5
	multiKeyBonus  = 1.0
	yearBonus      = 0.5
	groupedBonus   = 0.5
	rangePenalty   = 2.0
	scoreScale     = 5.0
	minPlausible   = 0.01
	maxPlausible   = 1e12
	minKeywordRune = 3
)

// numberTokenRe finds candidate numeric tokens in free text: optional euro
// sign, optional parentheses, digits with Italian separators, optional
// trailing percent.
var numberTokenRe = regexp.MustCompile(`\(?€?\s?-?\d[\d. ]*(?:,\d+)?%?€?\)?`)

// HeuristicStrategy extracts values by scanning text windows around
// indicator keywords for Italian-format numbers.
type HeuristicStrategy struct{}

func NewHeuristic() *HeuristicStrategy {
	return &HeuristicStrategy{}
}

func (h *HeuristicStrategy) Name() model.Method { return model.MethodHeuristic }

type heuristicCandidate struct {
	value    numit.Value
	score    float64
	position int
}

// Attempt scans the chunk for indicator keywords, then for numbers within a
// bounded window around each keyword. The best-scoring number wins; ties go
// to the earliest occurrence. Returns no-match when no keyword or no
// plausible number is found.
func (h *HeuristicStrategy) Attempt(_ context.Context, chunk model.Chunk, indicator string, year int) (*model.Result, error) {
	text := chunk.Text
	lower := foldASCII(text)
	keywords := indicatorKeywords(indicator)
	if len(keywords) == 0 {
		return nil, nil
	}

	yearToken := strconv.Itoa(year)
	var best *heuristicCandidate

	for _, kw := range keywords {
		for _, pos := range allIndexes(lower, kw) {
			start := max(0, pos-windowRadius)
			end := min(len(text), pos+len(kw)+windowRadius)
			window := text[start:end]
			windowLower := lower[start:end]

			distinct := 0
			for _, other := range keywords {
				if strings.Contains(windowLower, other) {
					distinct++
				}
			}

			base := keywordWeight * float64(distinct)
			if distinct > 1 {
				base += multiKeyBonus
			}
			if strings.Contains(window, yearToken) {
				base += yearBonus
			}

			for _, loc := range numberTokenRe.FindAllStringIndex(window, -1) {
				token := window[loc[0]:loc[1]]
				if partOfDate(window, loc[0], loc[1]) {
					continue
				}
				val, err := numit.Normalize(strings.TrimSpace(token))
				if err != nil {
					continue
				}
				if isBareYear(val) {
					continue
				}

				score := base
				if strings.ContainsAny(token, ". ") && val.Unit != model.UnitPercent {
					score += groupedBonus
				}
				abs := val.Number
				if abs < 0 {
					abs = -abs
				}
				if abs != 0 && (abs < minPlausible || abs > maxPlausible) {
					score -= rangePenalty
				}
				if score <= 0 {
					continue
				}

				cand := heuristicCandidate{value: val, score: score, position: start + loc[0]}
				if best == nil || cand.score > best.score ||
					(cand.score == best.score && cand.position < best.position) {
					c := cand
					best = &c
				}
			}
		}
	}

	if best == nil {
		return nil, nil
	}

	confidence := best.score / scoreScale
	if confidence > 1 {
		confidence = 1
	}
	return &model.Result{
		Value:       best.value.Number,
		Unit:        best.value.Unit,
		Year:        year,
		Evidence:    snippet(text, best.position, evidenceLimit),
		Confidence:  confidence,
		Method:      model.MethodHeuristic,
		ContentHash: chunk.ContentHash,
		PageNo:      chunk.PageNo,
		OriginURL:   chunk.OriginURL,
		Filename:    chunk.Filename,
	}, nil
}

// stopwords are Italian function words ignored when splitting an indicator
// into keywords.
var stopwords = map[string]bool{
	"di": true, "a": true, "da": true, "in": true, "con": true, "su": true,
	"per": true, "tra": true, "fra": true, "il": true, "lo": true, "la": true,
	"le": true, "gli": true, "i": true, "un": true, "una": true, "e": true,
	"ed": true, "o": true, "al": true, "ai": true, "alla": true, "alle": true,
	"del": true, "dei": true, "della": true, "delle": true, "degli": true,
	"nel": true, "nella": true, "sul": true, "sulla": true,
}

// indicatorKeywords keeps the significant words of an indicator, dropping
// function words and very short tokens.
func indicatorKeywords(indicator string) []string {
	var kws []string
	for _, w := range strings.Fields(strings.ToLower(indicator)) {
		if stopwords[w] || len([]rune(w)) < minKeywordRune {
			continue
		}
		kws = append(kws, w)
	}
	return kws
}

// foldASCII lowercases ASCII letters only. Unlike strings.ToLower it is
// byte-length-preserving, so positions found in the folded string index the
// original text directly.
func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func allIndexes(s, sub string) []int {
	var idxs []int
	for off := 0; ; {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return idxs
		}
		idxs = append(idxs, off+i)
		off += i + len(sub)
	}
}

// partOfDate rejects number tokens glued to a date separator (31/12/2023).
func partOfDate(window string, start, end int) bool {
	if start > 0 && window[start-1] == '/' {
		return true
	}
	if end < len(window) && window[end] == '/' {
		return true
	}
	return false
}

// isBareYear rejects unitless integers that read as years; the year itself
// is context, not the value being extracted.
func isBareYear(v numit.Value) bool {
	return v.Unit == model.UnitNone &&
		v.Number == float64(int(v.Number)) &&
		v.Number >= 1990 && v.Number <= 2030
}

// snippet returns at most limit bytes of text centered on pos, shrunk to
// rune boundaries so multibyte characters are never split.
func snippet(text string, pos, limit int) string {
	start := max(0, pos-limit/2)
	end := min(len(text), start+limit)
	if end-start < limit {
		start = max(0, end-limit)
	}
	for start < end && !utf8.RuneStart(text[start]) {
		start++
	}
	for end > start && end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return strings.TrimSpace(text[start:end])
}
