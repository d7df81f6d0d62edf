// Package yeardetect guesses the reference year of a municipal document
// from its URL, its filename, or the text of its first pages.
package yeardetect

import (
	"regexp"
	"strconv"

	"github.com/civicdata/comune-cli/internal/model"
)

// Years outside this range are treated as noise (page numbers, protocol
// numbers, amounts).
const (
	minYear = 1990
	maxYear = 2030
)

var yearRe = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

// maxTextScan bounds how much text FromText inspects.
const maxTextScan = 5000

// FromURL returns the most recent plausible year found in a URL or filename,
// or model.YearUnknown.
func FromURL(url string) int {
	best := model.YearUnknown
	for _, m := range yearRe.FindAllString(url, -1) {
		y, err := strconv.Atoi(m)
		if err != nil || y < minYear || y > maxYear {
			continue
		}
		if y > best {
			best = y
		}
	}
	return best
}

// FromFilename is FromURL applied to a bare filename.
func FromFilename(filename string) int {
	return FromURL(filename)
}

// FromText returns the most frequent plausible year in the first part of a
// document's text (ties broken toward the most recent year), or
// model.YearUnknown.
func FromText(text string) int {
	if len(text) > maxTextScan {
		text = text[:maxTextScan]
	}

	counts := make(map[int]int)
	for _, m := range yearRe.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err != nil || y < minYear || y > maxYear {
			continue
		}
		counts[y]++
	}

	best, bestCount := model.YearUnknown, 0
	for y, n := range counts {
		if n > bestCount || (n == bestCount && y > best) {
			best, bestCount = y, n
		}
	}
	return best
}

// Detect runs the full cascade: URL pattern, then filename pattern, then
// first-pages text.
func Detect(url, filename, firstPagesText string) int {
	if y := FromURL(url); y != model.YearUnknown {
		return y
	}
	if y := FromFilename(filename); y != model.YearUnknown {
		return y
	}
	return FromText(firstPagesText)
}
