// Package synonym scores free text against per-hazard synonym lists. It
// needs no network and keeps no state beyond the table it was built with.
package synonym

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Entry is one hazard's synonym phrases keyed by locale.
type Entry struct {
	Hazard  string
	Phrases map[string][]string
}

type Match struct {
	Hazard     string  `json:"hazard"`
	Confidence float64 `json:"confidence"`
}

type phrase struct {
	text   string
	weight float64
}

type entry struct {
	hazard  string
	phrases map[string][]phrase
}

// Matcher keeps entries in catalog order; that order breaks score ties.
type Matcher struct {
	entries []entry
	unclear string
}

// New normalizes every phrase once up front. unclear is the hazard
// returned when nothing matches.
func New(entries []Entry, unclear string) *Matcher {
	m := &Matcher{unclear: unclear}
	for _, e := range entries {
		ne := entry{hazard: e.Hazard, phrases: make(map[string][]phrase, len(e.Phrases))}
		for locale, list := range e.Phrases {
			for _, p := range list {
				n := Normalize(p)
				if n == "" {
					continue
				}
				words := float64(len(strings.Fields(n)))
				ne.phrases[locale] = append(ne.phrases[locale], phrase{
					text:   n,
					weight: math.Min(1, words/3),
				})
			}
		}
		m.entries = append(m.entries, ne)
	}
	return m
}

// Classify returns the best scoring hazard for text in locale.
func (m *Matcher) Classify(text, locale string) Match {
	normalized := Normalize(text)
	best := Match{Hazard: m.unclear}
	if normalized == "" {
		return best
	}

	bestScore := 0.0
	for _, e := range m.entries {
		score := 0.0
		for _, p := range e.phrases[locale] {
			if strings.Contains(normalized, p.text) {
				score += p.weight
			}
		}
		if score > bestScore {
			bestScore = score
			best.Hazard = e.hazard
		}
	}
	best.Confidence = math.Min(1, bestScore/3)
	return best
}

var foldMarks = runes.Remove(runes.In(unicode.Mn))

// Normalize lowercases s, strips diacritics and collapses punctuation and
// whitespace runs into single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, foldMarks, norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
