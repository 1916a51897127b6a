// Package textfilter softens NPC lines for family-friendly content ratings.
package textfilter

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const censored = "[censored]"

// replacements maps each filtered word or phrase to its substitute.
var replacements = map[string]string{
	"fuck":         "fudge",
	"motherfucker": "mother-trucker",
	"shit":         "shoot",
	"bullshit":     "baloney",
	"horseshit":    "nonsense",
	"shithead":     "dolt",
	"damn":         "dang",
	"goddamn":      "gosh-dang",
	"hell":         "heck",
	"ass":          "rump",
	"asshole":      "lout",
	"jackass":      "lout",
	"dumbass":      "dullard",
	"bitch":        "wretch",
	"bastard":      "scoundrel",
	"crap":         "crud",
	"piss":         "blast",
	"dick":         "knave",
	"prick":        "knave",
	"whore":        censored,
	"slut":         censored,
	"cock":         censored,
	"tits":         censored,
	"christ":       "crikey",
}

// Rating is a content rating. Only the family ratings are filtered.
type Rating string

const (
	RatingG    Rating = "G"
	RatingPG   Rating = "PG"
	RatingPG13 Rating = "PG13"
	RatingR    Rating = "R"
)

// ParseRating normalizes rating strings such as "pg-13".
func ParseRating(s string) Rating {
	s = strings.ToUpper(strings.TrimSpace(s))
	return Rating(strings.ReplaceAll(s, "-", ""))
}

// Filtered reports whether lines shown under r should be filtered.
func (r Rating) Filtered() bool {
	switch r {
	case RatingG, RatingPG, RatingPG13:
		return true
	}
	return false
}

// Filter replaces filtered words while keeping the speaker's capitalization.
// A nil *Filter passes text through unchanged.
type Filter struct {
	pattern *regexp.Regexp
}

// New compiles the word list into a single pattern. Longer words are tried
// first so "bullshit" wins over "shit".
func New() *Filter {
	words := make([]string, 0, len(replacements))
	for w := range replacements {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return &Filter{
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`),
	}
}

// ForRating returns a filter when rating requires one, nil otherwise.
func ForRating(rating string) *Filter {
	if ParseRating(rating).Filtered() {
		return New()
	}
	return nil
}

// Apply returns text with every filtered word substituted.
func (f *Filter) Apply(text string) string {
	if f == nil || text == "" {
		return text
	}
	return f.pattern.ReplaceAllStringFunc(text, func(match string) string {
		sub, ok := replacements[strings.ToLower(match)]
		if !ok {
			return match
		}
		return matchCase(match, sub)
	})
}

// Contains reports whether text has anything the filter would replace.
func (f *Filter) Contains(text string) bool {
	return f != nil && f.pattern.MatchString(text)
}

func matchCase(original, sub string) string {
	// a Caser is stateful, so each call gets its own
	title := cases.Title(language.English)
	switch {
	case sub == censored:
		return sub
	case strings.ToUpper(original) == original:
		return strings.ToUpper(sub)
	case strings.ToLower(original) == original:
		return sub
	case title.String(strings.ToLower(original)) == original:
		return title.String(sub)
	}

	// mixed case: copy the pattern rune by rune, lowercase past the end
	orig := []rune(original)
	out := []rune(sub)
	for i, r := range out {
		if i < len(orig) && unicode.IsUpper(orig[i]) {
			out[i] = unicode.ToUpper(r)
		} else {
			out[i] = unicode.ToLower(r)
		}
	}
	return string(out)
}
