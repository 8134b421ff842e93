package command

import (
	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90

	// Tokens shorter than this are too ambiguous to match by sound.
	minPhoneticLen = 3
)

// phoneticMatcher resolves a misheard command token to the vocabulary entry
// it sounds most like.
//
// Candidates whose Double Metaphone codes overlap the token's are ranked by
// Jaro-Winkler similarity and accepted above the phonetic threshold. If no
// candidate shares a code, pure Jaro-Winkler similarity is tried against the
// stricter fuzzy threshold.
type phoneticMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newPhoneticMatcher() *phoneticMatcher {
	return &phoneticMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// match returns the canonical command for token. vocab maps every accepted
// spelling to its canonical name.
func (m *phoneticMatcher) match(token string, vocab map[string]string) (string, bool) {
	if len(token) < minPhoneticLen {
		return "", false
	}
	tokenCodes := codes(token)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for word, canonical := range vocab {
		if len(word) < minPhoneticLen {
			continue
		}
		score := matchr.JaroWinkler(token, word, false)
		phonetic := overlap(tokenCodes, codes(word))

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore || (score == bestScore && canonical < best) {
				best, bestScore, bestPhonetic = canonical, score, true
			}
		case !phonetic && !bestPhonetic && score >= m.fuzzyThreshold:
			if score > bestScore || (score == bestScore && canonical < best) {
				best, bestScore = canonical, score
			}
		}
	}
	return best, best != ""
}

// codes returns the non-empty Double Metaphone codes for word.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
