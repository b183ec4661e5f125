package dedup

import (
	"math/bits"
	"sort"
	"strings"
	"unicode"
)

// TokenSetRatio scores the similarity of two texts on a 0-100 scale from their
// word sets. Tokens are lower-cased and split on anything that is not a letter
// or digit, so word order, repetition, case and punctuation do not matter.
// The score is the best Indel ratio between the shared tokens and each side's
// full token set, as popularised by fuzzywuzzy's token_set_ratio.
func TokenSetRatio(a, b string) float64 {
	return tokenSetRatio(newTokenSet(a), newTokenSet(b))
}

type tokenSet map[string]struct{}

func newTokenSet(s string) tokenSet {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := make(tokenSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}

	return set
}

func tokenSetRatio(a, b tokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var sect, diffAB, diffBA []string

	for tok := range a {
		if _, ok := b[tok]; ok {
			sect = append(sect, tok)
		} else {
			diffAB = append(diffAB, tok)
		}
	}

	for tok := range b {
		if _, ok := a[tok]; !ok {
			diffBA = append(diffBA, tok)
		}
	}

	if len(sect) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	sectJoined := joinSorted(sect)
	abJoined := joinSorted(diffAB)
	baJoined := joinSorted(diffBA)

	sectLen := runeLen(sectJoined)
	abLen := runeLen(abJoined)
	baLen := runeLen(baJoined)

	sep := 0
	if sectLen > 0 {
		sep = 1
	}

	sectABLen := sectLen + sep + abLen
	sectBALen := sectLen + sep + baLen

	// "sect diffAB" vs "sect diffBA" share their prefix, so their Indel
	// distance is the distance between the two differences.
	best := normalized(indel([]rune(abJoined), []rune(baJoined)), sectABLen+sectBALen)

	if sectLen == 0 {
		return best
	}

	// sect vs "sect diffAB" differs by the separator and diffAB only.
	if r := normalized(sep+abLen, sectLen+sectABLen); r > best {
		best = r
	}

	if r := normalized(sep+baLen, sectLen+sectBALen); r > best {
		best = r
	}

	return best
}

func joinSorted(tokens []string) string {
	sort.Strings(tokens)

	return strings.Join(tokens, " ")
}

func runeLen(s string) int {
	return len([]rune(s))
}

func normalized(dist, lensum int) float64 {
	if lensum == 0 {
		return 100
	}

	return 100 * (1 - float64(dist)/float64(lensum))
}

// indel is the insertion/deletion edit distance: len(a)+len(b)-2*LCS(a, b).
func indel(a, b []rune) int {
	return len(a) + len(b) - 2*lcs(a, b)
}

// lcs returns the length of the longest common subsequence using the
// bit-parallel algorithm of Hyyrö (2004): each machine word carries 64 cells
// of a dynamic-programming row, so the cost is O(len(b) * len(a)/64).
func lcs(a, b []rune) int {
	if len(a) > len(b) {
		a, b = b, a
	}

	n := len(a)
	if n == 0 {
		return 0
	}

	words := (n + 63) / 64

	// Positions of each rune of a, one bit per position.
	positions := make(map[rune][]uint64)

	for i, r := range a {
		v, ok := positions[r]
		if !ok {
			v = make([]uint64, words)
			positions[r] = v
		}

		v[i/64] |= 1 << (uint(i) % 64)
	}

	row := make([]uint64, words)
	for w := range row {
		row[w] = ^uint64(0)
	}

	for _, r := range b {
		match, ok := positions[r]
		if !ok {
			continue
		}

		var carry uint64

		for w := range row {
			u := row[w] & match[w]

			var sum uint64
			sum, carry = bits.Add64(row[w], u, carry)
			row[w] = sum | (row[w] &^ u)
		}
	}

	ones := 0

	for w, v := range row {
		if w == words-1 && n%64 != 0 {
			v &= 1<<(uint(n)%64) - 1
		}

		ones += bits.OnesCount64(v)
	}

	return n - ones
}
