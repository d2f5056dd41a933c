package similarity

import "unicode/utf8"

// Distance returns the Damerau-Levenshtein distance between a and b: the
// minimum number of single-rune insertions, deletions, substitutions and
// adjacent transpositions turning a into b. No substring is edited more than
// once (optimal string alignment).
//
// Runes are compared exactly; callers fold case beforehand.
func Distance(a, b string) int {
	if a == b {
		return 0
	}

	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			d[i][j] = min(
				d[i-1][j]+1,      // deletion
				d[i][j-1]+1,      // insertion
				d[i-1][j-1]+cost, // substitution
			)

			// ab -> ba
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+cost)
			}
		}
	}

	return d[len(ra)][len(rb)]
}

// WordSimilarity turns the distance between x and y into a score in [0, 1],
// relative to the longer of the two. Two empty strings score 1.
func WordSimilarity(x, y string) float64 {
	length := max(utf8.RuneCountInString(x), utf8.RuneCountInString(y))
	if length == 0 {
		return 1.0
	}
	return float64(length-Distance(x, y)) / float64(length)
}
