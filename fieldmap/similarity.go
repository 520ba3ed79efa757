package fieldmap

import "github.com/agnivade/levenshtein"

// Similarity scores two field names in [0,1] as 1 - distance/max(len).
// Deterministic and symmetric; Similarity(a,a) == 1.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	s := 1 - float64(d)/float64(maxLen)
	if s < 0 {
		return 0
	}
	return s
}
