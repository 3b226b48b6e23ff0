package scoring

// Candidate prefilter for the fuzzy sweep. This bounds the O(n×m)
// candidate set before the scorer runs: pairs must have fuzzy keys of
// near-equal length and enough shared trigrams to plausibly be the
// same plate.

const (
	prefilterMinSimilarity = 0.3
	prefilterMaxLenDiff    = 1
)

// Prefilter reports whether a pair of fuzzy keys is worth scoring.
func Prefilter(aFuzzy, bFuzzy string) bool {
	if aFuzzy == "" || bFuzzy == "" {
		return false
	}
	d := len(aFuzzy) - len(bFuzzy)
	if d < -prefilterMaxLenDiff || d > prefilterMaxLenDiff {
		return false
	}
	return TrigramSimilarity(aFuzzy, bFuzzy) >= prefilterMinSimilarity
}

// TrigramSimilarity is the Jaccard similarity of the padded trigram
// sets of two strings, matching the behavior of the pg_trgm style
// prefilter the sweep replaces.
func TrigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	padded := "  " + s + " "
	out := make(map[string]struct{}, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		out[padded[i:i+3]] = struct{}{}
	}
	return out
}
