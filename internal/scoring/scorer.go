package scoring

// Scorer rates how likely two normalized plate strings are reads of the
// same physical plate. 1.0 means identical, 0.0 means unrelated.
// Implementations must be pure and safe for concurrent use.
type Scorer interface {
	Score(a, b string) float64
}

// ocrClass maps confusable characters onto a class representative.
// Two characters in the same class are cheap to substitute for each
// other; everything else is a full mismatch.
var ocrClass = map[rune]rune{
	'O': '0', '0': '0', 'D': '0',
	'I': '1', 'L': '1', '1': '1',
	'S': '5', '5': '5',
	'B': '8', '8': '8',
	'G': '6', '6': '6',
}

const (
	confusionCost = 0.1
	mismatchCost  = 1.0
	// Leading plate characters are structured (state series prefixes)
	// and rarely misread, so a mismatch there weighs more.
	leadWeight = 1.25
)

// OCRScorer is the default plate similarity function: a weighted edit
// distance where substitutions inside an OCR confusion class are nearly
// free and the leading character carries extra weight.
type OCRScorer struct{}

func NewOCRScorer() OCRScorer {
	return OCRScorer{}
}

func (OCRScorer) Score(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	dist := weightedDistance(ra, rb)

	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	// Total attainable cost: every position a full mismatch.
	total := float64(maxLen-1)*mismatchCost + leadWeight*mismatchCost

	s := 1 - dist/total
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func weightedDistance(a, b []rune) float64 {
	n, m := len(a), len(b)
	prev := make([]float64, m+1)
	cur := make([]float64, m+1)

	for j := 1; j <= m; j++ {
		prev[j] = prev[j-1] + posWeight(j-1)*mismatchCost
	}
	for i := 1; i <= n; i++ {
		w := posWeight(i - 1)
		cur[0] = prev[0] + w*mismatchCost
		for j := 1; j <= m; j++ {
			sub := prev[j-1] + w*substCost(a[i-1], b[j-1])
			del := prev[j] + w*mismatchCost
			ins := cur[j-1] + w*mismatchCost
			cur[j] = min3(sub, del, ins)
		}
		prev, cur = cur, prev
	}
	return prev[m]
}

func substCost(x, y rune) float64 {
	if x == y {
		return 0
	}
	cx, okx := ocrClass[x]
	cy, oky := ocrClass[y]
	if okx && oky && cx == cy {
		return confusionCost
	}
	return mismatchCost
}

func posWeight(i int) float64 {
	if i == 0 {
		return leadWeight
	}
	return 1.0
}

func min3(a, b, c float64) float64 {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
