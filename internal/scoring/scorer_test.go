package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreIdentical(t *testing.T) {
	s := NewOCRScorer()
	assert.Equal(t, 1.0, s.Score("ABC123", "ABC123"))
}

func TestScoreEmpty(t *testing.T) {
	s := NewOCRScorer()
	assert.Equal(t, 0.0, s.Score("", ""))
	assert.Equal(t, 0.0, s.Score("ABC123", ""))
	assert.Equal(t, 0.0, s.Score("", "ABC123"))
}

func TestScoreOCRConfusionScoresHigh(t *testing.T) {
	s := NewOCRScorer()

	// Single 0/O confusion on a 6-char plate must clear a 0.95 bar.
	got := s.Score("AB0123", "ABO123")
	assert.Greater(t, got, 0.95)
	assert.Less(t, got, 1.0)

	assert.Greater(t, s.Score("SLA7E1", "5LA7E1"), 0.95)
	assert.Greater(t, s.Score("B8G6I1", "88660I"), 0.7)
}

func TestScoreTrueMismatchScoresLow(t *testing.T) {
	s := NewOCRScorer()

	// A genuinely different trailing digit is not an OCR confusion.
	got := s.Score("ABC123", "ABC124")
	assert.Less(t, got, 0.9)
	assert.Greater(t, got, 0.8)

	// Entirely different plates land near zero.
	assert.Less(t, s.Score("ABC123", "XYZ789"), 0.3)
}

func TestScoreConfusionBeatsMismatch(t *testing.T) {
	s := NewOCRScorer()
	confusion := s.Score("AB0123", "ABO123")
	mismatch := s.Score("ABC123", "ABC124")
	assert.Greater(t, confusion, mismatch)
}

func TestScoreLeadingMismatchWeighsMore(t *testing.T) {
	s := NewOCRScorer()
	lead := s.Score("XBC123", "ABC123")
	tail := s.Score("ABC12X", "ABC123")
	assert.Less(t, lead, tail)
}

func TestScoreLengthDifference(t *testing.T) {
	s := NewOCRScorer()
	// Missing character costs a full indel.
	got := s.Score("ABC123", "ABC12")
	assert.Less(t, got, 0.9)
}

func TestScoreSymmetricOnEqualLengths(t *testing.T) {
	s := NewOCRScorer()
	assert.InDelta(t, s.Score("AB0123", "ABO123"), s.Score("ABO123", "AB0123"), 1e-9)
}

func TestPrefilter(t *testing.T) {
	// Same fuzzy key always passes.
	assert.True(t, Prefilter("A8C123", "A8C123"))
	// One differing character keeps plenty of shared trigrams.
	assert.True(t, Prefilter("A8C123", "A8C12X"))
	// Unrelated plates are cut before scoring.
	assert.False(t, Prefilter("A8C123", "XYZ789"))
	// Length gap beyond one character is cut.
	assert.False(t, Prefilter("A8C123", "A8C12345"))
	assert.False(t, Prefilter("", "A8C123"))
}

func TestTrigramSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, TrigramSimilarity("ABC123", "ABC123"))
	sim := TrigramSimilarity("ABC123", "ABC124")
	assert.Greater(t, sim, 0.3)
	assert.Less(t, sim, 1.0)
}
