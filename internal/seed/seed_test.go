package seed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-session-service/internal/domain/lpr"
)

func TestGenerateShape(t *testing.T) {
	rows := Generate(Options{
		Zones:      []string{"A", "B"},
		Pairs:      20,
		OrphanINs:  5,
		OrphanOUTs: 3,
		Seed:       42,
	})
	require.Len(t, rows, 20*2+5+3)

	ins, outs := 0, 0
	for _, row := range rows {
		switch row.Direction {
		case lpr.DirectionIn:
			ins++
		case lpr.DirectionOut:
			outs++
		default:
			t.Fatalf("unexpected direction %q", row.Direction)
		}
		assert.NotEmpty(t, row.PlateRaw)
		assert.Contains(t, []string{"A", "B"}, row.Zone)
		_, err := time.Parse(time.RFC3339, row.TS)
		assert.NoError(t, err)
	}
	assert.Equal(t, 25, ins)
	assert.Equal(t, 23, outs)
}

func TestGenerateNoiseProducesMisreads(t *testing.T) {
	rows := Generate(Options{Pairs: 50, NoiseRate: 1.0, Seed: 7})

	mismatched := 0
	for i := 0; i < len(rows); i += 2 {
		if rows[i].PlateRaw != rows[i+1].PlateRaw {
			mismatched++
		}
	}
	assert.Equal(t, 50, mismatched)
}

func TestMisreadChangesExactlyOneChar(t *testing.T) {
	rows := Generate(Options{Pairs: 30, NoiseRate: 1.0, Seed: 3})
	for i := 0; i < len(rows); i += 2 {
		in, out := rows[i].PlateRaw, rows[i+1].PlateRaw
		require.Equal(t, len(in), len(out))
		diffs := 0
		for j := range in {
			if in[j] != out[j] {
				diffs++
			}
		}
		assert.Equal(t, 1, diffs, "%s vs %s", in, out)
	}
}
