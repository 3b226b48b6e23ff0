package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"lpr-session-service/internal/domain/lpr"
)

// Options shape one generated batch.
type Options struct {
	Zones      []string
	Pairs      int     // complete IN/OUT visits
	OrphanINs  int     // entries that never exit
	OrphanOUTs int     // exits with no recorded entry
	NoiseRate  float64 // fraction of OUT plates given an OCR misread
	Span       time.Duration
	End        time.Time
	Seed       int64
}

var states = []string{"NE", "IA", "KS", "MO", "SD", "CO", "MN"}

// ocrMisreads maps a character to what a camera plausibly reads
// instead.
var ocrMisreads = map[rune][]rune{
	'0': {'O', 'D'},
	'O': {'0'},
	'1': {'I', 'L'},
	'I': {'1'},
	'5': {'S'},
	'S': {'5'},
	'8': {'B'},
	'B': {'8'},
	'6': {'G'},
	'G': {'6'},
}

// Generate builds a synthetic event batch: complete visits, orphans on
// both sides, and a share of OUT plates corrupted the way OCR actually
// misreads them.
func Generate(opts Options) []lpr.EventRow {
	if opts.Seed != 0 {
		gofakeit.Seed(opts.Seed)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	if len(opts.Zones) == 0 {
		opts.Zones = []string{"LOT-A"}
	}
	if opts.Span <= 0 {
		opts.Span = 48 * time.Hour
	}
	end := opts.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.Add(-opts.Span)

	var rows []lpr.EventRow
	for i := 0; i < opts.Pairs; i++ {
		zone := opts.Zones[rng.Intn(len(opts.Zones))]
		plate := randomPlate()
		state := states[rng.Intn(len(states))]
		entry := randomTime(rng, start, end.Add(-time.Hour))
		stay := time.Duration(15+rng.Intn(600)) * time.Minute

		rows = append(rows, eventRow(entry, zone, lpr.DirectionIn, plate, state, "CAM-IN-1", rng))

		outPlate := plate
		if rng.Float64() < opts.NoiseRate {
			outPlate = misread(rng, plate)
		}
		rows = append(rows, eventRow(entry.Add(stay), zone, lpr.DirectionOut, outPlate, state, "CAM-OUT-1", rng))
	}

	for i := 0; i < opts.OrphanINs; i++ {
		zone := opts.Zones[rng.Intn(len(opts.Zones))]
		ts := randomTime(rng, start, end)
		rows = append(rows, eventRow(ts, zone, lpr.DirectionIn, randomPlate(), states[rng.Intn(len(states))], "CAM-IN-1", rng))
	}
	for i := 0; i < opts.OrphanOUTs; i++ {
		zone := opts.Zones[rng.Intn(len(opts.Zones))]
		ts := randomTime(rng, start, end)
		rows = append(rows, eventRow(ts, zone, lpr.DirectionOut, randomPlate(), states[rng.Intn(len(states))], "CAM-OUT-1", rng))
	}
	return rows
}

func eventRow(ts time.Time, zone, direction, plate, state, camera string, rng *rand.Rand) lpr.EventRow {
	return lpr.EventRow{
		TS:        ts.UTC().Format(time.RFC3339),
		Zone:      zone,
		Direction: direction,
		PlateRaw:  plate,
		StateRaw:  state,
		CameraID:  camera,
		Quality:   0.5 + rng.Float64()*0.5,
	}
}

func randomPlate() string {
	return fmt.Sprintf("%s%s",
		strings.ToUpper(gofakeit.LetterN(3)),
		gofakeit.DigitN(3),
	)
}

func randomTime(rng *rand.Rand, start, end time.Time) time.Time {
	span := end.Sub(start)
	if span <= 0 {
		return start
	}
	return start.Add(time.Duration(rng.Int63n(int64(span)))).Truncate(time.Second)
}

// misread swaps one confusable character, or the last character when
// none qualifies.
func misread(rng *rand.Rand, plate string) string {
	runes := []rune(plate)
	var positions []int
	for i, r := range runes {
		if len(ocrMisreads[r]) > 0 {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		runes[len(runes)-1] = rune('A' + rng.Intn(26))
		return string(runes)
	}
	pos := positions[rng.Intn(len(positions))]
	choices := ocrMisreads[runes[pos]]
	runes[pos] = choices[rng.Intn(len(choices))]
	return string(runes)
}
