package service

import (
	"time"

	"lpr-session-service/internal/domain/lpr"
)

const minutesPerDay = 24 * 60

// computeBillingCents prices a stay: a free grace period, then a
// per-started-hour rate capped per 24h block.
func computeBillingCents(duration time.Duration, rules lpr.BillingRules) int64 {
	if rules.HourlyCents <= 0 {
		return 0
	}
	minutes := int64(duration / time.Minute)
	chargeable := minutes - int64(rules.FreeMinutes)
	if chargeable <= 0 {
		return 0
	}

	dayCharge := rules.HourlyCents * 24
	if rules.DailyMaxCents > 0 && dayCharge > rules.DailyMaxCents {
		dayCharge = rules.DailyMaxCents
	}

	fullDays := chargeable / minutesPerDay
	remMinutes := chargeable % minutesPerDay
	remCharge := ((remMinutes + 59) / 60) * rules.HourlyCents
	if rules.DailyMaxCents > 0 && remCharge > rules.DailyMaxCents {
		remCharge = rules.DailyMaxCents
	}
	return fullDays*dayCharge + remCharge
}

// sessionFlags derives OVERNIGHT/MULTIDAY from the pairing times.
func sessionFlags(entry, exit time.Time) []string {
	var flags []string
	ey, em, ed := entry.UTC().Date()
	xy, xm, xd := exit.UTC().Date()
	if ey != xy || em != xm || ed != xd {
		flags = append(flags, lpr.FlagOvernight)
	}
	if exit.Sub(entry) > 24*time.Hour {
		flags = append(flags, lpr.FlagMultiday)
	}
	return flags
}
