package signals

import (
	"fmt"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Gap is the silence since the lead's last message, bucketed.
type Gap string

const (
	GapNone         Gap = "none"
	GapOverAnHour   Gap = "over_an_hour"
	GapSeveralHours Gap = "several_hours"
	GapDayOrMore    Gap = "day_or_more"
)

// Freshness describes where the conversation sits in time.
type Freshness string

const (
	FreshnessNew                 Freshness = "new"
	FreshnessVeryFresh           Freshness = "very_fresh"
	FreshnessActive              Freshness = "active"
	FreshnessResumedRecently     Freshness = "resumed_recently"
	FreshnessResumedAfterHours   Freshness = "resumed_after_hours"
	FreshnessResumedAfterLongGap Freshness = "resumed_after_long_gap"
)

// TemporalContext is the timing picture of a conversation at a given instant.
type TemporalContext struct {
	SinceLastUser time.Duration `json:"sinceLastUser"`
	SinceStart    time.Duration `json:"sinceStart"`
	Resuming      bool          `json:"resuming"`
	Gap           Gap           `json:"gap"`
	Freshness     Freshness     `json:"freshness"`
}

const veryFreshWindow = 5 * time.Minute

// Temporal measures gaps in history relative to now. Messages without a timestamp are ignored.
func Temporal(history []models.Message, now time.Time) TemporalContext {
	var first, lastUser time.Time
	for _, m := range history {
		if m.Timestamp.IsZero() {
			continue
		}
		if first.IsZero() || m.Timestamp.Before(first) {
			first = m.Timestamp
		}
		if m.IsUser() && m.Timestamp.After(lastUser) {
			lastUser = m.Timestamp
		}
	}
	if first.IsZero() {
		return TemporalContext{Gap: GapNone, Freshness: FreshnessNew}
	}

	tc := TemporalContext{SinceStart: now.Sub(first), Gap: GapNone, Freshness: FreshnessActive}
	if !lastUser.IsZero() {
		tc.SinceLastUser = now.Sub(lastUser)
	}

	switch {
	case tc.SinceLastUser > 24*time.Hour:
		tc.Gap, tc.Freshness, tc.Resuming = GapDayOrMore, FreshnessResumedAfterLongGap, true
	case tc.SinceLastUser > 6*time.Hour:
		tc.Gap, tc.Freshness, tc.Resuming = GapSeveralHours, FreshnessResumedAfterHours, true
	case tc.SinceLastUser > time.Hour:
		tc.Gap, tc.Freshness, tc.Resuming = GapOverAnHour, FreshnessResumedRecently, true
	case tc.SinceStart < veryFreshWindow:
		tc.Freshness = FreshnessVeryFresh
	}
	return tc
}

// HumanDuration renders d in Spanish at the coarsest whole unit.
func HumanDuration(d time.Duration) string {
	if d <= 0 {
		return "tiempo desconocido"
	}
	minutes := int(d / time.Minute)
	hours := minutes / 60
	days := hours / 24
	switch {
	case days > 0:
		return plural(days, "día", "días")
	case hours > 0:
		return plural(hours, "hora", "horas")
	default:
		return plural(minutes, "minuto", "minutos")
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
