// Package progress turns loop events into human-readable lines and fans
// them out to sinks without ever blocking the loop.
package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/licrm/internal/events"
	"github.com/Dicklesworthstone/licrm/internal/scheduler"
)

// Format renders e as a single line, with times in the local zone.
func Format(e events.Event) string {
	return FormatIn(e, time.Local)
}

// FormatIn renders e with times shown in loc.
func FormatIn(e events.Event, loc *time.Location) string {
	switch e.Kind {
	case events.KindSuccess:
		return fmt.Sprintf(
			"Removed %d of %d licenses (success code: %d). Rate: %d/hour (last hour), %s/hour (overall). ETA: %s",
			e.Removed, e.Total, e.Code, e.RecentRate, formatRate(e.OverallRate), e.ETA.In(loc).Format(time.TimeOnly),
		)
	case events.KindCooldownStart:
		return fmt.Sprintf("Cooldown detected on license %s! Waiting %s before continuing...",
			e.ID, scheduler.FormatCountdown(e.CooldownRemaining))
	case events.KindCooldownTick:
		return fmt.Sprintf("Cooldown: %s minutes remaining", scheduler.FormatCountdown(e.CooldownRemaining))
	case events.KindCooldownEnd:
		return "Cooldown period finished, resuming license removal..."
	case events.KindRetry:
		return fmt.Sprintf("Failed to remove license %s (attempt %d), will retry: %s", e.ID, e.Attempt, detail(e))
	case events.KindAbandoned:
		return fmt.Sprintf("Giving up on license %s after %d attempts: %s", e.ID, e.Attempt, detail(e))
	case events.KindDrained:
		if len(e.Abandoned) == 0 && e.Removed == e.Total {
			return fmt.Sprintf("All %d licenses removed!", e.Total)
		}
		s := fmt.Sprintf("Finished: removed %d of %d licenses", e.Removed, e.Total)
		if len(e.Abandoned) > 0 {
			s += fmt.Sprintf(" (%d abandoned: %s)", len(e.Abandoned), strings.Join(e.Abandoned, ", "))
		}
		return s
	default:
		return string(e.Kind)
	}
}

func detail(e events.Event) string {
	if e.Error != "" {
		return e.Error
	}
	if e.Code != 0 {
		return "response code " + strconv.Itoa(e.Code)
	}
	return "unknown error"
}

// formatRate drops a trailing ".0" the way the rate is usually quoted.
func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
