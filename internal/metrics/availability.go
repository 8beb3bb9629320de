package metrics

import (
	"math"
	"sort"
	"time"

	"connkeeper/internal/models"
)

// Availability summarises probe outcomes for one target.
type Availability struct {
	Target        string                       `json:"target"`
	UptimePercent float64                      `json:"uptime_percent"`
	TotalChecks   int                          `json:"total_checks"`
	Passing       int                          `json:"passing"`
	Failing       int                          `json:"failing"`
	LastState     string                       `json:"last_state,omitempty"`
	LastUpdated   string                       `json:"last_updated,omitempty"`
	Outages       map[models.OfflineReason]int `json:"outages_by_reason,omitempty"`
}

// ComputeAvailability aggregates availability per probe target, sorted by target.
func ComputeAvailability(samples []models.ProbeResult) []Availability {
	type acc struct {
		passing  int
		failing  int
		lastOK   bool
		lastTime time.Time
		outages  map[models.OfflineReason]int
	}
	state := make(map[string]*acc)
	for _, sample := range samples {
		target := state[sample.Target]
		if target == nil {
			target = &acc{}
			state[sample.Target] = target
		}
		if sample.OK {
			target.passing++
		} else {
			target.failing++
			if sample.Reason != models.ReasonNone {
				if target.outages == nil {
					target.outages = make(map[models.OfflineReason]int)
				}
				target.outages[sample.Reason]++
			}
		}
		if !sample.CheckedAt.Before(target.lastTime) {
			target.lastOK = sample.OK
			target.lastTime = sample.CheckedAt
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]Availability, 0, len(keys))
	for _, target := range keys {
		data := state[target]
		total := data.passing + data.failing
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.passing) / float64(total) * 100
		}

		result := Availability{
			Target:        target,
			UptimePercent: round2(uptime),
			TotalChecks:   total,
			Passing:       data.passing,
			Failing:       data.failing,
			Outages:       data.outages,
			LastState:     string(models.StatusOffline),
		}
		if data.lastOK {
			result.LastState = string(models.StatusOnline)
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
