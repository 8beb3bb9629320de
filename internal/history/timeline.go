// Package history reduces probe history into compact timelines for display.
package history

import (
	"sort"
	"time"

	"connkeeper/internal/models"
)

const (
	// DefaultTimelinePoints controls how many dots a timeline has.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4

	classOK      = "state-ok"
	classError   = "state-error"
	classWarning = "state-warning"
	classMissing = "state-missing"
)

// BuildTimeline buckets probe results for one target between start and end.
// A bucket is ok when every probe in it passed, error when every probe failed
// and warning when it mixes both. Empty buckets carry the previous state while
// the gap stays within twice the median probe interval.
func BuildTimeline(target string, entries []models.ProbeResult, start, end time.Time, points int) models.ConnectivityTimeline {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	samples := make([]models.ProbeResult, 0, len(entries))
	for _, entry := range entries {
		if entry.CheckedAt.IsZero() {
			continue
		}
		if target != "" && entry.Target != target {
			continue
		}
		samples = append(samples, entry)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].CheckedAt.Before(samples[j].CheckedAt)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}
	gapThreshold := deriveGap(samples)

	timeline := make([]models.TimelinePoint, 0, points)
	idx := 0
	var last models.ProbeResult
	var haveLast bool
	for idx < len(samples) && samples[idx].CheckedAt.Before(start) {
		last = samples[idx]
		haveLast = true
		idx++
	}

	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}

		point := models.TimelinePoint{
			ClassName: classMissing,
			Label:     "No data",
			Start:     bucketStart,
			End:       bucketEnd,
		}

		var bucket []models.ProbeResult
		for idx < len(samples) && samples[idx].CheckedAt.Before(bucketEnd) {
			bucket = append(bucket, samples[idx])
			idx++
		}
		if i == points-1 {
			for idx < len(samples) && !samples[idx].CheckedAt.After(end) {
				bucket = append(bucket, samples[idx])
				idx++
			}
		}

		switch {
		case len(bucket) > 0:
			point.ClassName, point.Label, point.Details = evaluateBucket(bucket)
			last = bucket[len(bucket)-1]
			haveLast = true
		case haveLast && bucketStart.Sub(last.CheckedAt) <= gapThreshold:
			point.ClassName, point.Label = classFor(last.OK)
			if !last.OK {
				detail := detailFor(last)
				detail.Timestamp = bucketStart
				point.Details = []models.TimelineDetail{detail}
			}
		}
		timeline = append(timeline, point)
	}

	return models.ConnectivityTimeline{
		Target:   target,
		Start:    start,
		End:      end,
		Timeline: timeline,
	}
}

func evaluateBucket(bucket []models.ProbeResult) (className, label string, details []models.TimelineDetail) {
	var passing, failing int
	for _, res := range bucket {
		if res.OK {
			passing++
			continue
		}
		failing++
		if len(details) < maxDetailsPerPoint {
			details = append(details, detailFor(res))
		}
	}

	switch {
	case failing == 0:
		return classOK, "Online", nil
	case passing == 0:
		return classError, "Offline", details
	default:
		return classWarning, "Unstable", details
	}
}

func classFor(ok bool) (className, label string) {
	if ok {
		return classOK, "Online"
	}
	return classError, "Offline"
}

func detailFor(res models.ProbeResult) models.TimelineDetail {
	return models.TimelineDetail{
		Timestamp: res.CheckedAt,
		Reason:    res.Reason,
		Error:     res.Error,
	}
}

func deriveGap(samples []models.ProbeResult) time.Duration {
	const defaultGap = 5 * time.Minute
	if len(samples) < 2 {
		return defaultGap
	}
	diffs := make([]time.Duration, 0, len(samples)-1)
	prev := samples[0].CheckedAt
	for i := 1; i < len(samples); i++ {
		curr := samples[i].CheckedAt
		if curr.After(prev) {
			diffs = append(diffs, curr.Sub(prev))
		}
		prev = curr
	}
	if len(diffs) == 0 {
		return defaultGap
	}
	sort.Slice(diffs, func(i, j int) bool {
		return diffs[i] < diffs[j]
	})
	median := diffs[len(diffs)/2]
	if median <= 0 {
		return defaultGap
	}
	gap := median * 2
	if gap < time.Minute {
		return time.Minute
	}
	if gap > 2*time.Hour {
		return 2 * time.Hour
	}
	return gap
}
