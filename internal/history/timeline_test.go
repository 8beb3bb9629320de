package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connkeeper/internal/models"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func probe(offset time.Duration, ok bool) models.ProbeResult {
	res := models.ProbeResult{Target: "health", OK: ok, CheckedAt: t0.Add(offset)}
	if !ok {
		res.Reason = models.ReasonServerUnreachable
		res.Error = "http 503"
	}
	return res
}

func classes(tl models.ConnectivityTimeline) []string {
	out := make([]string, len(tl.Timeline))
	for i, p := range tl.Timeline {
		out[i] = p.ClassName
	}
	return out
}

func TestBuildTimeline_Classes(t *testing.T) {
	entries := []models.ProbeResult{
		probe(2*time.Minute, true),
		probe(7*time.Minute, true),
		probe(12*time.Minute, true),
		probe(17*time.Minute, false),
		probe(22*time.Minute, false),
		probe(27*time.Minute, false),
		{Target: "interfaces", OK: false, CheckedAt: t0.Add(35 * time.Minute)},
	}

	tl := BuildTimeline("health", entries, t0, t0.Add(60*time.Minute), 6)
	require.Len(t, tl.Timeline, 6)
	assert.Equal(t, "health", tl.Target)
	assert.Equal(t, []string{
		classOK, classWarning, classError, classError, classMissing, classMissing,
	}, classes(tl))

	assert.Nil(t, tl.Timeline[0].Details)
	require.Len(t, tl.Timeline[1].Details, 1)
	assert.Equal(t, models.ReasonServerUnreachable, tl.Timeline[1].Details[0].Reason)
	require.Len(t, tl.Timeline[3].Details, 1, "carried-over bucket gets one detail")
	assert.Equal(t, t0.Add(30*time.Minute), tl.Timeline[3].Details[0].Timestamp)
}

func TestBuildTimeline_DetailsAreCapped(t *testing.T) {
	var entries []models.ProbeResult
	for i := 0; i < 10; i++ {
		entries = append(entries, probe(time.Duration(i)*time.Second, false))
	}

	tl := BuildTimeline("", entries, t0, t0.Add(time.Minute), 1)
	require.Len(t, tl.Timeline, 1)
	assert.Equal(t, classError, tl.Timeline[0].ClassName)
	assert.Len(t, tl.Timeline[0].Details, maxDetailsPerPoint)
}

func TestBuildTimeline_Defaults(t *testing.T) {
	tl := BuildTimeline("health", nil, t0, t0, 0)
	assert.Len(t, tl.Timeline, DefaultTimelinePoints)
	assert.Equal(t, t0.Add(time.Minute), tl.End)
	for _, p := range tl.Timeline {
		assert.Equal(t, classMissing, p.ClassName)
	}
}
