package degradation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connkeeper/internal/models"
)

var defaults = Thresholds{GracePeriodHours: 72, PartialThresholdMinutes: 60}

func available(r Result) map[Feature]bool {
	out := make(map[Feature]bool, len(r.Features))
	for f, a := range r.Features {
		out[f] = a.Available
	}
	return out
}

func TestEvaluate_Table(t *testing.T) {
	tests := []struct {
		name    string
		status  models.NetworkStatus
		minutes int
		level   Level
		want    map[Feature]bool
	}{
		{
			name:   "online",
			status: models.StatusOnline,
			level:  LevelNone,
			want: map[Feature]bool{
				FeatureSendMessages: true, FeatureUseAI: true, FeatureCreateAccounts: true,
				FeatureExportData: true, FeatureViewAnalytics: true,
			},
		},
		{
			name:    "offline below partial threshold",
			status:  models.StatusOffline,
			minutes: 59,
			level:   LevelNone,
			want: map[Feature]bool{
				FeatureSendMessages: true, FeatureUseAI: true, FeatureCreateAccounts: true,
				FeatureExportData: true, FeatureViewAnalytics: true,
			},
		},
		{
			name:    "offline at partial threshold",
			status:  models.StatusOffline,
			minutes: 60,
			level:   LevelPartial,
			want: map[Feature]bool{
				FeatureSendMessages: true, FeatureUseAI: false, FeatureCreateAccounts: false,
				FeatureExportData: true, FeatureViewAnalytics: false,
			},
		},
		{
			name:    "reconnecting counts as offline",
			status:  models.StatusReconnecting,
			minutes: 61,
			level:   LevelPartial,
			want: map[Feature]bool{
				FeatureSendMessages: true, FeatureUseAI: false, FeatureCreateAccounts: false,
				FeatureExportData: true, FeatureViewAnalytics: false,
			},
		},
		{
			name:    "grace expired",
			status:  models.StatusOffline,
			minutes: 72 * 60,
			level:   LevelFull,
			want: map[Feature]bool{
				FeatureSendMessages: false, FeatureUseAI: false, FeatureCreateAccounts: false,
				FeatureExportData: true, FeatureViewAnalytics: false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.status, tt.minutes, defaults)
			assert.Equal(t, tt.level, r.Level)
			assert.Equal(t, tt.want, available(r))
			for _, a := range r.Features {
				if a.Available {
					assert.Empty(t, a.Reason)
				} else {
					assert.NotEmpty(t, a.Reason)
				}
			}
		})
	}
}

func TestEvaluate_GraceBoundary(t *testing.T) {
	before := Evaluate(models.StatusOffline, 4319, defaults)
	assert.False(t, before.GraceExpired)
	assert.Greater(t, before.GraceRemainingHours, 0.0)
	assert.Equal(t, LevelPartial, before.Level)

	at := Evaluate(models.StatusOffline, 4320, defaults)
	assert.True(t, at.GraceExpired)
	assert.Equal(t, 0.0, at.GraceRemainingHours)
	assert.Equal(t, LevelFull, at.Level)

	after := Evaluate(models.StatusOffline, 10000, defaults)
	assert.Equal(t, 0.0, after.GraceRemainingHours)
}

func TestEvaluate_LevelMonotonicWhileOffline(t *testing.T) {
	prev := LevelNone
	for m := 0; m <= 72*60+10; m++ {
		lvl := Evaluate(models.StatusOffline, m, defaults).Level
		require.GreaterOrEqual(t, lvl, prev, "level decreased at minute %d", m)
		prev = lvl
	}
	assert.Equal(t, LevelFull, prev)
	assert.Equal(t, LevelNone, Evaluate(models.StatusOnline, 0, defaults).Level)
}

func TestEvaluate_GraceRemaining(t *testing.T) {
	assert.InDelta(t, 71.5, Evaluate(models.StatusOffline, 30, defaults).GraceRemainingHours, 1e-9)
	assert.Equal(t, 72.0, Evaluate(models.StatusOnline, 0, defaults).GraceRemainingHours)
	assert.False(t, Evaluate(models.StatusOnline, 0, defaults).GraceExpired)
}

func TestEvaluate_ShortGraceSkipsPartial(t *testing.T) {
	th := Thresholds{GracePeriodHours: 1, PartialThresholdMinutes: 90}
	assert.Equal(t, LevelNone, Evaluate(models.StatusOffline, 59, th).Level)
	assert.Equal(t, LevelFull, Evaluate(models.StatusOffline, 60, th).Level)
}

func TestLevel_JSON(t *testing.T) {
	data, err := json.Marshal(Evaluate(models.StatusOffline, 60, defaults))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"partial"`)
	assert.Contains(t, string(data), `"useAI":{"available":false`)
	assert.Equal(t, "unknown(7)", Level(7).String())
}
