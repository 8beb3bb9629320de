// Package degradation maps offline duration to a tiered reduction of
// application features. Everything here is pure and deterministic.
package degradation

import (
	"fmt"
	"math"

	"connkeeper/internal/models"
)

// Level is the degradation tier. Levels are ordered: None < Partial < Full.
type Level int

const (
	LevelNone Level = iota
	LevelPartial
	LevelFull
)

// String returns the wire name of the level.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelPartial:
		return "partial"
	case LevelFull:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Feature names an application capability gated by connectivity.
type Feature string

const (
	FeatureSendMessages   Feature = "sendMessages"
	FeatureUseAI          Feature = "useAI"
	FeatureCreateAccounts Feature = "createAccounts"
	FeatureExportData     Feature = "exportData"
	FeatureViewAnalytics  Feature = "viewAnalytics"
)

// AllFeatures lists every gated feature in display order.
var AllFeatures = []Feature{
	FeatureSendMessages,
	FeatureUseAI,
	FeatureCreateAccounts,
	FeatureExportData,
	FeatureViewAnalytics,
}

// Availability tells whether a feature can be used right now.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

// Features maps each feature to its availability.
type Features map[Feature]Availability

const (
	reasonNeedsConnection = "Requires a connection to the server"
	reasonGraceExpired    = "Offline grace period has expired"
)

// Thresholds configure the policy.
type Thresholds struct {
	GracePeriodHours        int
	PartialThresholdMinutes int
}

// Result is the derived read model for one evaluation.
type Result struct {
	Level               Level    `json:"level"`
	Features            Features `json:"features"`
	GraceRemainingHours float64  `json:"grace_remaining_hours"`
	GraceExpired        bool     `json:"grace_expired"`
}

// Evaluate derives the degradation level and feature availability from the
// connectivity status and the elapsed offline minutes. Reconnecting counts as
// offline. The grace boundary is inclusive: at exactly GracePeriodHours*60
// minutes the level is already Full.
func Evaluate(status models.NetworkStatus, offlineMinutes int, t Thresholds) Result {
	if offlineMinutes < 0 {
		offlineMinutes = 0
	}
	if status.IsOnline() {
		return Result{
			Level:               LevelNone,
			Features:            featuresFor(LevelNone),
			GraceRemainingHours: float64(max(t.GracePeriodHours, 0)),
		}
	}

	expired := GraceExpired(offlineMinutes, t.GracePeriodHours)
	level := LevelNone
	switch {
	case expired:
		level = LevelFull
	case offlineMinutes >= t.PartialThresholdMinutes:
		level = LevelPartial
	}

	return Result{
		Level:               level,
		Features:            featuresFor(level),
		GraceRemainingHours: GraceRemainingHours(offlineMinutes, t.GracePeriodHours),
		GraceExpired:        expired,
	}
}

// GraceRemainingHours is max(0, grace - offlineMinutes/60).
func GraceRemainingHours(offlineMinutes, graceHours int) float64 {
	if GraceExpired(offlineMinutes, graceHours) {
		return 0
	}
	return math.Max(0, float64(graceHours)-float64(offlineMinutes)/60)
}

// GraceExpired compares in whole minutes so the boundary is exact.
func GraceExpired(offlineMinutes, graceHours int) bool {
	return offlineMinutes >= graceHours*60
}

func featuresFor(level Level) Features {
	out := make(Features, len(AllFeatures))
	for _, f := range AllFeatures {
		out[f] = Availability{Available: true}
	}
	switch level {
	case LevelPartial:
		for _, f := range []Feature{FeatureUseAI, FeatureCreateAccounts, FeatureViewAnalytics} {
			out[f] = Availability{Reason: reasonNeedsConnection}
		}
	case LevelFull:
		for _, f := range []Feature{FeatureSendMessages, FeatureUseAI, FeatureCreateAccounts, FeatureViewAnalytics} {
			out[f] = Availability{Reason: reasonGraceExpired}
		}
	}
	return out
}
