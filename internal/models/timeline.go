package models

import "time"

// TimelinePoint represents a single compact point in the connectivity timeline.
type TimelinePoint struct {
	ClassName string           `json:"className"`
	Label     string           `json:"label"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Details   []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail carries extra information for problematic buckets.
type TimelineDetail struct {
	Timestamp time.Time     `json:"timestamp"`
	Reason    OfflineReason `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ConnectivityTimeline aggregates timeline points for one probe target.
type ConnectivityTimeline struct {
	Target   string          `json:"target"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Timeline []TimelinePoint `json:"timeline"`
}
