package models

import "time"

// NetworkStatus is the connectivity state of the client.
type NetworkStatus string

const (
	StatusOnline       NetworkStatus = "online"
	StatusOffline      NetworkStatus = "offline"
	StatusReconnecting NetworkStatus = "reconnecting"
)

// IsOnline reports whether the status is StatusOnline.
func (s NetworkStatus) IsOnline() bool {
	return s == StatusOnline
}

// OfflineReason narrows down why a probe failed. It never changes the status
// itself: both reasons settle as StatusOffline.
type OfflineReason string

const (
	ReasonNone              OfflineReason = ""
	ReasonNoNetwork         OfflineReason = "no-network"
	ReasonServerUnreachable OfflineReason = "server-unreachable"
)

// ProbeResult captures the outcome of a reachability probe.
type ProbeResult struct {
	Target    string        `json:"target"`
	OK        bool          `json:"ok"`
	Reason    OfflineReason `json:"reason,omitempty"`
	LatencyMs int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ConnectivitySnapshot is the settled connectivity state shared with collaborators.
type ConnectivitySnapshot struct {
	Status            NetworkStatus `json:"status"`
	LastOnlineAt      *time.Time    `json:"last_online_at"`
	OfflineMinutes    int           `json:"offline_minutes"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	OfflineReason     OfflineReason `json:"offline_reason,omitempty"`
	ReconnectPaused   bool          `json:"reconnect_paused"`
}

// Settled reports whether the snapshot is outside an in-flight reconnect probe.
func (s ConnectivitySnapshot) Settled() bool {
	return s.Status != StatusReconnecting
}
