package core

import "time"

// ScanStatus is the lifecycle status of a Scan.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanCompleted || s == ScanFailed || s == ScanCancelled
}

// IsActive reports whether the scan is pending or running.
func (s ScanStatus) IsActive() bool {
	return s == ScanPending || s == ScanRunning
}

// Priority orders scans for the task-queue collaborator.
type Priority int

const (
	PriorityNormal  Priority = 1
	PriorityPremium Priority = 2
	PriorityUrgent  Priority = 3
)

// Tier is an account's quota tier.
type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
)

// ParseTier returns the tier for s, defaulting to standard.
func ParseTier(s string) Tier {
	if Tier(s) == TierElevated {
		return TierElevated
	}
	return TierStandard
}

// DefaultPriority returns the queue priority for a tier.
func (t Tier) DefaultPriority() Priority {
	if t == TierElevated {
		return PriorityPremium
	}
	return PriorityNormal
}

// Scan is one user-initiated request to assess a target.
type Scan struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	Tier         Tier       `json:"tier"`
	TargetURL    string     `json:"target_url"`
	ScanType     ScanType   `json:"scan_type"`
	Adapters     []string   `json:"adapters,omitempty"`
	Options      Options    `json:"options,omitempty"`
	Status       ScanStatus `json:"status"`
	Priority     Priority   `json:"priority"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryOf      string     `json:"retry_of,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Duration returns completed_at - started_at when both are set.
func (s *Scan) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// ScanLogEntry is one line of a scan's audit trail.
type ScanLogEntry struct {
	ScanID    string    `json:"scan_id"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}
