// Package severity provides the severity ranking policy shared by every
// adapter and the orchestrator.
//
// All findings, regardless of which tool produced them, are ordered with the
// same score table so that aggregated lists sort consistently.
package severity

import (
	"cmp"
	"slices"
	"strings"
)

// Level represents a severity level for a finding.
type Level string

const (
	// Critical - trivially exploitable, act immediately.
	Critical Level = "critical"

	// High - serious issue that should be fixed urgently.
	High Level = "high"

	// Medium - moderate risk.
	Medium Level = "medium"

	// Low - minor issue or hardening advice.
	Low Level = "low"

	// Unknown - the tool reported something outside the four-level scale.
	Unknown Level = "unknown"
)

// AllLevels returns the ranked levels, highest first.
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low}
}

// String returns the string representation of the severity level.
func (l Level) String() string {
	return string(l)
}

// Score returns the ranking score of the level.
// low=1, medium=2, high=3, critical=4; anything else scores 0 and sorts last.
func (l Level) Score() int {
	switch l {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether the level is one of the four ranked levels.
func (l Level) IsValid() bool {
	return l.Score() > 0
}

// IsHigherThan returns true if this severity ranks above the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Score() > other.Score()
}

// FromString normalizes a tool's severity label. Case and surrounding space
// are ignored; labels outside the ranked scale become Unknown.
func FromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit":
		return Critical
	case "high":
		return High
	case "medium", "moderate", "med":
		return Medium
	case "low":
		return Low
	default:
		return Unknown
	}
}

// Verbatim lower-cases a tool label without re-deriving it. Labels the policy
// does not rank (for example "info") keep their text and score 0.
func Verbatim(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Unknown
	}
	return Level(s)
}

// Compare returns -1, 0 or +1 when a ranks below, equal to or above b.
func Compare(a, b Level) int {
	return cmp.Compare(a.Score(), b.Score())
}

// Max returns the higher severity of two levels.
func Max(a, b Level) Level {
	if a.IsHigherThan(b) {
		return a
	}
	return b
}

// SortStable orders items by severity score, highest first. Items with equal
// scores keep their relative input order.
func SortStable[T any](items []T, level func(T) Level) {
	slices.SortStableFunc(items, func(a, b T) int {
		return Compare(level(b), level(a))
	})
}

// Counts tallies findings per ranked level.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Other    int `json:"other,omitempty"`
	Total    int `json:"total"`
}

// Increment increases the count for the given severity.
func (c *Counts) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	default:
		c.Other++
	}
}

// Add merges another tally into c.
func (c *Counts) Add(other Counts) {
	c.Critical += other.Critical
	c.High += other.High
	c.Medium += other.Medium
	c.Low += other.Low
	c.Other += other.Other
	c.Total += other.Total
}

// RiskScore weights the tally: critical*10 + high*7 + medium*4 + low.
func (c Counts) RiskScore() int {
	return c.Critical*10 + c.High*7 + c.Medium*4 + c.Low
}

// Highest returns the highest level with a non-zero count.
func (c Counts) Highest() Level {
	switch {
	case c.Critical > 0:
		return Critical
	case c.High > 0:
		return High
	case c.Medium > 0:
		return Medium
	case c.Low > 0:
		return Low
	default:
		return Unknown
	}
}
