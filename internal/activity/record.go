// Package activity tracks per-member message activity and computes the
// idle member set used by the policy commands.
package activity

import "time"

// Record is the activity entry for a single group member.
type Record struct {
	// Identifier is the stable member handle (phone number for Signal).
	Identifier string `json:"identifier"`

	// LastSeen is the timestamp of the most recent observed message.
	LastSeen time.Time `json:"last_seen"`

	// MessageCount is incremented once per observed message.
	MessageCount int `json:"message_count"`

	// FirstSeen is set on first observation and never changes.
	FirstSeen time.Time `json:"first_seen"`
}

// DaysIdle returns the whole number of days elapsed since LastSeen.
func (r Record) DaysIdle(now time.Time) int {
	return int(now.Sub(r.LastSeen).Hours() / 24)
}
