package models

import "time"

// AutomationSession is the record of one pooled browser session.
type AutomationSession struct {
	SessionID      string    `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IsActive       bool      `json:"is_active"`
	CurrentURL     string    `json:"current_url,omitempty"`
}

// Age returns how long the session has existed.
func (s AutomationSession) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// IdleFor returns how long the session has gone unused.
func (s AutomationSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
