// Package store persists the engine's transition history in SQLite.
package store

import (
	"time"

	"touchbridge/internal/geom"
)

// Entry is one recorded transition.
type Entry struct {
	ID            int64
	SessionID     string
	Time          time.Time
	From          string
	To            string
	ApplicationID string
	Region        geom.Region
	Reason        string
}

// Session summarizes one engine run.
type Session struct {
	ID          string
	Started     time.Time
	Ended       time.Time // zero while running or after a crash
	Transitions int
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	SessionID     string
	ApplicationID string
	Since         time.Time
	Limit         int
}
