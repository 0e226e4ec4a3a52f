package domain

import "time"

// UsageStats aggregates completed jobs per kind for a user.
type UsageStats struct {
	UserID            int64
	TotalGenerations  int
	TotalEdits        int
	TotalEnhancements int
	LastUsedAt        *time.Time
}

// Total returns the sum across kinds.
func (u UsageStats) Total() int {
	return u.TotalGenerations + u.TotalEdits + u.TotalEnhancements
}
