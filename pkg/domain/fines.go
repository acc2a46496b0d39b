package domain

import "time"

// DaysLate returns the whole days elapsed between due and at, floored.
// Early or on-time returns yield zero.
func DaysLate(due, at time.Time) int {
	if !at.After(due) {
		return 0
	}
	return int(at.Sub(due) / (24 * time.Hour))
}

// FineAmount multiplies days late by the daily rate. Negative input yields zero.
func FineAmount(daysLate int, dailyRateCents int64) int64 {
	if daysLate <= 0 || dailyRateCents <= 0 {
		return 0
	}
	return int64(daysLate) * dailyRateCents
}
