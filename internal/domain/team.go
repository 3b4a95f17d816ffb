package domain

import "time"

// Team is a competing team together with its point balance.
type Team struct {
	ID        string
	Name      string
	Points    int64
	CreatedAt time.Time
}
