package domain

import (
	"time"
)

// DeadLetter is a pipeline item that stopped making progress and needs an
// operator. The item stays held until the dead letter is resolved.
type DeadLetter struct {
	ID            string     `json:"id"`
	Stage         string     `json:"stage"`
	CorrelationID string     `json:"correlation_id"`
	Outcome       string     `json:"outcome"`
	Reason        string     `json:"reason"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
}
