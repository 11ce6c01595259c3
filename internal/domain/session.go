package domain

import "time"

// Session is a per-conversation binding of a tier to a concrete (provider,
// model) pair. The id equals the caller-supplied conversation id.
//
// Invariants (enforced by internal/session, not by this struct): once
// created, Provider and Model change only via a monotonic tier upgrade;
// Tier never decreases; CreatedAt never changes after creation.
type Session struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Tier           Tier      `json:"tier"`
	ExternalUserID string    `json:"external_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}
