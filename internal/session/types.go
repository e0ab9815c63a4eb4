package session

import "time"

// ResetResponse reports what a session reset removed.
type ResetResponse struct {
	ClientID        string    `json:"client_id"`
	MessagesDeleted int64     `json:"messages_deleted"`
	PlansDeleted    int64     `json:"plans_deleted"`
	ResetAt         time.Time `json:"reset_at"`
}
