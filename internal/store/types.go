package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/runcoach/internal/plan"
)

var (
	// ErrNotFound reports a missing client plan or version.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a plan commit that lost a race for its version number.
	ErrConflict = errors.New("plan version conflict")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one immutable dialogue entry.
type Message struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanVersion is a stored plan document plus its lineage position.
type PlanVersion struct {
	ClientID  string        `json:"client_id"`
	Version   int           `json:"version"`
	IsCurrent bool          `json:"is_current"`
	Plan      plan.Document `json:"plan"`
	CreatedAt time.Time     `json:"created_at"`
}

// ResetResult counts the rows removed by Purge.
type ResetResult struct {
	MessagesDeleted int64 `json:"messages_deleted"`
	PlansDeleted    int64 `json:"plans_deleted"`
}

// MessageStore is the append-only dialogue log.
type MessageStore interface {
	AppendMessage(ctx context.Context, clientID string, role Role, content string) (Message, error)
	// ListMessages returns every message for the client in insertion order.
	ListMessages(ctx context.Context, clientID string) ([]Message, error)
}

// PlanStore holds every plan version per client with one marked current.
type PlanStore interface {
	// LatestVersion returns the highest version issued for the client, or 0.
	LatestVersion(ctx context.Context, clientID string) (int, error)
	// CommitVersion atomically demotes the current row and inserts version
	// expected+1 as current. It fails with ErrConflict when the latest version
	// is no longer expected.
	CommitVersion(ctx context.Context, clientID string, expected int, doc plan.Document) (PlanVersion, error)
	CurrentVersion(ctx context.Context, clientID string) (PlanVersion, error)
	GetVersion(ctx context.Context, clientID string, version int) (PlanVersion, error)
	// ListVersions returns up to limit versions, newest first.
	ListVersions(ctx context.Context, clientID string, limit int) ([]PlanVersion, error)
}

// Store is the persistent state shared by every turn.
type Store interface {
	MessageStore
	PlanStore
	// Purge deletes every message and plan version for the client in one
	// transaction.
	Purge(ctx context.Context, clientID string) (ResetResult, error)
	Ping(ctx context.Context) error
	Mode() string
	Close() error
}

func conflictError(clientID string, expected, found int) error {
	return fmt.Errorf("%w: client %q expected version %d, found %d", ErrConflict, clientID, expected, found)
}

func encodePlan(doc plan.Document) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return body, nil
}

func decodePlan(body []byte) (plan.Document, error) {
	var doc plan.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return plan.Document{}, fmt.Errorf("decode plan: %w", err)
	}
	return doc, nil
}
