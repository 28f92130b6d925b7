// Package queue provides the durable pending-operation queue: a FIFO
// record of local mutations that have not yet been confirmed against
// the remote backend, plus a dead-letter table for ops that failed
// terminally and need user-visible resolution.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/echoes-app/echosync/internal/model"
)

// PayloadVersion tags every payload so the schema can evolve without
// runtime fallback chains.
const PayloadVersion = 1

// EntityType identifies which kind of entity an op mutates.
type EntityType string

const (
	EntityEcho     EntityType = "echo"
	EntityMedia    EntityType = "media"
	EntityActivity EntityType = "activity"
)

// Action identifies what the op does to its entity.
type Action string

const (
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionAddMedia    Action = "add_media"
	ActionDeleteMedia Action = "delete_media"
	ActionAppend      Action = "append"
)

// Op is one durable mutation intent. The insertion id is monotonic and
// defines global FIFO order. The payload stores only enough context to
// re-derive the entity from the local store at drain time, so replaying
// an op after further local edits re-syncs the newer state
// (idempotent-by-overwrite).
type Op struct {
	ID         int64
	EntityType EntityType
	EntityID   string
	// EchoID scopes the op to its owning echo for per-echo sync
	// status queries. For echo ops it equals EntityID.
	EchoID  string
	Action  Action
	Payload json.RawMessage

	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// DeadOp is a pending op that failed terminally (missing local file,
// malformed payload) and was moved out of the retry loop. It stays
// queryable so the UI can surface the loss instead of hiding it.
type DeadOp struct {
	ID         int64
	OpID       int64
	EntityType EntityType
	EntityID   string
	EchoID     string
	Action     Action
	Payload    json.RawMessage
	Attempts   int
	Reason     string
	FailedAt   time.Time
	CreatedAt  time.Time
}

// CreateEchoPayload marks an echo for remote creation. The reconciler
// reads the echo's current full state from the store, not a snapshot.
type CreateEchoPayload struct {
	Version int    `json:"v"`
	EchoID  string `json:"echoId"`
}

// CollaboratorDelta is a single-membership change, kept separate from
// full-set replacement so concurrent edits are not clobbered.
type CollaboratorDelta struct {
	UserID string `json:"userId"`
	Op     string `json:"op"` // "add" or "remove"
}

// UpdateEchoPayload carries the diff actually applied locally. Exactly
// one of Updates or Collaborator is set.
type UpdateEchoPayload struct {
	Version      int                `json:"v"`
	EchoID       string             `json:"echoId"`
	Updates      *model.EchoUpdate  `json:"updates,omitempty"`
	Collaborator *CollaboratorDelta `json:"collaborator,omitempty"`
}

// DeleteEchoPayload marks an echo for remote deletion.
type DeleteEchoPayload struct {
	Version int    `json:"v"`
	EchoID  string `json:"echoId"`
}

// AddMediaPayload marks one media row for upload + metadata push.
type AddMediaPayload struct {
	Version int    `json:"v"`
	EchoID  string `json:"echoId"`
	MediaID string `json:"mediaId"`
}

// DeleteMediaPayload captures what remote cleanup needs, since the
// local row is already gone when the op drains.
type DeleteMediaPayload struct {
	Version     int             `json:"v"`
	EchoID      string          `json:"echoId"`
	MediaID     string          `json:"mediaId"`
	Type        model.MediaType `json:"type,omitempty"`
	StoragePath string          `json:"storagePath,omitempty"`
}

// AppendActivityPayload marks one activity row for remote append.
type AppendActivityPayload struct {
	Version    int    `json:"v"`
	EchoID     string `json:"echoId"`
	ActivityID string `json:"activityId"`
}

// NewOp builds an Op with a marshalled payload.
func NewOp(entityType EntityType, entityID, echoID string, action Action, payload any) (Op, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Op{}, fmt.Errorf("failed to marshal %s/%s payload: %w", entityType, action, err)
	}
	now := time.Now().UTC()
	return Op{
		EntityType:    entityType,
		EntityID:      entityID,
		EchoID:        echoID,
		Action:        action,
		Payload:       data,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// DecodePayload unmarshals the op payload into dst and rejects unknown
// payload versions.
func (op Op) DecodePayload(dst any) error {
	if err := json.Unmarshal(op.Payload, dst); err != nil {
		return fmt.Errorf("failed to parse %s/%s payload for op %d: %w", op.EntityType, op.Action, op.ID, err)
	}
	var header struct {
		Version int `json:"v"`
	}
	if err := json.Unmarshal(op.Payload, &header); err != nil {
		return fmt.Errorf("failed to parse payload header for op %d: %w", op.ID, err)
	}
	if header.Version != PayloadVersion {
		return fmt.Errorf("unsupported payload version %d for op %d (want %d)", header.Version, op.ID, PayloadVersion)
	}
	return nil
}
