package model

import (
	"fmt"
	"time"
)

// ActivityType identifies what happened in an echo's activity feed.
type ActivityType string

const (
	ActivityEchoCreated         ActivityType = "echo_created"
	ActivityMediaUploaded       ActivityType = "media_uploaded"
	ActivityEchoLocked          ActivityType = "echo_locked"
	ActivityEchoUnlocked        ActivityType = "echo_unlocked"
	ActivityCollaboratorAdded   ActivityType = "collaborator_added"
	ActivityCollaboratorRemoved ActivityType = "collaborator_removed"
	ActivityEchoLockingSoon     ActivityType = "echo_locking_soon"
	ActivityEchoUnlockingSoon   ActivityType = "echo_unlocking_soon"
)

// EchoActivity is one append-only audit/feed entry tied to an echo.
// Activities are never mutated after creation. Display order is by
// timestamp descending; storage order is insertion order.
type EchoActivity struct {
	ID     string       `json:"id"`
	EchoID string       `json:"echoId"`
	Type   ActivityType `json:"type"`

	UserID     string `json:"userId,omitempty"`
	UserName   string `json:"userName,omitempty"`
	UserAvatar string `json:"userAvatar,omitempty"`

	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`

	// MediaType is set for media_uploaded entries, TargetUserID for
	// collaborator entries.
	MediaType    MediaType `json:"mediaType,omitempty"`
	TargetUserID string    `json:"targetUserId,omitempty"`
}

// Validate checks field values.
func (a *EchoActivity) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.EchoID == "" {
		return fmt.Errorf("echo id is required")
	}
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Clone returns a copy for safe hand-out from the cache.
func (a *EchoActivity) Clone() *EchoActivity {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
