// Package model provides the domain entities for the echo sync core:
// echoes (time-boxed shared albums), their media, collaborators, and the
// append-only activity feed.
//
// Entities are flat, JSON-friendly structs with last-write-wins semantics.
// UpdatedAt is bumped on every local mutation and is the conflict-resolution
// timestamp when the same echo is edited from multiple devices.
package model

import (
	"fmt"
	"time"
)

// EchoStatus is the lifecycle state of an echo.
type EchoStatus string

const (
	EchoOngoing  EchoStatus = "ongoing"
	EchoLocked   EchoStatus = "locked"
	EchoUnlocked EchoStatus = "unlocked"
)

// ShareMode describes who can see an echo.
type ShareMode string

const (
	SharePrivate ShareMode = "private"
	ShareShared  ShareMode = "shared"
)

// Echo is a shared or private time-boxed album.
type Echo struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Status      EchoStatus `json:"status"`

	// ===== Visibility =====
	// Invariant: IsPrivate implies ShareMode == SharePrivate and an
	// empty collaborator set. Normalize() enforces this.
	IsPrivate bool      `json:"isPrivate"`
	ShareMode ShareMode `json:"shareMode"`

	// ===== Ownership =====
	// OwnerID is immutable after creation. OwnerName and OwnerPhotoURL
	// are a denormalized display cache and may go stale.
	OwnerID       string `json:"ownerId"`
	OwnerName     string `json:"ownerName,omitempty"`
	OwnerPhotoURL string `json:"ownerPhotoURL,omitempty"`

	// ===== Time box =====
	LockDate   *time.Time `json:"lockDate,omitempty"`
	UnlockDate *time.Time `json:"unlockDate,omitempty"`

	// ===== Children =====
	// CollaboratorIDs is a set: unique, unordered for correctness.
	// Media is ordered by creation time ascending.
	CollaboratorIDs []string     `json:"collaboratorIds,omitempty"`
	Media           []*EchoMedia `json:"media,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks field values and the privacy/time-box invariants.
func (e *Echo) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	switch e.Status {
	case EchoOngoing, EchoLocked, EchoUnlocked:
	default:
		return fmt.Errorf("invalid status %q", e.Status)
	}
	switch e.ShareMode {
	case SharePrivate, ShareShared:
	default:
		return fmt.Errorf("invalid share mode %q", e.ShareMode)
	}
	if e.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if e.IsPrivate {
		if e.ShareMode != SharePrivate {
			return fmt.Errorf("private echo must have share mode %q (got %q)", SharePrivate, e.ShareMode)
		}
		if len(e.CollaboratorIDs) > 0 {
			return fmt.Errorf("private echo cannot have collaborators (got %d)", len(e.CollaboratorIDs))
		}
	}
	if e.LockDate != nil && e.UnlockDate != nil && e.LockDate.After(*e.UnlockDate) {
		return fmt.Errorf("lock date %s is after unlock date %s",
			e.LockDate.Format(time.RFC3339), e.UnlockDate.Format(time.RFC3339))
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if e.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (e *Echo) SetDefaults() {
	if e.Status == "" {
		e.Status = EchoOngoing
	}
	if e.ShareMode == "" {
		if e.IsPrivate {
			e.ShareMode = SharePrivate
		} else {
			e.ShareMode = ShareShared
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
}

// Normalize enforces the privacy invariant: a private echo is forced to
// private share mode with no collaborators.
func (e *Echo) Normalize() {
	if e.IsPrivate {
		e.ShareMode = SharePrivate
		e.CollaboratorIDs = nil
	}
}

// HasCollaborator reports whether userID is in the collaborator set.
func (e *Echo) HasCollaborator(userID string) bool {
	for _, id := range e.CollaboratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Read paths hand out clones so callers can
// never mutate the store's cache.
func (e *Echo) Clone() *Echo {
	if e == nil {
		return nil
	}
	out := *e
	if e.LockDate != nil {
		t := *e.LockDate
		out.LockDate = &t
	}
	if e.UnlockDate != nil {
		t := *e.UnlockDate
		out.UnlockDate = &t
	}
	out.CollaboratorIDs = append([]string(nil), e.CollaboratorIDs...)
	if e.Media != nil {
		out.Media = make([]*EchoMedia, len(e.Media))
		for i, m := range e.Media {
			cp := *m
			out.Media[i] = &cp
		}
	}
	return &out
}
