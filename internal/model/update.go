package model

import "time"

// EchoUpdate is a partial update to an echo. Unset fields leave the
// current value untouched; set fields overwrite it, including explicit
// zero values such as IsPrivate = false.
//
// CollaboratorIDs and Media fully replace the respective child sets
// when set (delete-then-reinsert, not a diff). Collaborator deltas from
// AddCollaborator/RemoveCollaborator travel separately so concurrent
// edits are not clobbered.
type EchoUpdate struct {
	Title       Optional[string]     `json:"title,omitzero"`
	Description Optional[string]     `json:"description,omitzero"`
	ImageURL    Optional[string]     `json:"imageUrl,omitzero"`
	Status      Optional[EchoStatus] `json:"status,omitzero"`
	IsPrivate   Optional[bool]       `json:"isPrivate,omitzero"`
	ShareMode   Optional[ShareMode]  `json:"shareMode,omitzero"`

	OwnerName     Optional[string] `json:"ownerName,omitzero"`
	OwnerPhotoURL Optional[string] `json:"ownerPhotoURL,omitzero"`

	LockDate   Optional[time.Time] `json:"lockDate,omitzero"`
	UnlockDate Optional[time.Time] `json:"unlockDate,omitzero"`

	CollaboratorIDs Optional[[]string]    `json:"collaboratorIds,omitzero"`
	Media           Optional[[]EchoMedia] `json:"media,omitzero"`
}

// IsEmpty reports whether the update carries no fields at all.
func (u *EchoUpdate) IsEmpty() bool {
	return !u.Title.IsSet() && !u.Description.IsSet() && !u.ImageURL.IsSet() &&
		!u.Status.IsSet() && !u.IsPrivate.IsSet() && !u.ShareMode.IsSet() &&
		!u.OwnerName.IsSet() && !u.OwnerPhotoURL.IsSet() &&
		!u.LockDate.IsSet() && !u.UnlockDate.IsSet() &&
		!u.CollaboratorIDs.IsSet() && !u.Media.IsSet()
}

// Apply merges the set fields into e. Child replacements (collaborators,
// media) are applied to the struct; persisting them is the store's job.
func (u *EchoUpdate) Apply(e *Echo) {
	if v, ok := u.Title.Get(); ok {
		e.Title = v
	}
	if v, ok := u.Description.Get(); ok {
		e.Description = v
	}
	if v, ok := u.ImageURL.Get(); ok {
		e.ImageURL = v
	}
	if v, ok := u.Status.Get(); ok {
		e.Status = v
	}
	if v, ok := u.IsPrivate.Get(); ok {
		e.IsPrivate = v
	}
	if v, ok := u.ShareMode.Get(); ok {
		e.ShareMode = v
	}
	if v, ok := u.OwnerName.Get(); ok {
		e.OwnerName = v
	}
	if v, ok := u.OwnerPhotoURL.Get(); ok {
		e.OwnerPhotoURL = v
	}
	if v, ok := u.LockDate.Get(); ok {
		t := v
		e.LockDate = &t
	}
	if v, ok := u.UnlockDate.Get(); ok {
		t := v
		e.UnlockDate = &t
	}
	if v, ok := u.CollaboratorIDs.Get(); ok {
		e.CollaboratorIDs = append([]string(nil), v...)
	}
	if v, ok := u.Media.Get(); ok {
		e.Media = make([]*EchoMedia, len(v))
		for i := range v {
			m := v[i]
			e.Media[i] = &m
		}
	}
}

// Fields returns the set fields as a flat map keyed by the remote
// document field names. Used by the reconciler to build a field-level
// remote update from the diff actually applied locally. Media never
// appears here: media rows sync through their own add/delete ops.
func (u *EchoUpdate) Fields() map[string]any {
	fields := make(map[string]any)
	if v, ok := u.Title.Get(); ok {
		fields["title"] = v
	}
	if v, ok := u.Description.Get(); ok {
		fields["description"] = v
	}
	if v, ok := u.ImageURL.Get(); ok {
		fields["imageUrl"] = v
	}
	if v, ok := u.Status.Get(); ok {
		fields["status"] = string(v)
	}
	if v, ok := u.IsPrivate.Get(); ok {
		fields["isPrivate"] = v
	}
	if v, ok := u.ShareMode.Get(); ok {
		fields["shareMode"] = string(v)
	}
	if v, ok := u.OwnerName.Get(); ok {
		fields["ownerName"] = v
	}
	if v, ok := u.OwnerPhotoURL.Get(); ok {
		fields["ownerPhotoURL"] = v
	}
	if v, ok := u.LockDate.Get(); ok {
		fields["lockDate"] = v
	}
	if v, ok := u.UnlockDate.Get(); ok {
		fields["unlockDate"] = v
	}
	if v, ok := u.CollaboratorIDs.Get(); ok {
		fields["collaboratorIds"] = v
	}
	return fields
}
