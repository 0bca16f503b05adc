package types

import "time"

type WorkerStatus string

const (
	StatusPending  WorkerStatus = "pending"
	StatusApproved WorkerStatus = "approved"
	StatusBlocked  WorkerStatus = "blocked"
	StatusDeleted  WorkerStatus = "deleted"
)

// ValidStatus reports whether s is one of the four lifecycle states.
func ValidStatus(s WorkerStatus) bool {
	switch s {
	case StatusPending, StatusApproved, StatusBlocked, StatusDeleted:
		return true
	}
	return false
}

// WorkerRecord is the authoritative local record of one worker's
// synchronization state.  IdentityKey (the national ID number) uniquely
// names the worker across both systems and never changes.
//
// RemotePersonID is assigned by the access-control system on the first
// successful creation and is never cleared afterwards — the remote record
// persists there across block/unblock/delete.  HasAccessGrant is true only
// while the worker is approved and provisioned.
type WorkerRecord struct {
	IdentityKey      string       `json:"nationalIdNumber"`
	ExternalWorkerID string       `json:"workerId"`
	FullName         string       `json:"fullName"`
	Phone            string       `json:"phoneNumber"`
	Email            string       `json:"email"`
	Status           WorkerStatus `json:"status"`
	RemotePersonID   string       `json:"remotePersonId"`
	HasAccessGrant   bool         `json:"hasAccessGrant"`
	FaceImagePath    string       `json:"faceImagePath"`
	IDImagePath      string       `json:"idImagePath"`
	BlockedReason    string       `json:"blockedReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	BlockedAt   *time.Time `json:"blockedAt,omitempty"`
	UnblockedAt *time.Time `json:"unblockedAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}
