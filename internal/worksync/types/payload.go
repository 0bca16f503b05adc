package types

import "strings"

// WorkerPayload is a worker as it arrives from the upstream event source.
// Several fields have historical aliases (the upstream emitted different
// shapes over time), so accessors below resolve them in precedence order.
type WorkerPayload struct {
	WorkerID        string `json:"workerId"`
	AltID           string `json:"id"`
	NationalID      string `json:"nationalIdNumber"`
	FullName        string `json:"fullName"`
	Phone           string `json:"phoneNumber"`
	Email           string `json:"email"`
	FacePhoto       string `json:"facePhoto"`
	FacePhotoURL    string `json:"facePhotoUrl"`
	NationalIDImage string `json:"nationalIdImage"`
	IDCardImageURL  string `json:"idCardImageUrl"`
	ValidFrom       string `json:"validFrom"`
	ValidTo         string `json:"validTo"`
	CreatedAt       string `json:"createdAt"`
	BlockedReason   string `json:"blockedReason"`
}

// ExternalID resolves the upstream worker identifier, preferring the
// explicit workerId over the generic id.
func (p WorkerPayload) ExternalID() string {
	if p.WorkerID != "" {
		return p.WorkerID
	}
	return p.AltID
}

// FaceURL resolves the face photo URL across its aliases.
func (p WorkerPayload) FaceURL() string {
	if p.FacePhoto != "" {
		return p.FacePhoto
	}
	return p.FacePhotoURL
}

// IDImageURL resolves the optional ID document image URL across its aliases.
func (p WorkerPayload) IDImageURL() string {
	if p.NationalIDImage != "" {
		return p.NationalIDImage
	}
	return p.IDCardImageURL
}

// Empty reports whether the payload carries no identifying data at all.
func (p WorkerPayload) Empty() bool {
	return strings.TrimSpace(p.NationalID) == "" && strings.TrimSpace(p.ExternalID()) == ""
}
