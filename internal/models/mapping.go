package models

import (
	"time"
)

// UnknownReferrer is the histogram bucket for redirects that carry no
// referrer label.
const UnknownReferrer = "Unknowns"

// ShortMapping binds a short code to a target URL. The struct carries no
// behavior; all persistence goes through the repository layer.
type ShortMapping struct {
	ID         int64            `json:"id"`
	Code       string           `json:"code"`
	Target     string           `json:"target"`
	OwnerID    int64            `json:"owner_id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Clicks     int64            `json:"clicks"`
	Referrers  map[string]int64 `json:"referrers"`
	QRArtifact *string          `json:"qr_artifact,omitempty"`
}

// NewReferrers returns the initial histogram for a fresh mapping.
func NewReferrers() map[string]int64 {
	return map[string]int64{UnknownReferrer: 0}
}

// DeletedMapping is the tombstone kept after a soft delete. It preserves
// what is needed to restore the mapping; the code itself is not kept,
// restore always mints a new one.
type DeletedMapping struct {
	ID        int64     `json:"id"`
	Target    string    `json:"target"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	DeletedAt time.Time `json:"deleted_at"`
}
