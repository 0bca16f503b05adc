package service

import (
	"time"

	"github.com/hydepark/worksync/internal/worksync/types"
)

// The access-control platform wants validity bounds as local timestamps in
// the site's fixed +02:00 offset.
const (
	dateLayout     = "2006-01-02"
	validityOffset = "+02:00"

	// defaultValidityDays is the window applied when the payload carries no
	// explicit validity dates.
	defaultValidityDays = 3650
)

// deriveValidity computes the access validity window for a worker payload.
//
// Explicit validFrom/validTo dates win and expand to local midnight /
// local end of day.  Otherwise the window starts at the upstream creation
// timestamp (wall clock kept as sent, offset pinned) and runs for the
// default validity period; with no timestamp at all it starts now.
func deriveValidity(p types.WorkerPayload, now time.Time) (beginTime, endTime string) {
	if p.ValidFrom != "" && p.ValidTo != "" {
		from, errFrom := time.Parse(dateLayout, p.ValidFrom)
		to, errTo := time.Parse(dateLayout, p.ValidTo)
		if errFrom == nil && errTo == nil {
			return from.Format(dateLayout) + "T00:00:00" + validityOffset,
				to.Format(dateLayout) + "T23:59:59" + validityOffset
		}
	}

	start := now
	if p.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
			start = t
		}
	}

	end := start.AddDate(0, 0, defaultValidityDays)
	return start.Format("2006-01-02T15:04:05") + validityOffset,
		end.Format("2006-01-02T15:04:05") + validityOffset
}
