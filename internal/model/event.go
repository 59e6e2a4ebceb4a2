package model

import (
	"strconv"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/geometry"
)

// ParkingEvent is the candidate produced when a track's stationary duration
// crosses T_violation. Immutable once constructed.
type ParkingEvent struct {
	TrackID      int
	StreamID     string
	SessionEpoch int
	Box          geometry.Box
	Frame        Frame // deep copy, owned by this event
	Lat, Lon     float64
	LocationName string
	ParkingStart time.Time
	Duration     time.Duration
}

// CorrelationID is the stable idempotency anchor track_id@epoch.
// Reused verbatim in every retry of the resulting task so
// two deliveries of the same event are recognizable by the backend.
func (e ParkingEvent) CorrelationID() string {
	return formatCorrelationID(e.TrackID, e.SessionEpoch)
}

func formatCorrelationID(trackID, epoch int) string {
	return strconv.Itoa(trackID) + "@" + strconv.Itoa(epoch)
}
