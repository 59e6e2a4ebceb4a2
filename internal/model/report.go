package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/geometry"
)

// ClassifyOutcome is the illegality classifier's result.
type ClassifyOutcome struct {
	IsIllegal bool
	Severity  float64
	ZoneType  string // crosswalk|no_parking|fire_lane|other
}

// PlateBox is one candidate plate detection.
type PlateBox struct {
	Box        geometry.Box
	Confidence float64
}

// OCROutcome is the plate OCR's result.
type OCROutcome struct {
	Text        string
	Confidence  float64
	ValidFormat bool
}

// ViolationReport is the outcome of a task that survives every analysis
// stage, ready to be handed to the reporter. The struct layout and field
// tags match the wire payload of POST /api/ai/v1/report-detection exactly,
// so marshalling a report produces the backend's contract body with no
// translation layer in between.
type ViolationReport struct {
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"` // always "violation_detected"
	Priority      Priority   `json:"priority"`
	Timestamp     float64    `json:"timestamp"` // unix seconds
	TimestampISO  string     `json:"timestamp_iso"`
	StreamID      string     `json:"stream_id"`
	CorrelationID string     `json:"correlation_id"`
	Data          ReportData `json:"data"`
}

// ReportData is the nested data envelope of the wire payload.
type ReportData struct {
	Violation    ViolationData  `json:"violation"`
	Vehicle      VehicleData    `json:"vehicle"`
	LicensePlate *PlateData     `json:"license_plate"` // null when no plate was detected
	OCRResult    *OCRData       `json:"ocr_result"`    // null when OCR did not run
	StreamInfo   StreamInfoData `json:"stream_info"`
	VehicleImage string         `json:"vehicle_image"` // "data:image/jpeg;base64,..." or ""
}

type ViolationData struct {
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"-"` // encoded as (fractional) seconds under "duration"
	Severity        float64       `json:"violation_severity"`
	IsConfirmed     bool          `json:"is_confirmed"`
	VehicleType     string        `json:"vehicle_type"`
	ParkingZoneType string        `json:"parking_zone_type"`
}

// violationDataWire mirrors ViolationData but carries Duration as seconds,
// the backend wire contract, instead of Go's nanosecond-int encoding of
// time.Duration.
type violationDataWire struct {
	StartTime       time.Time `json:"start_time"`
	DurationSeconds float64   `json:"duration"`
	Severity        float64   `json:"violation_severity"`
	IsConfirmed     bool      `json:"is_confirmed"`
	VehicleType     string    `json:"vehicle_type"`
	ParkingZoneType string    `json:"parking_zone_type"`
}

func (v ViolationData) MarshalJSON() ([]byte, error) {
	return json.Marshal(violationDataWire{
		StartTime:       v.StartTime,
		DurationSeconds: v.Duration.Seconds(),
		Severity:        v.Severity,
		IsConfirmed:     v.IsConfirmed,
		VehicleType:     v.VehicleType,
		ParkingZoneType: v.ParkingZoneType,
	})
}

func (v *ViolationData) UnmarshalJSON(data []byte) error {
	var w violationDataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.StartTime = w.StartTime
	v.Duration = time.Duration(w.DurationSeconds * float64(time.Second))
	v.Severity = w.Severity
	v.IsConfirmed = w.IsConfirmed
	v.VehicleType = w.VehicleType
	v.ParkingZoneType = w.ParkingZoneType
	return nil
}

type VehicleData struct {
	TrackID      int        `json:"track_id"`
	VehicleType  string     `json:"vehicle_type"`
	Confidence   float64    `json:"confidence"`
	BoundingBox  [4]float64 `json:"bounding_box"`  // x, y, w, h
	LastPosition [2]float64 `json:"last_position"` // [lon, lat]
}

type PlateData struct {
	PlateText     string     `json:"plate_text"`
	Confidence    float64    `json:"confidence"`
	BoundingBox   [4]float64 `json:"bounding_box"`
	IsValidFormat bool       `json:"is_valid_format"`
}

type OCRData struct {
	RecognizedText string  `json:"recognized_text"`
	Confidence     float64 `json:"confidence"`
	IsValidFormat  bool    `json:"is_valid_format"`
}

type StreamInfoData struct {
	StreamID     string `json:"stream_id"`
	LocationName string `json:"location_name"`
}

// MarshalJSON encodes the priority as its lower-case wire name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts the lower-case wire names.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "low":
		*p = PriorityLow
	case "normal":
		*p = PriorityNormal
	case "high":
		*p = PriorityHigh
	case "urgent":
		*p = PriorityUrgent
	default:
		return fmt.Errorf("model: unknown priority %q", s)
	}
	return nil
}

// ReporterRecord wraps a ViolationReport with retry bookkeeping. It is
// owned by the reporter and is the unit that gets spooled to disk as one
// newline-delimited JSON line.
type ReporterRecord struct {
	Report         ViolationReport `json:"report"`
	AttemptCount   int             `json:"attempt_count"`
	NextRetryAt    time.Time       `json:"next_retry_at"`
	FirstFailureAt time.Time       `json:"first_failure_at"`
}
