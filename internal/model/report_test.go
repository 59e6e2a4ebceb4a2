package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterRecord_JSONRoundTrip(t *testing.T) {
	plate := &PlateData{
		PlateText:     "12가3456",
		Confidence:    0.91,
		BoundingBox:   [4]float64{10, 20, 30, 40},
		IsValidFormat: true,
	}
	ocr := &OCRData{
		RecognizedText: "12가3456",
		Confidence:     0.88,
		IsValidFormat:  true,
	}

	record := ReporterRecord{
		Report: ViolationReport{
			EventID:       "evt-1",
			EventType:     "violation_detected",
			Priority:      PriorityHigh,
			Timestamp:     1785326400.5,
			TimestampISO:  "2026-07-29T12:00:00.5Z",
			StreamID:      "cam-1",
			CorrelationID: "7@3",
			Data: ReportData{
				Violation: ViolationData{
					StartTime:       time.Date(2026, 7, 29, 11, 59, 0, 0, time.UTC),
					Duration:        90 * time.Second,
					Severity:        0.75,
					IsConfirmed:     true,
					VehicleType:     "sedan",
					ParkingZoneType: "no_parking",
				},
				Vehicle: VehicleData{
					TrackID:      7,
					VehicleType:  "sedan",
					Confidence:   0.95,
					BoundingBox:  [4]float64{1, 2, 3, 4},
					LastPosition: [2]float64{127.1, 37.5},
				},
				LicensePlate: plate,
				OCRResult:    ocr,
				StreamInfo: StreamInfoData{
					StreamID:     "cam-1",
					LocationName: "Main St & 5th",
				},
				VehicleImage: "data:image/jpeg;base64,/9j/",
			},
		},
		AttemptCount:   2,
		NextRetryAt:    time.Date(2026, 7, 29, 12, 1, 0, 0, time.UTC),
		FirstFailureAt: time.Date(2026, 7, 29, 12, 0, 5, 0, time.UTC),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded ReporterRecord
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, record.Report.EventID, decoded.Report.EventID)
	assert.Equal(t, record.Report.Priority, decoded.Report.Priority)
	assert.Equal(t, record.Report.Timestamp, decoded.Report.Timestamp)
	assert.Equal(t, record.Report.CorrelationID, decoded.Report.CorrelationID)
	assert.Equal(t, record.Report.Data.Violation.Duration, decoded.Report.Data.Violation.Duration)
	assert.True(t, record.Report.Data.Violation.StartTime.Equal(decoded.Report.Data.Violation.StartTime))
	assert.Equal(t, record.Report.Data.Vehicle, decoded.Report.Data.Vehicle)
	assert.Equal(t, *record.Report.Data.LicensePlate, *decoded.Report.Data.LicensePlate)
	assert.Equal(t, *record.Report.Data.OCRResult, *decoded.Report.Data.OCRResult)
	assert.Equal(t, record.Report.Data.VehicleImage, decoded.Report.Data.VehicleImage)
	assert.Equal(t, record.AttemptCount, decoded.AttemptCount)
	assert.True(t, record.NextRetryAt.Equal(decoded.NextRetryAt))
	assert.True(t, record.FirstFailureAt.Equal(decoded.FirstFailureAt))
}

func TestViolationReport_WireShape(t *testing.T) {
	report := ViolationReport{
		EventID:   "evt-2",
		EventType: "violation_detected",
		Priority:  PriorityUrgent,
		Data: ReportData{
			Violation: ViolationData{Duration: 61 * time.Second, Severity: 0.8},
			Vehicle:   VehicleData{TrackID: 1},
		},
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(data, &asMap))

	assert.Equal(t, "urgent", asMap["priority"])

	payload := asMap["data"].(map[string]any)
	assert.Nil(t, payload["license_plate"], "absent plate must encode as null, not be omitted")
	assert.Nil(t, payload["ocr_result"])

	violation := payload["violation"].(map[string]any)
	assert.Equal(t, 61.0, violation["duration"], "duration crosses the wire in seconds")
	assert.Equal(t, 0.8, violation["violation_severity"])
}
