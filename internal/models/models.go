// internal/models/models.go

package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// WarningState is the tri-state classification of a reading.
type WarningState int8

const (
	WarningUnknown WarningState = iota
	WarningFalse
	WarningTrue
)

func WarningFromBool(b bool) WarningState {
	if b {
		return WarningTrue
	}
	return WarningFalse
}

func (w WarningState) Resolved() bool {
	return w == WarningTrue || w == WarningFalse
}

func (w WarningState) String() string {
	switch w {
	case WarningTrue:
		return "true"
	case WarningFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Bool returns the resolved value; ok is false while the state is unknown.
func (w WarningState) Bool() (value bool, ok bool) {
	return w == WarningTrue, w.Resolved()
}

func (w WarningState) MarshalJSON() ([]byte, error) {
	switch w {
	case WarningTrue:
		return []byte("true"), nil
	case WarningFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (w *WarningState) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*w = WarningTrue
	case "false":
		*w = WarningFalse
	case "null":
		*w = WarningUnknown
	default:
		return fmt.Errorf("invalid warning state: %s", data)
	}
	return nil
}

// Reading is the canonical link-quality measurement.
type Reading struct {
	ID          string       `json:"id" db:"id"`
	AccessPoint *string      `json:"access_point,omitempty" db:"access_point"`
	SensorName  string       `json:"sensor_name" db:"sensor_name"`
	PDR         float64      `json:"pdr" db:"pdr"`
	RSS         float64      `json:"rss" db:"rss"`
	ObservedAt  int64        `json:"observed_at" db:"observed_at"`
	Warning     WarningState `json:"warning" db:"warning"`
}

// ReadingID builds the idempotency key for a measurement.
func ReadingID(accessPoint *string, sensorName string, observedAt int64) string {
	ts := strconv.FormatInt(observedAt, 10)
	if accessPoint != nil {
		return *accessPoint + sensorName + ts
	}
	return sensorName + ts
}

// Snapshot is the point-in-time view pushed to dashboard sessions.
type Snapshot struct {
	Readings     []Reading `json:"readings"`
	AnyWarning   bool      `json:"any_warning"`
	WarningCount int       `json:"warning_count"`
	UnknownCount int       `json:"unknown_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// NewSnapshot summarizes readings. The slice is owned by the snapshot afterwards.
func NewSnapshot(readings []Reading, at time.Time) *Snapshot {
	if readings == nil {
		readings = []Reading{}
	}
	s := &Snapshot{Readings: readings, GeneratedAt: at}
	for _, r := range readings {
		switch r.Warning {
		case WarningTrue:
			s.WarningCount++
		case WarningUnknown:
			s.UnknownCount++
		}
	}
	s.AnyWarning = s.WarningCount > 0
	return s
}

// StatusSummary is the compact snapshot form published on the MQTT status topic.
type StatusSummary struct {
	AnyWarning   bool      `json:"any_warning"`
	WarningCount int       `json:"warning_count"`
	UnknownCount int       `json:"unknown_count"`
	Total        int       `json:"total"`
	WarningIDs   []string  `json:"warning_ids"`
	GeneratedAt  time.Time `json:"generated_at"`
}

func (s *Snapshot) Summary() StatusSummary {
	ids := []string{}
	for _, r := range s.Readings {
		if r.Warning == WarningTrue {
			ids = append(ids, r.ID)
		}
	}
	return StatusSummary{
		AnyWarning:   s.AnyWarning,
		WarningCount: s.WarningCount,
		UnknownCount: s.UnknownCount,
		Total:        len(s.Readings),
		WarningIDs:   ids,
		GeneratedAt:  s.GeneratedAt,
	}
}

type IngestResponse struct {
	Accepted int `json:"accepted"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  struct {
		Store    bool `json:"store"`
		MQTT     bool `json:"mqtt"`
		Sessions int  `json:"sessions"`
	} `json:"services"`
}
