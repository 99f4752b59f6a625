// Package ingest turns the supported reading wire formats into canonical
// models.Reading records.
//
// Three payload shapes are accepted:
//
//	[{"sensor_name": "s1", "pdr": 0.9, "rss": -60, "updated_at": 100}, ...]
//	{"name": "s1", "pdr": [0.9, 0.95], "rss": [-60, -62], "at": 100}
//	{"ap": "ap1", "at": 100, "sensors": [{"name": "s1", "pdr": [...], "rss": [...]}]}
//
// Multi-sample payloads expand sample i to observed_at = at + i.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"LinkMonitorAPI/internal/models"
)

type Options struct {
	// LegacyPDRThreshold resolves flat-array readings at ingestion time:
	// warning is true when pdr is below it. Zero leaves them unknown.
	LegacyPDRThreshold float64
}

type Normalizer struct {
	opts Options
}

func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

type object map[string]json.RawMessage

// Normalize validates payload and returns its readings in wire order.
// Any violation yields a *models.ValidationError and no readings.
func (n *Normalizer) Normalize(payload []byte) ([]models.Reading, error) {
	verr := &models.ValidationError{}
	trimmed := bytes.TrimSpace(payload)

	if len(trimmed) == 0 {
		verr.Add("body", "payload is empty")
		return nil, verr
	}

	var readings []models.Reading

	switch trimmed[0] {
	case '[':
		readings = n.flatArray(trimmed, verr)
	case '{':
		var obj object
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			verr.Add("body", "invalid JSON: %v", err)
			return nil, verr
		}
		if _, ok := obj["sensors"]; ok {
			readings = accessPointBatch(obj, verr)
		} else {
			readings = sensorBatch(obj, verr)
		}
	default:
		verr.Add("body", "expected a JSON array or object")
	}

	if !verr.HasErrors() && len(readings) == 0 {
		verr.Add("body", "payload contains no readings")
	}

	if verr.HasErrors() {
		return nil, verr
	}

	return readings, nil
}

func (n *Normalizer) flatArray(data []byte, verr *models.ValidationError) []models.Reading {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		verr.Add("body", "invalid JSON: %v", err)
		return nil
	}

	readings := make([]models.Reading, 0, len(items))
	for i, raw := range items {
		path := fmt.Sprintf("[%d]", i)

		var obj object
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			verr.Add(path, "must be an object")
			continue
		}

		name, okName := requiredString(obj, path, "sensor_name", verr)
		pdr, okPDR := requiredNumber(obj, path, "pdr", verr)
		rss, okRSS := requiredNumber(obj, path, "rss", verr)
		at, okAt := requiredInt(obj, path, "updated_at", verr)
		ap, okAP := optionalString(obj, path, "access_point", verr)

		if !(okName && okPDR && okRSS && okAt && okAP) {
			continue
		}

		r := models.Reading{
			ID:          models.ReadingID(ap, name, at),
			AccessPoint: ap,
			SensorName:  name,
			PDR:         pdr,
			RSS:         rss,
			ObservedAt:  at,
		}
		if n.opts.LegacyPDRThreshold > 0 {
			r.Warning = models.WarningFromBool(pdr < n.opts.LegacyPDRThreshold)
		}
		readings = append(readings, r)
	}

	return readings
}

func accessPointBatch(obj object, verr *models.ValidationError) []models.Reading {
	ap, okAP := requiredString(obj, "", "ap", verr)
	at, okAt := requiredInt(obj, "", "at", verr)

	var sensors []json.RawMessage
	if err := json.Unmarshal(obj["sensors"], &sensors); err != nil || sensors == nil {
		verr.Add("sensors", "must be an array of sensor objects")
		return nil
	}
	if len(sensors) == 0 {
		verr.Add("sensors", "must not be empty")
		return nil
	}

	var readings []models.Reading
	for i, raw := range sensors {
		path := fmt.Sprintf("sensors[%d]", i)

		var sensor object
		if err := json.Unmarshal(raw, &sensor); err != nil || sensor == nil {
			verr.Add(path, "must be an object")
			continue
		}

		// Keep validating sensors even when the envelope is broken so the
		// caller sees every problem at once.
		var apPtr *string
		if okAP {
			apPtr = &ap
		}
		readings = append(readings, sensorSamples(sensor, path, apPtr, at, okAt, verr)...)
	}

	return readings
}

func sensorBatch(obj object, verr *models.ValidationError) []models.Reading {
	at, okAt := requiredInt(obj, "", "at", verr)
	return sensorSamples(obj, "", nil, at, okAt, verr)
}

// sensorSamples expands the pdr/rss arrays of one sensor into readings.
func sensorSamples(obj object, path string, ap *string, base int64, baseOK bool, verr *models.ValidationError) []models.Reading {
	name, okName := requiredString(obj, path, "name", verr)
	pdr, okPDR := requiredNumberArray(obj, path, "pdr", verr)
	rss, okRSS := requiredNumberArray(obj, path, "rss", verr)

	if okPDR && okRSS && len(pdr) != len(rss) {
		verr.Add(join(path, "rss"), "has %d samples but pdr has %d", len(rss), len(pdr))
		return nil
	}

	if !(okName && okPDR && okRSS && baseOK) {
		return nil
	}

	readings := make([]models.Reading, len(pdr))
	for i := range pdr {
		ts := base + int64(i)
		readings[i] = models.Reading{
			ID:          models.ReadingID(ap, name, ts),
			AccessPoint: ap,
			SensorName:  name,
			PDR:         pdr[i],
			RSS:         rss[i],
			ObservedAt:  ts,
		}
	}
	return readings
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func present(obj object, field string) (json.RawMessage, bool) {
	raw, ok := obj[field]
	raw = bytes.TrimSpace(raw)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

func requiredString(obj object, path, field string, verr *models.ValidationError) (string, bool) {
	raw, ok := present(obj, field)
	if !ok {
		verr.Add(join(path, field), "is required")
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		verr.Add(join(path, field), "must be a string")
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		verr.Add(join(path, field), "must not be empty")
		return "", false
	}
	return s, true
}

// optionalString reports ok=false only when the field is present with the wrong type.
func optionalString(obj object, path, field string, verr *models.ValidationError) (*string, bool) {
	raw, ok := present(obj, field)
	if !ok {
		return nil, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		verr.Add(join(path, field), "must be a string")
		return nil, false
	}
	if s == "" {
		return nil, true
	}
	return &s, true
}

func requiredNumber(obj object, path, field string, verr *models.ValidationError) (float64, bool) {
	raw, ok := present(obj, field)
	if !ok {
		verr.Add(join(path, field), "is required")
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		verr.Add(join(path, field), "must be a number")
		return 0, false
	}
	return f, true
}

func requiredInt(obj object, path, field string, verr *models.ValidationError) (int64, bool) {
	raw, ok := present(obj, field)
	if !ok {
		verr.Add(join(path, field), "is required")
		return 0, false
	}

	var num json.Number
	if raw[0] == '"' {
		verr.Add(join(path, field), "must be an integer timestamp")
		return 0, false
	}
	if err := json.Unmarshal(raw, &num); err != nil {
		verr.Add(join(path, field), "must be an integer timestamp")
		return 0, false
	}
	v, err := num.Int64()
	if err != nil {
		verr.Add(join(path, field), "must be an integer timestamp")
		return 0, false
	}
	return v, true
}

func requiredNumberArray(obj object, path, field string, verr *models.ValidationError) ([]float64, bool) {
	raw, ok := present(obj, field)
	if !ok {
		verr.Add(join(path, field), "is required")
		return nil, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		verr.Add(join(path, field), "must be an array of numbers")
		return nil, false
	}
	if len(items) == 0 {
		verr.Add(join(path, field), "must not be empty")
		return nil, false
	}

	values := make([]float64, len(items))
	valid := true
	for i, item := range items {
		if err := json.Unmarshal(item, &values[i]); err != nil || string(bytes.TrimSpace(item)) == "null" {
			verr.Add(fmt.Sprintf("%s[%d]", join(path, field), i), "must be a number")
			valid = false
		}
	}
	return values, valid
}
