package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"LinkMonitorAPI/internal/models"
)

const maxResponseBytes = 8 << 20

type mlDoc struct {
	SensorName  string  `json:"sensor_name"`
	AccessPoint *string `json:"access_point,omitempty"`
	PDR         float64 `json:"pdr"`
	RSS         float64 `json:"rss"`
	ObservedAt  int64   `json:"observed_at"`
	IsWarning   *bool   `json:"isWarning,omitempty"`
}

type mlRecord struct {
	ID  string `json:"id"`
	Doc mlDoc  `json:"doc"`
}

// HTTPBackend talks to a model server that accepts a list of
// {"id","doc"} records and echoes them back with doc.isWarning set.
type HTTPBackend struct {
	url    string
	client *http.Client
}

func NewHTTPBackend(url string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{url: url, client: client}
}

func (b *HTTPBackend) Score(ctx context.Context, readings []models.Reading) ([]models.WarningState, error) {
	records := make([]mlRecord, len(readings))
	for i, r := range readings {
		records[i] = mlRecord{
			ID: r.ID,
			Doc: mlDoc{
				SensorName:  r.SensorName,
				AccessPoint: r.AccessPoint,
				PDR:         r.PDR,
				RSS:         r.RSS,
				ObservedAt:  r.ObservedAt,
			},
		}
	}

	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result []mlRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	return matchResults(readings, result)
}

// matchResults pairs response records with readings by id. Records
// without an id are matched by position.
func matchResults(readings []models.Reading, result []mlRecord) ([]models.WarningState, error) {
	if len(result) != len(readings) {
		return nil, fmt.Errorf("malformed response: got %d records for %d readings", len(result), len(readings))
	}

	index := make(map[string]int, len(readings))
	for i, r := range readings {
		index[r.ID] = i
	}

	states := make([]models.WarningState, len(readings))
	seen := make([]bool, len(readings))
	for pos, rec := range result {
		i := pos
		if rec.ID != "" {
			idx, ok := index[rec.ID]
			if !ok {
				return nil, fmt.Errorf("malformed response: unknown id %q", rec.ID)
			}
			i = idx
		}
		if rec.Doc.IsWarning == nil {
			return nil, fmt.Errorf("malformed response: record %d has no isWarning", pos)
		}
		if seen[i] {
			return nil, fmt.Errorf("malformed response: duplicate result for %q", readings[i].ID)
		}
		seen[i] = true
		states[i] = models.WarningFromBool(*rec.Doc.IsWarning)
	}

	return states, nil
}
