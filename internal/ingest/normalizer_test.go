package ingest

import (
	"errors"
	"testing"

	"LinkMonitorAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldNames(t *testing.T, err error) []string {
	t.Helper()

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)

	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestNormalizeSingleSensorExpandsSamples(t *testing.T) {
	n := NewNormalizer(Options{})

	readings, err := n.Normalize([]byte(`{"name":"s1","pdr":[0.9,0.95],"rss":[-60,-62],"at":100}`))
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "s1100", readings[0].ID)
	assert.Equal(t, int64(100), readings[0].ObservedAt)
	assert.InDelta(t, 0.9, readings[0].PDR, 1e-9)
	assert.InDelta(t, -60, readings[0].RSS, 1e-9)

	assert.Equal(t, "s1101", readings[1].ID)
	assert.Equal(t, int64(101), readings[1].ObservedAt)
	assert.InDelta(t, 0.95, readings[1].PDR, 1e-9)

	for _, r := range readings {
		assert.Nil(t, r.AccessPoint)
		assert.Equal(t, models.WarningUnknown, r.Warning)
	}
}

func TestNormalizeAccessPointBatch(t *testing.T) {
	n := NewNormalizer(Options{})

	payload := `{
		"ap": "ap1",
		"at": 500,
		"sensors": [
			{"name": "s1", "pdr": [0.9, 0.8, 0.7], "rss": [-60, -61, -62]},
			{"name": "s2", "pdr": [0.5, 0.4, 0.3], "rss": [-70, -71, -72]}
		]
	}`

	readings, err := n.Normalize([]byte(payload))
	require.NoError(t, err)
	require.Len(t, readings, 6)

	ids := map[string]bool{}
	lastSeen := map[string]int64{}
	for _, r := range readings {
		require.NotNil(t, r.AccessPoint)
		assert.Equal(t, "ap1", *r.AccessPoint)

		assert.False(t, ids[r.ID], "duplicate id %s", r.ID)
		ids[r.ID] = true

		if prev, ok := lastSeen[r.SensorName]; ok {
			assert.Greater(t, r.ObservedAt, prev)
		}
		lastSeen[r.SensorName] = r.ObservedAt
	}

	assert.Equal(t, "ap1s1500", readings[0].ID)
	assert.Equal(t, "ap1s2502", readings[5].ID)
	assert.Equal(t, int64(502), readings[5].ObservedAt)
}

func TestNormalizeFlatArray(t *testing.T) {
	n := NewNormalizer(Options{})

	payload := `[
		{"sensor_name": "s1", "pdr": 0.9, "rss": -60, "updated_at": 100},
		{"sensor_name": "s2", "pdr": 0.2, "rss": -80, "updated_at": 100, "access_point": "ap7"}
	]`

	readings, err := n.Normalize([]byte(payload))
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "s1100", readings[0].ID)
	assert.Nil(t, readings[0].AccessPoint)
	assert.Equal(t, "ap7s2100", readings[1].ID)
	assert.Equal(t, models.WarningUnknown, readings[1].Warning)
}

func TestNormalizeFlatArrayLegacyThreshold(t *testing.T) {
	n := NewNormalizer(Options{LegacyPDRThreshold: 0.5})

	payload := `[
		{"sensor_name": "s1", "pdr": 0.9, "rss": -60, "updated_at": 1},
		{"sensor_name": "s2", "pdr": 0.2, "rss": -80, "updated_at": 1}
	]`

	readings, err := n.Normalize([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.WarningFalse, readings[0].Warning)
	assert.Equal(t, models.WarningTrue, readings[1].Warning)
}

func TestNormalizeThresholdDoesNotApplyToSampleBatches(t *testing.T) {
	n := NewNormalizer(Options{LegacyPDRThreshold: 0.5})

	readings, err := n.Normalize([]byte(`{"name":"s1","pdr":[0.1],"rss":[-90],"at":7}`))
	require.NoError(t, err)
	assert.Equal(t, models.WarningUnknown, readings[0].Warning)
}

func TestNormalizeReportsEveryViolation(t *testing.T) {
	n := NewNormalizer(Options{})

	payload := `[
		{"sensor_name": "s1", "pdr": "high", "rss": -60},
		{"pdr": 0.4, "rss": -60, "updated_at": 1.5},
		42
	]`

	readings, err := n.Normalize([]byte(payload))
	assert.Nil(t, readings)

	names := fieldNames(t, err)
	assert.ElementsMatch(t, []string{
		"[0].pdr",
		"[0].updated_at",
		"[1].sensor_name",
		"[1].updated_at",
		"[2]",
	}, names)
}

func TestNormalizeMismatchedArrays(t *testing.T) {
	n := NewNormalizer(Options{})

	_, err := n.Normalize([]byte(`{"name":"s1","pdr":[0.9,0.95,0.99],"rss":[-60,-62],"at":100}`))
	assert.Equal(t, []string{"rss"}, fieldNames(t, err))
}

func TestNormalizeAccessPointBatchIsAllOrNothing(t *testing.T) {
	n := NewNormalizer(Options{})

	payload := `{
		"at": "soon",
		"sensors": [
			{"name": "s1", "pdr": [0.9], "rss": [-60]},
			{"name": "s2", "pdr": [0.9, 0.8], "rss": [-60]},
			{"pdr": [null], "rss": [-60]}
		]
	}`

	readings, err := n.Normalize([]byte(payload))
	assert.Nil(t, readings)
	assert.ElementsMatch(t, []string{
		"ap",
		"at",
		"sensors[1].rss",
		"sensors[2].name",
		"sensors[2].pdr[0]",
	}, fieldNames(t, err))
}

func TestNormalizeRejectsEmptyPayloads(t *testing.T) {
	n := NewNormalizer(Options{})

	cases := map[string]string{
		"blank":         ``,
		"empty array":   `[]`,
		"scalar":        `"hello"`,
		"empty sensors": `{"ap":"ap1","at":1,"sensors":[]}`,
		"empty samples": `{"name":"s1","pdr":[],"rss":[],"at":1}`,
		"broken json":   `{"name":`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			readings, err := n.Normalize([]byte(payload))
			assert.Nil(t, readings)

			var verr *models.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}
