package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LinkMonitorAPI/internal/classifier"
	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/handler"
	"LinkMonitorAPI/internal/ingest"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/metrics"
	"LinkMonitorAPI/internal/models"
	"LinkMonitorAPI/internal/repository/sqlite"
	"LinkMonitorAPI/internal/service"
	"LinkMonitorAPI/internal/websocket"

	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lowPDR flags every reading whose pdr is below 0.5.
type lowPDR struct{}

func (lowPDR) Score(_ context.Context, readings []models.Reading) ([]models.WarningState, error) {
	out := make([]models.WarningState, len(readings))
	for i, r := range readings {
		out[i] = models.WarningFromBool(r.PDR < 0.5)
	}
	return out, nil
}

type envelope struct {
	Type    string          `json:"type"`
	Payload models.Snapshot `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.Discard()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedMethods: []string{"GET", "POST"},
		},
	}

	store, err := sqlite.NewMemoryStore()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	gateway := classifier.NewGateway(lowPDR{}, time.Second, log)
	hub := websocket.NewHub(log, m)
	agg := service.NewAggregator(store, gateway, config.AggregatorConfig{ResubscribeMin: time.Millisecond}, m, log)
	agg.AddPublisher(hub)
	hub.OnRegister(agg.Trigger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go agg.Run(ctx)

	readingService := service.NewReadingService(ingest.NewNormalizer(ingest.Options{}), store, m, log)

	srv := New(cfg, log)
	srv.RegisterHandlers(
		handler.NewReadingHandler(readingService, 1<<20, log),
		handler.NewHealthHandler(store, nil, hub, log),
		hub,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		store.Close()
	})
	return ts
}

func readSnapshot(t *testing.T, conn *gorillaws.Conn) models.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, websocket.MessageTypeSnapshot, env.Type)
	return env.Payload
}

func TestLiveFeedEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readSnapshot(t, conn)
	assert.Empty(t, first.Readings)

	resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json",
		strings.NewReader(`{"ap":"ap1","at":100,"sensors":[{"name":"s1","pdr":[0.9],"rss":[-60]},{"name":"s2","pdr":[0.2],"rss":[-93]}]}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"accepted":2}`, string(body))

	// snapshots keep arriving until the classified state is published
	var snap models.Snapshot
	for i := 0; i < 10; i++ {
		snap = readSnapshot(t, conn)
		if len(snap.Readings) == 2 && snap.UnknownCount == 0 {
			break
		}
	}
	require.Len(t, snap.Readings, 2)
	assert.True(t, snap.AnyWarning)
	assert.Equal(t, 1, snap.WarningCount)
	assert.Equal(t, 0, snap.UnknownCount)

	resp, err = http.Get(ts.URL + "/api/v1/readings")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stored models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	assert.Equal(t, 1, stored.WarningCount)
	assert.Equal(t, 0, stored.UnknownCount)
}

func TestMetricsAndHealthRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json",
		strings.NewReader(`[{"sensor_name":"s1","pdr":0.9,"rss":-60,"updated_at":100}]`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "linkmon_readings_ingested_total 1")

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
