package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineTestAPIKey = "service:test:key"

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{APIKey: engineTestAPIKey}
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Stores, 1)
	assert.Equal(t, DefaultStoreName, cfg.Stores[0].Name)
	assert.Equal(t, DefaultCacheSize, cfg.Stores[0].InMemory.CacheSize)
	assert.Equal(t, DefaultStoreName, cfg.QueryCache.PublicFullQueryStore)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing api key", Config{}, "api key is required"},
		{"duplicate store", Config{APIKey: engineTestAPIKey, Stores: []StoreConfig{{Name: "a"}, {Name: "a"}}}, "duplicate store"},
		{"unnamed store", Config{APIKey: engineTestAPIKey, Stores: []StoreConfig{{}}}, "store name is required"},
		{"unknown public store", Config{APIKey: engineTestAPIKey, QueryCache: QueryCacheConfig{PublicFullQueryStore: "nope"}}, "not configured"},
		{"negative max age", Config{APIKey: engineTestAPIKey, QueryCache: QueryCacheConfig{MaxAge: -time.Second}}, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEngine_StartOnce(t *testing.T) {
	e, err := New(Config{APIKey: engineTestAPIKey})
	require.NoError(t, err)

	require.ErrorIs(t, e.Stop(context.Background()), ErrNotStarted)
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Started())
	require.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, e.Stop(context.Background()))
}

func TestEngine_PublicCache(t *testing.T) {
	e, err := New(Config{APIKey: engineTestAPIKey})
	require.NoError(t, err)
	c, ttl := e.PublicCache()
	assert.Nil(t, c, "caching is disabled without a max age")
	assert.Zero(t, ttl)

	e, err = New(Config{APIKey: engineTestAPIKey, QueryCache: QueryCacheConfig{MaxAge: time.Minute}})
	require.NoError(t, err)
	c, ttl = e.PublicCache()
	require.NotNil(t, c)
	assert.Equal(t, DefaultStoreName, c.Name())
	assert.Equal(t, time.Minute, ttl)
	assert.Same(t, c, e.Store(DefaultStoreName))
}

func TestEngine_ReportsTracesOnStop(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Trace
		apiKey   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch reportBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, batch.Traces...)
		apiKey = r.Header.Get(APIKeyHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	e, err := New(Config{
		APIKey: engineTestAPIKey,
		Report: ReportConfig{Endpoint: srv.URL, Interval: time.Hour},
	}, WithRegisterer(reg), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	e.RecordTrace(Trace{QueryHash: "abc", Duration: time.Millisecond})
	e.RecordTrace(Trace{QueryHash: "def", ErrorCount: 1})
	require.NoError(t, e.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "abc", received[0].QueryHash)
	assert.Equal(t, engineTestAPIKey, apiKey)
}

func TestEngine_ReportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, err := New(Config{APIKey: engineTestAPIKey, Report: ReportConfig{Endpoint: srv.URL, Interval: time.Hour}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	e.RecordTrace(Trace{QueryHash: "abc"})
	err = e.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestEngine_PendingIsBounded(t *testing.T) {
	e, err := New(Config{APIKey: engineTestAPIKey, Report: ReportConfig{Endpoint: "http://127.0.0.1:0", MaxPending: 2}})
	require.NoError(t, err)

	e.RecordTrace(Trace{QueryHash: "1"})
	e.RecordTrace(Trace{QueryHash: "2"})
	e.RecordTrace(Trace{QueryHash: "3"})

	require.Len(t, e.pending, 2)
	assert.Equal(t, "2", e.pending[0].QueryHash)
}

func TestEngine_NoEndpointKeepsNothing(t *testing.T) {
	e, err := New(Config{APIKey: engineTestAPIKey})
	require.NoError(t, err)

	e.RecordTrace(Trace{QueryHash: "1"})
	e.CacheLookup(DefaultStoreName, true)
	assert.Empty(t, e.pending)
}

func TestEngine_StopWithReportingIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e, err := New(Config{
		APIKey: engineTestAPIKey,
		Report: ReportConfig{Endpoint: srv.URL, Interval: time.Millisecond},
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	e.RecordTrace(Trace{QueryHash: "abc"})
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
}

func TestEngine_ExportsCacheGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := New(Config{
		APIKey:     engineTestAPIKey,
		QueryCache: QueryCacheConfig{MaxAge: time.Minute},
	}, WithRegisterer(reg))
	require.NoError(t, err)

	c, _ := e.PublicCache()
	require.True(t, c.Set("q", []byte("12345"), 0))

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetGauge() != nil {
				got[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.InDelta(t, 1, got["webapp_engine_cache_entries"], 0)
	assert.InDelta(t, 5, got["webapp_engine_cache_bytes"], 0)
}
