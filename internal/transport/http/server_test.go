package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"tradecopy/internal/account"
	"tradecopy/internal/engine"
	"tradecopy/internal/manager"
	"tradecopy/internal/metrics"
	"tradecopy/internal/symbols"
	"tradecopy/internal/venue"
	"tradecopy/internal/venue/paper"
)

func newTestServer(t *testing.T) (*Server, *paper.Session, *manager.Queue) {
	t.Helper()
	sess := paper.NewSession(101, 10000)
	sess.SetSymbol(venue.SymbolInfo{
		Symbol: "XAUUSD", TickValue: 1, TickSize: 0.01,
		VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100, Digits: 2,
	})
	sess.SetTick("XAUUSD", 2399.8, 2400.0)
	acc := account.New(101, 1.0, sess)
	registry := account.NewStaticRegistry(context.Background(), []*account.Account{acc})
	queue := manager.NewQueue()
	mtr := metrics.New()
	eng := engine.New(registry, queue, symbols.NewTable(), nil, mtr)
	mgr := manager.New(manager.Config{PollInterval: time.Second}, registry, queue, nil, nil, mtr)

	srv, err := NewServer(ServerConfig{Engine: eng, Manager: mgr, Metrics: mtr})
	require.NoError(t, err)
	return srv, sess, queue
}

func postSignal(srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSignalIntake(t *testing.T) {
	t.Run("valid signal is accepted and executed", func(t *testing.T) {
		srv, _, queue := newTestServer(t)
		rec := postSignal(srv, `{
			"symbol": "GOLD", "direction": "BUY",
			"entries": [{"kind": "MARKET"}],
			"targets": [2405, 2410], "stop_loss": 2390,
			"group_id": "grp-http"
		}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "grp-http", gjson.Get(rec.Body.String(), "group_id").String())

		// Execution is asynchronous; wait for the registration.
		require.Eventually(t, func() bool { return queue.Len() == 1 },
			2*time.Second, 10*time.Millisecond)
	})

	t.Run("group id is generated when absent", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := postSignal(srv, `{
			"symbol": "GOLD", "direction": "BUY",
			"entries": [{"kind": "MARKET"}], "stop_loss": 2390
		}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.NotEmpty(t, gjson.Get(rec.Body.String(), "group_id").String())
	})

	t.Run("schema violations are rejected with a pointed error", func(t *testing.T) {
		srv, _, queue := newTestServer(t)
		rec := postSignal(srv, `{"symbol": "GOLD", "direction": "BUY", "entries": [{"kind": "MARKET"}]}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "stop_loss")
		assert.Equal(t, 0, queue.Len())
	})

	t.Run("non-json body is rejected", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := postSignal(srv, "buy gold now!!")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestInspectionEndpoints(t *testing.T) {
	t.Run("tickets endpoint lists managed state", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gjson.Get(rec.Body.String(), "tickets").Exists())
	})

	t.Run("health endpoint", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics endpoint serves prometheus text", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "tradecopy_signals_received_total")
	})
}
