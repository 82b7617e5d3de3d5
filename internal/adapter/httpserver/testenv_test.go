package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/adapter/metrics"
	"github.com/RustyBraze/Stickerwall/internal/adapter/sqlite"
	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	"github.com/RustyBraze/Stickerwall/internal/auth"
	"github.com/RustyBraze/Stickerwall/internal/broadcast"
	"github.com/RustyBraze/Stickerwall/internal/catalog"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/ingest"
	"github.com/RustyBraze/Stickerwall/internal/platform/config"
	"github.com/RustyBraze/Stickerwall/internal/policy"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testProducerSecret = "producer-secret-0123456789"
	testAdminPassword  = "correct horse battery"
)

type testEnv struct {
	t          *testing.T
	server     *httptest.Server
	hub        *broadcast.Hub
	catalog    *catalog.Service
	auth       *auth.Service
	wsMetrics  *metrics.WebSocketMetrics
	adminToken string
}

type envSettings struct {
	config       *config.Config
	healthChecks []HealthCheck
}

type envOption func(*envSettings)

func withConfig(fn func(*config.Config)) envOption {
	return func(s *envSettings) { fn(s.config) }
}

func withHealthCheck(name string, check func(context.Context) error) envOption {
	return func(s *envSettings) {
		s.healthChecks = append(s.healthChecks, HealthCheck{Name: name, Check: check})
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		AppEnv:                  "test",
		ProducerSecret:          testProducerSecret,
		ReplayLimit:             100,
		ClientQueueSize:         64,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionRatePerIP:     1000,
		ConnectionBurstPerIP:    1000,
	}
	settings := &envSettings{config: cfg}
	for _, opt := range opts {
		opt(settings)
	}

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "wall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.RunMigrations(ctx, db))

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewRealClock()
	repo := sqlite.NewStickerRepo(db, clock)
	cat := catalog.NewService(repo, store)

	authSvc := auth.NewService(sqlite.NewAuthRepo(db), auth.Config{
		SessionTTL: time.Hour,
		APIKeyTTL:  24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, clock)
	require.NoError(t, authSvc.EnsureAdmin(ctx, "admin", testAdminPassword))

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	hub := broadcast.NewHub(broadcast.NewRegistry(), cat, cfg.ReplayLimit, wsMetrics)
	t.Cleanup(hub.Close)

	policies := policy.NewStore(repo, policy.Config{Default: domain.NewRateLimitPolicy(3, time.Hour)}, clock)
	pipeline := ingest.NewPipeline(policies, cat, hub, metrics.NewIngestMetrics(reg), clock, ingest.Config{RecordBlocked: true})

	srv := NewServer(cfg, Deps{
		Catalog:  cat,
		Auth:     authSvc,
		Hub:      hub,
		Pipeline: pipeline,
		Payloads: store,
		Limits: NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP,
			cfg.ConnectionRatePerIP, cfg.ConnectionBurstPerIP, clock),
		Registry:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		WSMetrics:   wsMetrics,
		HealthChecks: append([]HealthCheck{
			{Name: "database", Check: sqlite.HealthCheck(db)},
			{Name: "storage", Check: store.Check},
		}, settings.healthChecks...),
		Clock: clock,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	env := &testEnv{t: t, server: ts, hub: hub, catalog: cat, auth: authSvc, wsMetrics: wsMetrics}
	env.adminToken = env.login("admin", testAdminPassword)
	return env
}

func (e *testEnv) login(username, password string) string {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode, string(body))

	var tok tokenResponse
	require.NoError(e.t, json.Unmarshal(body, &tok))
	require.NotEmpty(e.t, tok.Token)
	return tok.Token
}

func (e *testEnv) do(method, path, token string, body any) (*http.Response, []byte) {
	e.t.Helper()
	return e.doWithHeader(method, path, "Authorization", bearer(token), body)
}

func (e *testEnv) doWithHeader(method, path, header, value string, body any) (*http.Response, []byte) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if value != "" {
		req.Header.Set(header, value)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp, data
}

func bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

func (e *testEnv) dialProducer(path, key string) (*ws.Conn, *http.Response, error) {
	header := http.Header{}
	if key != "" {
		header.Set("X-API-Key", key)
	}
	conn, resp, err := ws.DefaultDialer.Dial(e.wsURL(path), header)
	if conn != nil {
		e.t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func (e *testEnv) producer() *ws.Conn {
	e.t.Helper()
	conn, _, err := e.dialProducer("/ws/producer", testProducerSecret)
	require.NoError(e.t, err)
	e.waitForCount(broadcast.RoleProducer, 1)
	return conn
}

// subscriber connects a wall display and consumes the join replay up to and
// including its wall_clear.
func (e *testEnv) subscriber(path string) *ws.Conn {
	e.t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(e.wsURL(path), nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { conn.Close() })

	for {
		if readEvent(e.t, conn).Type == string(domain.EventWallClear) {
			return conn
		}
	}
}

func (e *testEnv) waitForCount(role broadcast.Role, want int) {
	e.t.Helper()
	require.Eventually(e.t, func() bool {
		return e.hub.Registry().Count(role) == want
	}, 2*time.Second, 5*time.Millisecond)
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *ws.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func readStickerAdd(t *testing.T, conn *ws.Conn) domain.StickerAddData {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, string(domain.EventStickerAdd), ev.Type)

	var data domain.StickerAddData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data
}

func sendSticker(t *testing.T, conn *ws.Conn, userID, stickerID, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":                   "sticker",
		"telegram_user_id":       userID,
		"telegram_username":      "user" + userID,
		"telegram_full_username": "User " + userID,
		"sticker_id":             stickerID,
		"sticker_data":           base64.StdEncoding.EncodeToString([]byte(payload)),
		"file_extension":         "webp",
	}))
}
