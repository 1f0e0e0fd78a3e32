package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/infrastructure/store"
	"github.com/OliveiraNt/queuepilot/internal/testutil"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	os.Exit(m.Run())
}

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	server *Server
	store  domain.Store
	broker *testutil.FakeBroker
	svc    Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory(time.Now)
	broker := testutil.NewFakeBroker()
	policies := domain.StaticPolicy(domain.DefaultTopicPolicy())
	metrics := application.NewMetricsCollector(st)
	pm := application.NewPartitionManager(st, policies, nil)
	lb := application.NewLoadBalancer(st, pm, policies)
	health := application.NewHealthCheck(st, metrics, 0, 0)
	svc := Services{
		Partitions: pm,
		Load:       lb,
		Scaler:     application.NewAutoScaler(st, lb, health, metrics, policies, 0),
		Health:     health,
		DLQ:        application.NewDeadLetterQueue(st, metrics, nil, 0, 0),
		Tenants: application.NewTenantManager(st, func(prefix string) domain.Store {
			return store.NewNamespaced(st, prefix)
		}, map[string]string{"tier": "free"}),
		Metrics:   metrics,
		Publisher: broker,
		Lag:       broker,
	}
	s := New(svc)
	s.wsInterval = 20 * time.Millisecond
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, server: s, store: st, broker: broker, svc: svc}
}

func (h *harness) do(method, path string, body any, headers ...string) (int, []byte) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, out
}

func (h *harness) decode(raw []byte, v any) {
	h.t.Helper()
	require.NoError(h.t, json.Unmarshal(raw, v))
}

func TestConsumerHeartbeatAndHealth(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodPost, "/api/consumers/w1/heartbeat", map[string]any{"topic": "orders", "host": "node-a"})
	require.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(http.MethodPost, "/api/consumers/w2/heartbeat", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, body := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	var report domain.HealthReport
	h.decode(body, &report)
	require.Equal(t, "healthy", report.Status)
	require.Equal(t, []string{"w1", "w2"}, report.ActiveConsumers)

	code, _ = h.do(http.MethodPut, "/api/consumers/w2/status", map[string]string{"status": "paused"})
	require.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = h.do(http.MethodPut, "/api/consumers/ghost/status", map[string]string{"status": "paused"})
	require.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPut, "/api/consumers/w1/status", map[string]string{"status": "asleep"})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(http.MethodPost, "/api/consumers/w1/heartbeat", map[string]string{"status": "asleep"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodDelete, "/api/consumers/w2", nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestTopicPartitionsAndAssignment(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodGet, "/api/topics/orders/partitions", nil)
	require.Equal(t, http.StatusOK, code)
	var parts partitionsBody
	h.decode(body, &parts)
	require.Equal(t, 3, parts.Partitions)

	code, _ = h.do(http.MethodPut, "/api/topics/orders/partitions", map[string]int{"partitions": 0})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(http.MethodPut, "/api/topics/orders/partitions", map[string]int{"partitions": 6})
	require.Equal(t, http.StatusOK, code)

	for _, id := range []string{"c1", "c2"} {
		code, _ = h.do(http.MethodPost, "/api/topics/orders/consumers/"+id, nil)
		require.Equal(t, http.StatusNoContent, code)
	}

	code, body = h.do(http.MethodGet, "/api/topics/orders/assignment", nil)
	require.Equal(t, http.StatusOK, code)
	var a assignmentBody
	h.decode(body, &a)
	require.Equal(t, 6, a.Partitions)
	require.Equal(t, map[string][]int{"c1": {0, 1, 2}, "c2": {3, 4, 5}}, a.Assignment)

	code, body = h.do(http.MethodGet, "/api/topics/orders/consumers/c3/partitions", nil)
	require.Equal(t, http.StatusOK, code)
	var mine []int
	h.decode(body, &mine)
	require.Equal(t, []int{4, 5}, mine)

	code, _ = h.do(http.MethodDelete, "/api/topics/orders/consumers/c3", nil)
	require.Equal(t, http.StatusNoContent, code)
	consumers, err := h.svc.Partitions.Consumers(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, consumers)
}

func TestLoadAndScaling(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodPost, "/api/consumers/w1/heartbeat", map[string]string{"topic": "orders"})
	require.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(http.MethodPost, "/api/topics/orders/load", map[string]int{"count": -1})
	require.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(http.MethodPost, "/api/topics/orders/load", map[string]int{"count": 15000, "window_seconds": 60})
	require.Equal(t, http.StatusOK, code)
	var load domain.TopicLoad
	h.decode(body, &load)
	require.InDelta(t, 250, load.MessageRate, 0.001)

	code, body = h.do(http.MethodPost, "/api/topics/orders/scale", nil)
	require.Equal(t, http.StatusOK, code)
	var d domain.ScaleDecision
	h.decode(body, &d)
	require.Equal(t, domain.ScaleUp, d.Action)
	require.Equal(t, 3, d.Target)

	code, body = h.do(http.MethodGet, "/api/topics/orders/scale", nil)
	require.Equal(t, http.StatusOK, code)
	var desired desiredBody
	h.decode(body, &desired)
	require.True(t, desired.Known)
	require.Equal(t, 3, desired.DesiredConsumers)

	code, body = h.do(http.MethodGet, "/api/topics/orders/scale/history?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	var history []domain.ScaleDecision
	h.decode(body, &history)
	require.Len(t, history, 1)

	code, _ = h.do(http.MethodGet, "/api/topics/orders/scale/history?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodGet, "/api/topics/orders/load", nil)
	require.Equal(t, http.StatusOK, code)
	h.decode(body, &load)
	require.Equal(t, 3, load.PartitionCount)
	require.Zero(t, load.ConsumerCount)
}

func TestTopicLag(t *testing.T) {
	h := newHarness(t)
	h.broker.Lags = map[string]map[string]int64{"orders": {"billing": 40, "audit": 2}}

	code, body := h.do(http.MethodGet, "/api/topics/orders/lag", nil)
	require.Equal(t, http.StatusOK, code)
	var lag lagBody
	h.decode(body, &lag)
	require.Equal(t, int64(42), lag.Total)
	require.Equal(t, map[string]int64{"billing": 40, "audit": 2}, lag.Lag)

	h.broker.AdminErr = io.ErrClosedPipe
	code, _ = h.do(http.MethodGet, "/api/topics/orders/lag", nil)
	require.Equal(t, http.StatusBadGateway, code)

	h.server.svc.Lag = nil
	code, _ = h.do(http.MethodGet, "/api/topics/orders/lag", nil)
	require.Equal(t, http.StatusNotImplemented, code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.svc.DLQ.Add(ctx, "m1", "orders", `{"id":"m1"}`, "timeout"))
	require.True(t, h.svc.DLQ.Add(ctx, "m2", "orders", `{"id":"m2"}`, "timeout"))
	require.True(t, h.svc.DLQ.Add(ctx, "m3", "orders", `{"id":"m3"}`, "auth"))

	code, body := h.do(http.MethodGet, "/api/dlq/orders?start=1", nil)
	require.Equal(t, http.StatusOK, code)
	var page dlqPage
	h.decode(body, &page)
	require.Equal(t, int64(3), page.Total)
	require.Len(t, page.Messages, 2)
	require.Equal(t, "m2", page.Messages[0].MessageID)

	code, _ = h.do(http.MethodGet, "/api/dlq/orders?start=x", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodGet, "/api/dlq/orders/analysis", nil)
	require.Equal(t, http.StatusOK, code)
	var a domain.ErrorAnalysis
	h.decode(body, &a)
	require.Equal(t, []domain.ErrorStat{{Error: "timeout", Count: 2}, {Error: "auth", Count: 1}}, a.ErrorStats)

	code, _ = h.do(http.MethodPost, "/api/dlq/orders/0/retry", nil)
	require.Equal(t, http.StatusNoContent, code)
	out := h.broker.PublishedTo("orders")
	require.Len(t, out, 1)
	require.JSONEq(t, `{"id":"m1"}`, string(out[0].Payload))

	code, _ = h.do(http.MethodPost, "/api/dlq/orders/9/retry", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPost, "/api/dlq/orders/x/retry", nil)
	require.Equal(t, http.StatusBadRequest, code)

	h.broker.PublishErr = io.ErrUnexpectedEOF
	code, _ = h.do(http.MethodPost, "/api/dlq/orders/0/retry", nil)
	require.Equal(t, http.StatusBadGateway, code)
	entries, err := h.svc.DLQ.Messages(ctx, "orders", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, entries[0].RetryCount)

	code, _ = h.do(http.MethodDelete, "/api/dlq/orders", nil)
	require.Equal(t, http.StatusNoContent, code)
	n, err := h.svc.DLQ.Count(ctx, "orders")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTenantEndpoints(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/api/tenants", map[string]any{"id": "acme", "config": map[string]string{"tier": "gold"}})
	require.Equal(t, http.StatusCreated, code)
	var tenant domain.Tenant
	h.decode(body, &tenant)
	require.Equal(t, "acme", tenant.ID)

	code, _ = h.do(http.MethodPost, "/api/tenants", map[string]any{"id": "acme"})
	require.Equal(t, http.StatusConflict, code)
	code, _ = h.do(http.MethodPost, "/api/tenants", map[string]any{"id": "no spaces"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodGet, "/api/tenants", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `["acme"]`, string(body))

	code, body = h.do(http.MethodPut, "/api/tenants/acme/config", map[string]string{"region": "eu"})
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"tier":"gold","region":"eu"}`, string(body))

	code, body = h.do(http.MethodGet, "/api/tenants/acme/config", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"tier":"gold","region":"eu"}`, string(body))

	code, _ = h.do(http.MethodDelete, "/api/tenants/acme", nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(http.MethodGet, "/api/tenants/acme/config", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestTenantHeaderScopesTopics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Tenants.CreateTenant(ctx, "acme", nil)
	require.NoError(t, err)

	code, _ := h.do(http.MethodPut, "/api/topics/orders/partitions", map[string]int{"partitions": 8}, TenantHeader, "acme")
	require.Equal(t, http.StatusOK, code)

	require.Equal(t, 8, h.svc.Partitions.PartitionCount(ctx, "acme.orders"))
	require.Equal(t, 3, h.svc.Partitions.PartitionCount(ctx, "orders"))

	require.True(t, h.svc.DLQ.Add(ctx, "m", "acme.orders", "p", "e"))
	code, body := h.do(http.MethodGet, "/api/dlq/orders", nil, TenantHeader, "acme")
	require.Equal(t, http.StatusOK, code)
	var page dlqPage
	h.decode(body, &page)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, "acme.orders", page.Queue)
}

func TestTenantHeaderRejectsUnknownTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code, _ := h.do(http.MethodPut, "/api/topics/orders/partitions", map[string]int{"partitions": 8}, TenantHeader, "ghost")
	require.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPut, "/api/topics/orders/partitions", map[string]int{"partitions": 8}, TenantHeader, "bad.id/x")
	require.Equal(t, http.StatusBadRequest, code)

	consumers, err := h.svc.Partitions.Consumers(ctx, "ghost.orders")
	require.NoError(t, err)
	require.Empty(t, consumers)
	require.Equal(t, 3, h.svc.Partitions.PartitionCount(ctx, "ghost.orders"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.svc.DLQ.Add(context.Background(), "m", "orders", "p", "e"))

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `queuepilot_dlq_messages_total{queue="orders"} 1`)
}

func TestBadJSONBody(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Post(h.srv.URL+"/api/tenants", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthStream(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodPost, "/api/consumers/w1/heartbeat", nil)
	require.Equal(t, http.StatusNoContent, code)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/health/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var report domain.HealthReport
		require.NoError(t, conn.ReadJSON(&report))
		require.Equal(t, []string{"w1"}, report.ActiveConsumers)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
