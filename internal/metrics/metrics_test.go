package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.UserOnline("alice")
		m.InboundEvent("ping", "OK")
		m.CallStarted()
		m.CallFinished(time.Now())
	})
}

func TestCollectors(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.UserOnline("alice")
	m.UserOnline("bob")
	m.UserOffline("alice")
	m.CallStarted()
	m.CallTransition("active")
	m.CallFinished(time.Now().Add(-10 * time.Second))
	m.InboundEvent("message_send", "OK")

	body := scrape(t, m)
	assert.Contains(t, body, "test_online_users 1")
	assert.Contains(t, body, "test_call_sessions 0")
	assert.Contains(t, body, `test_call_transitions_total{state="active"} 1`)
	assert.Contains(t, body, `test_inbound_events_total{code="OK",type="message_send"} 1`)
	assert.Contains(t, body, "test_call_duration_seconds_count 1")
}

func TestDefaultRegistryIncludesRuntime(t *testing.T) {
	m := New()
	m.MessageSent()

	body := scrape(t, m)
	assert.Contains(t, body, "talk_messages_sent_total 1")
	assert.Contains(t, body, "go_goroutines")
}
