package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(AlertConfig{})

	alerts := a.Evaluate(Report{Checked: 20, StillActive: 18, Transient: 2})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Removals(t *testing.T) {
	a := NewAlerter(AlertConfig{RemovalThreshold: 3})

	assert.Empty(t, a.Evaluate(Report{Checked: 5, Removed: 2}))

	alerts := a.Evaluate(Report{Checked: 5, Removed: 3, Expired: 4})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertPostingsRemoved, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 posting(s) confirmed removed out of 5")
	assert.Equal(t, AlertPostingsExpired, alerts[1].Type)
}

func TestAlerter_Evaluate_ProbeFailureRate(t *testing.T) {
	a := NewAlerter(AlertConfig{TransientRateThreshold: 0.25, MinChecked: 4})

	assert.Empty(t, a.Evaluate(Report{Checked: 3, Transient: 3}), "below MinChecked")

	alerts := a.Evaluate(Report{Checked: 10, Transient: 3, Failed: 1, StillActive: 6})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertProbeFailures, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_OpenHosts(t *testing.T) {
	a := NewAlerter(AlertConfig{})

	alerts := a.Evaluate(Report{OpenHosts: []string{"jobs.example.com"}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHostsOpen, alerts[0].Type)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertPostingsRemoved, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), a.Evaluate(Report{Checked: 1, Removed: 1}))
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(AlertConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertPostingsRemoved}}))
}

func TestAlerter_SendAlerts_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertPostingsRemoved}}))
}
