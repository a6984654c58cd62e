package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPostingsRemoved AlertType = "postings_removed"
	AlertPostingsExpired AlertType = "postings_expired"
	AlertProbeFailures   AlertType = "probe_failures"
	AlertHostsOpen       AlertType = "hosts_circuit_open"
)

// Alert is one webhook notification.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertConfig holds webhook and threshold settings. An empty WebhookURL
// disables delivery.
type AlertConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	// RemovalThreshold is the removal count that triggers a notice.
	RemovalThreshold int `mapstructure:"removal_threshold"`
	// TransientRateThreshold is the share of transient or failed checks,
	// over at least MinChecked checks, that triggers a warning.
	TransientRateThreshold float64 `mapstructure:"transient_rate_threshold"`
	MinChecked             int     `mapstructure:"min_checked"`
}

// Alerter turns run reports into webhook notifications.
type Alerter struct {
	cfg    AlertConfig
	client *http.Client
	log    *zap.Logger
}

// NewAlerter creates an Alerter; zero thresholds take defaults.
func NewAlerter(cfg AlertConfig) *Alerter {
	if cfg.RemovalThreshold <= 0 {
		cfg.RemovalThreshold = 1
	}
	if cfg.TransientRateThreshold <= 0 {
		cfg.TransientRateThreshold = 0.5
	}
	if cfg.MinChecked <= 0 {
		cfg.MinChecked = 10
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zap.L().With(zap.String("component", "status.alerter")),
	}
}

// Evaluate returns the alerts a report warrants.
func (a *Alerter) Evaluate(r Report) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if r.Removed >= a.cfg.RemovalThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPostingsRemoved,
			Severity: "info",
			Message:  fmt.Sprintf("%d posting(s) confirmed removed out of %d checked", r.Removed, r.Checked),
			Details: map[string]any{
				"removed": r.Removed,
				"checked": r.Checked,
			},
			Timestamp: now,
		})
	}

	if r.Expired > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertPostingsExpired,
			Severity:  "info",
			Message:   fmt.Sprintf("%d posting(s) expired", r.Expired),
			Details:   map[string]any{"expired": r.Expired},
			Timestamp: now,
		})
	}

	if r.Checked >= a.cfg.MinChecked {
		rate := float64(r.Transient+r.Failed) / float64(r.Checked)
		if rate > a.cfg.TransientRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertProbeFailures,
				Severity: "high",
				Message: fmt.Sprintf("%.1f%% of status checks failed to reach a verdict (threshold %.1f%%)",
					rate*100, a.cfg.TransientRateThreshold*100),
				Details: map[string]any{
					"transient": r.Transient,
					"failed":    r.Failed,
					"checked":   r.Checked,
					"rate":      rate,
				},
				Timestamp: now,
			})
		}
	}

	if len(r.OpenHosts) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertHostsOpen,
			Severity:  "warning",
			Message:   fmt.Sprintf("%d host(s) short-circuited after repeated failures", len(r.OpenHosts)),
			Details:   map[string]any{"hosts": r.OpenHosts},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the webhook and returns how many were sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.send(ctx, alert); err != nil {
			a.log.Error("failed to send alert", zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		a.log.Info("alert sent", zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "status: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "status: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "status: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("status: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
