// Package notifier delivers triggered alerts by email. An unconfigured
// notifier degrades to logging the alert instead of sending it.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"falconeye/internal/config"
	"falconeye/internal/models"
)

// windowSampleLimit caps how many window values the mail body lists.
const windowSampleLimit = 10

// Email sends alert notifications over SMTP.
type Email struct {
	host string
	from string
	log  *slog.Logger

	// send is swapped in tests to capture messages instead of dialing.
	send func(m *gomail.Message) error
}

func NewEmail(cfg config.SMTPConfig, logger *slog.Logger) *Email {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.SSL = cfg.UseSSL
	return &Email{
		host: cfg.Host,
		from: cfg.From,
		log:  logger,
		send: func(m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

// Notify emails the rule's recipients. When SMTP is not configured the
// alert is logged at WARN and nil is returned; that degrade path is not a
// delivery failure.
func (e *Email) Notify(_ context.Context, rule models.AlertRule, server string, current float64, window []float64, triggeredAt time.Time) error {
	recipients := splitRecipients(rule.Recipients)

	if e.host == "" || e.from == "" {
		e.log.Warn("smtp not configured, logging alert instead",
			"rule", rule.Name,
			"server", server,
			"resource", rule.Resource,
			"threshold", rule.Threshold,
			"window_minutes", rule.WindowMinutes,
			"current", current,
			"recipients", rule.Recipients)
		return nil
	}
	if len(recipients) == 0 {
		e.log.Warn("no valid recipients for alert, skipping email", "rule_id", rule.ID, "rule", rule.Name)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", fmt.Sprintf("FalconEye Alert: %s triggered on %s", rule.Name, server))
	m.SetBody("text/plain", body(rule, server, current, window, triggeredAt))

	if err := e.send(m); err != nil {
		return fmt.Errorf("send alert email for %q: %w", rule.Name, err)
	}
	e.log.Info("alert email sent", "rule", rule.Name, "server", server, "recipients", recipients)
	return nil
}

func body(rule models.AlertRule, server string, current float64, window []float64, triggeredAt time.Time) string {
	samples := make([]string, 0, windowSampleLimit)
	for i, v := range window {
		if i == windowSampleLimit {
			break
		}
		samples = append(samples, fmt.Sprintf("%.2f%%", v))
	}
	suffix := ""
	if len(window) > windowSampleLimit {
		suffix = "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FalconEye Monitoring System has detected an alert.\n\n")
	fmt.Fprintf(&b, "Alert Name:         %s\n", rule.Name)
	fmt.Fprintf(&b, "Target Server:      %s\n", server)
	fmt.Fprintf(&b, "Monitored Resource: %s\n", strings.ToUpper(string(rule.Resource)))
	fmt.Fprintf(&b, "Threshold Set:      > %.2f%%\n", rule.Threshold)
	fmt.Fprintf(&b, "Time Window:        %d minutes\n\n", rule.WindowMinutes)
	fmt.Fprintf(&b, "The %s usage on server %q has consistently been above the threshold for the duration of the window.\n", rule.Resource, server)
	fmt.Fprintf(&b, "Current value (at time of trigger): %.2f%%\n", current)
	fmt.Fprintf(&b, "Data points over the window: %s%s\n\n", strings.Join(samples, ", "), suffix)
	fmt.Fprintf(&b, "Triggered At: %s\n\n", triggeredAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "-- FalconEye Monitoring System\n")
	return b.String()
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
