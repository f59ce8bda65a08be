// Package notification delivers trading events to external channels
// (Telegram, webhooks) and to the log.
package notification

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"trendbotv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends. Delivery failures are
// logged, never propagated, so a dead webhook cannot stall the pipeline.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
		}
	}
	return nil
}

// FillAlert describes a confirmed order fill.
func FillAlert(res model.OrderResult, reason string) Alert {
	return Alert{
		Level:  AlertInfo,
		Symbol: res.Symbol,
		Title:  fmt.Sprintf("%s %s filled", res.Side, res.Symbol),
		Message: fmt.Sprintf("qty %s at %s (%s), order %s",
			strconv.FormatFloat(res.Qty, 'f', -1, 64),
			strconv.FormatFloat(res.AvgPrice, 'f', -1, 64),
			reason, res.OrderID),
	}
}

// RestartAlert describes a clock-aligned restart with the fresh watch-set.
func RestartAlert(watched []string) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   "watch-set rebuilt",
		Message: fmt.Sprintf("now watching %v", watched),
	}
}

// SeedFailureAlert describes an instrument dropped after seed retries.
func SeedFailureAlert(symbol string, err error) Alert {
	return Alert{
		Level:   AlertWarning,
		Symbol:  symbol,
		Title:   fmt.Sprintf("%s dropped", symbol),
		Message: fmt.Sprintf("history seed failed: %v", err),
	}
}
