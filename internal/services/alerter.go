package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/telemetry"
)

// messageSender is the slice of the Telegram bot the alerter uses. *bot.Bot
// satisfies it; tests substitute a recorder.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Alerter pushes operational alerts to a Telegram chat. It satisfies the
// collector's DegradationNotifier interface. Alerts are throttled per fetch
// key so a hot symbol failing on every venue does not flood the chat.
type Alerter struct {
	sender   messageSender
	chatID   int64
	logger   *slog.Logger
	tracer   *telemetry.BusinessTracer
	throttle time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

const defaultAlertThrottle = 15 * time.Minute

// NewAlerter creates a Telegram alerter. It returns an error when the token is
// set but rejected by the bot library; an empty token yields a disabled
// alerter that logs instead of sending.
func NewAlerter(cfg config.TelegramConfig, logger *slog.Logger) (*Alerter, error) {
	var sender messageSender
	if cfg.BotToken != "" {
		b, err := bot.New(cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
		sender = b
	}
	return &Alerter{
		sender:   sender,
		chatID:   cfg.ChatID,
		logger:   logger,
		tracer:   telemetry.NewBusinessTracer(),
		throttle: defaultAlertThrottle,
		lastSent: make(map[string]time.Time),
	}, nil
}

// FetchExhausted reports that every candidate venue failed for a fetch key.
func (a *Alerter) FetchExhausted(ctx context.Context, key market.Key, attempts []market.Attempt) {
	if !a.shouldSend("exhausted:" + key.String()) {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ *Fetch exhausted* for `%s %s`\n", key.Symbol, key.Timeframe)
	fmt.Fprintf(&sb, "All %d venue(s) failed:\n", len(attempts))
	for _, attempt := range attempts {
		fmt.Fprintf(&sb, "• *%s*: %s\n", attempt.Provider, attempt.Reason)
	}

	a.send(ctx, "fetch_exhausted", sb.String())
}

// ProviderDegraded reports venues that failed registry initialization.
func (a *Alerter) ProviderDegraded(ctx context.Context, name, initError string) {
	if !a.shouldSend("degraded:" + name) {
		return
	}

	message := fmt.Sprintf("⚠️ *Venue degraded*: `%s`\n%s", name, initError)
	a.send(ctx, "provider_degraded", message)
}

// shouldSend applies the per-key throttle.
func (a *Alerter) shouldSend(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastSent[key]; ok && time.Since(last) < a.throttle {
		return false
	}
	a.lastSent[key] = time.Now()
	return true
}

func (a *Alerter) send(ctx context.Context, alertType, message string) {
	if a.sender == nil || a.chatID == 0 {
		a.logger.Warn("Telegram alerting disabled, logging alert instead",
			"alert_type", alertType,
			"message", message)
		return
	}

	_, span := a.tracer.TraceNotification(ctx, alertType, "telegram")
	defer span.Finish()

	_, err := a.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    a.chatID,
		Text:      message,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	a.tracer.RecordNotificationResult(span, err == nil, err)
	if err != nil {
		a.logger.Error("Failed to send telegram alert",
			"alert_type", alertType,
			"error", err)
	}
}
