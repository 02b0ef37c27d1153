// Package notify pushes run outcomes to Telegram. It is send-only: the bot
// never polls for updates, it just delivers a summary message when a run
// finishes.
package notify

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/eventbus"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// Notifier sends run-finished summaries to a Telegram chat.
type Notifier struct {
	bot    *tele.Bot
	chatID int64
	store  storage.Store
	log    logx.Logger
}

// New builds a Notifier. Returns (nil, nil) when notifications are disabled
// so callers can skip wiring without a special case.
func New(cfg config.TelegramConfig, store storage.Store, log logx.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Notifier{bot: b, chatID: cfg.ChatID, store: store, log: log}, nil
}

// Run consumes run-finished events until ctx ends. Intended to be spawned
// under the supervisor.
func (n *Notifier) Run(ctx context.Context, events eventbus.Bus) {
	ch, unsub := events.Subscribe(8)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.EventRunFinished {
				continue
			}
			n.notify(ctx, ev)
		}
	}
}

func (n *Notifier) notify(ctx context.Context, ev eventbus.Event) {
	succeeded := false
	if data, ok := ev.Data.(map[string]any); ok {
		succeeded, _ = data["succeeded"].(bool)
	}

	text := n.compose(ctx, succeeded)

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { _, err := n.bot.Send(&tele.Chat{ID: n.chatID}, text, tele.ModeMarkdown); done <- err }()
	select {
	case err := <-done:
		if err != nil {
			n.log.Warn("telegram notification failed", logx.Err(err))
			return
		}
		n.log.Debug("telegram notification sent", logx.Int64("chat_id", n.chatID))
	case <-sendCtx.Done():
		n.log.Warn("telegram notification timed out")
	}
}

// compose renders the message text. A failed run gets a short alert; a
// successful run includes the latest measurement.
func (n *Notifier) compose(ctx context.Context, succeeded bool) string {
	if !succeeded {
		return "⚠️ *Speed test failed.* Check the monitor logs."
	}

	recs, err := n.store.Load(ctx)
	if err != nil || len(recs) == 0 {
		return "✅ *Speed test complete.*"
	}
	latest := recs[0]
	for _, r := range recs {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return fmt.Sprintf(
		"✅ *Speed test complete*\nDownload: %.2f Mbps (%.1f%%)\nUpload: %.2f Mbps (%.1f%%)\nPing: %.1f ms\nServer: %s",
		latest.DownloadMbps, latest.DownloadPercent,
		latest.UploadMbps, latest.UploadPercent,
		latest.PingMs, latest.ServerLocation,
	)
}
