package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"exam-trainer-service/internal/domain"
)

const (
	longPollTimeout = 25 // seconds, passed to getUpdates
	maxBackoff      = 30 * time.Second
)

// BotAPI is the slice of the Telegram client the poller needs.
type BotAPI interface {
	Sender
	GetUpdates(ctx context.Context, offset, timeoutSec int) ([]Update, error)
}

// StatsSource answers the /difficult command.
type StatsSource interface {
	TopDifficult(ctx context.Context, limit, minShown int) ([]domain.QuestionStat, error)
}

// Poller runs the inbound command loop as an independent background task.
// Commands are only honored from the single authorized chat; transient API
// failures back off and retry on the next cycle.
type Poller struct {
	client   BotAPI
	stats    StatsSource
	chatID   int64
	minShown int
	interval time.Duration
	log      *slog.Logger
	offset   int
}

func NewPoller(client BotAPI, stats StatsSource, chatID int64, minShown int, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if minShown <= 0 {
		minShown = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		client:   client,
		stats:    stats,
		chatID:   chatID,
		minShown: minShown,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("telegram command loop started", "chat", p.chatID)
	backoff := p.interval
	for {
		updates, err := p.client.GetUpdates(ctx, p.offset, longPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("getUpdates failed", "err", err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = p.interval

		for _, update := range updates {
			p.offset = update.UpdateID + 1
			if update.Message != nil && update.Message.Text != "" {
				p.handleCommand(ctx, *update.Message)
			}
		}

		if !sleep(ctx, p.interval) {
			return
		}
	}
}

func (p *Poller) handleCommand(ctx context.Context, msg Message) {
	if msg.Chat.ID != p.chatID {
		p.log.Warn("command from unauthorized chat ignored", "chat", msg.Chat.ID)
		return
	}

	command := strings.TrimSpace(msg.Text)
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	switch {
	case command == "/difficult":
		p.replyDifficult(ctx)
	case strings.HasPrefix(command, "/"):
		p.send(ctx, fmt.Sprintf("❓ Unknown command: %s\n\nAvailable commands:\n/difficult - hardest questions", command))
	}
}

func (p *Poller) replyDifficult(ctx context.Context) {
	stats, err := p.stats.TopDifficult(ctx, 10, p.minShown)
	if err != nil {
		p.log.Error("difficult questions lookup failed", "err", err)
		p.send(ctx, "❌ Could not load statistics")
		return
	}
	p.send(ctx, formatDifficultQuestions(stats, p.minShown))
}

func (p *Poller) send(ctx context.Context, text string) {
	if err := p.client.SendMessage(ctx, p.chatID, text); err != nil {
		p.log.Error("reply not delivered", "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
