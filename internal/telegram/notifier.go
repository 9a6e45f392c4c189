package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"exam-trainer-service/internal/domain"
)

// Sender is the outbound half of the Bot API used by the notifier.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Notifier formats quiz summaries and pushes them to the configured chat.
// Delivery is best-effort: failures are logged and never reach the quiz flow.
type Notifier struct {
	sender Sender
	chatID int64
	log    *slog.Logger
}

func NewNotifier(sender Sender, chatID int64, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{sender: sender, chatID: chatID, log: log}
}

func (n *Notifier) SessionFinished(ctx context.Context, summary domain.SessionSummary) {
	if err := n.sender.SendMessage(ctx, n.chatID, formatSessionResults(summary)); err != nil {
		n.log.Error("session summary not delivered", "session", summary.Session.ID, "err", err)
	}
}

func (n *Notifier) OverallStats(ctx context.Context, stats domain.OverallStats) {
	if err := n.sender.SendMessage(ctx, n.chatID, formatOverallStats(stats)); err != nil {
		n.log.Error("overall stats not delivered", "err", err)
	}
}

func formatSessionResults(summary domain.SessionSummary) string {
	session := summary.Session
	modeLabel := "Training"
	if session.Mode == domain.ModeTest {
		modeLabel = "Test"
	}

	var b strings.Builder
	b.WriteString("🎯 <b>Session finished</b>\n\n")
	fmt.Fprintf(&b, "👤 User: <code>%s...</code>\n", shortUUID(session.UserUUID))
	fmt.Fprintf(&b, "📋 Mode: %s\n", modeLabel)
	b.WriteString("📊 Results:\n")
	fmt.Fprintf(&b, "  ✅ Correct: %d\n", session.Correct)
	fmt.Fprintf(&b, "  ❌ Wrong: %d\n", session.Wrong)
	fmt.Fprintf(&b, "  📈 Score: %.1f%%\n", session.Percentage)
	fmt.Fprintf(&b, "  📝 Questions answered: %d\n", session.Correct+session.Wrong)

	if len(summary.TopWrong) > 0 {
		b.WriteString("\n❗️ <b>Missed questions:</b>\n")
		for i, id := range summary.TopWrong {
			fmt.Fprintf(&b, "  %d. Question #%d\n", i+1, id)
		}
	}

	if session.EndTime != nil {
		minutes := int(session.EndTime.Sub(session.StartTime).Round(time.Minute) / time.Minute)
		fmt.Fprintf(&b, "\n⏱ Duration: %d min\n", minutes)
		fmt.Fprintf(&b, "🕐 Finished: %s", session.EndTime.Format("02.01.2006 15:04"))
	}
	return b.String()
}

func formatOverallStats(stats domain.OverallStats) string {
	var b strings.Builder
	b.WriteString("📊 <b>Overall statistics</b>\n\n")
	fmt.Fprintf(&b, "👥 Users: %d\n", stats.TotalUsers)
	fmt.Fprintf(&b, "🎯 Sessions: %d\n", stats.TotalSessions)
	fmt.Fprintf(&b, "📈 Average score: %.1f%%\n", stats.AveragePercentage)

	if len(stats.TopDifficult) > 0 {
		b.WriteString("\n❗️ <b>Hardest questions:</b>\n")
		for i, q := range stats.TopDifficult {
			fmt.Fprintf(&b, "  %d. Question #%d (%.1f%% wrong, shown %d times)\n",
				i+1, q.QuestionID, q.ErrorRate, q.TotalShown)
		}
	}
	return b.String()
}

func formatDifficultQuestions(stats []domain.QuestionStat, minShown int) string {
	if len(stats) == 0 {
		return "📊 <b>Hardest questions</b>\n\nNot enough data yet."
	}

	var b strings.Builder
	b.WriteString("❗️ <b>Hardest questions:</b>\n\n")
	for i, q := range stats {
		fmt.Fprintf(&b, "%d. <b>Question #%d</b>\n", i+1, q.QuestionID)
		fmt.Fprintf(&b, "   📊 Wrong: <b>%.1f%%</b> (shown %d times)\n\n", q.ErrorRate, q.TotalShown)
	}
	fmt.Fprintf(&b, "💡 <i>Counted after %d exposures</i>", minShown)
	return b.String()
}

func shortUUID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
