package sink

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-relay/internal/model"
	"github.com/sells-group/lead-relay/pkg/telegram"
)

// Chat posts an enrollment notice to a Telegram chat.
type Chat struct {
	client telegram.Client
	chatID string
}

// NewChat returns a chat sink posting to chatID.
func NewChat(client telegram.Client, chatID string) *Chat {
	return &Chat{client: client, chatID: chatID}
}

// Name implements Sink.
func (c *Chat) Name() string { return "chat" }

// Send implements Sink. Delivery is attempted once.
func (c *Chat) Send(ctx context.Context, rec *model.Record) error {
	sent, err := c.client.SendMessage(ctx, telegram.Message{
		ChatID:    c.chatID,
		Text:      FormatMessage(rec),
		ParseMode: telegram.ParseModeHTML,
	})
	if err != nil {
		return eris.Wrap(err, "sink: send chat message")
	}
	zap.L().Debug("sink: chat message sent",
		zap.Int64("lead_id", rec.ID),
		zap.Int64("message_id", sent.MessageID),
	)
	return nil
}

// FormatMessage renders the HTML enrollment notice for rec. Every
// interpolated value is escaped.
func FormatMessage(rec *model.Record) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s: <b>%s</b>\n", label, html.EscapeString(value))
	}

	b.WriteString("<u>Please welcome a new learner</u> 😊\n")
	line("Payment date", rec.Payment.Date)
	b.WriteString("\n")
	line("🤓 Learner", rec.Learner.FullName())
	line("✔️ Grade and department", strings.TrimSpace(rec.Learner.Grade+" "+rec.Learner.Department))
	line("⏰ Time", rec.LearningTime)
	line("👩‍👦 Parent", rec.Parent.Name)
	line("📞 Phone", rec.Parent.Phone)
	line("🏠 Branch", rec.Branch)
	b.WriteString("\n")
	line("🔷 Duration", durationText(rec.LearningDurationMonths))
	b.WriteString("\n")
	line("🟢 Start date", rec.StartDate)
	line("🔴 End date", rec.EndDate)
	b.WriteString("\n")
	line("🎯 Learning goal", rec.Learner.LearningDirection)
	line("📚 Subjects", rec.Learner.Subjects)
	line("ℹ️ New or renewal", rec.Status)
	line("📨 Manager comment", rec.Manager.Comment)
	b.WriteString("\n")
	line("😎 Manager", rec.Manager.Name)

	return strings.TrimRight(b.String(), "\n")
}

func durationText(months string) string {
	if months == "" {
		return ""
	}
	return months + " mo."
}
