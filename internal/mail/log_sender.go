package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// LogSender accepts every well-formed message and only logs it. Used when no
// SMTP relay is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs the sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) bool {
	if len(msg.To) == 0 || strings.TrimSpace(msg.From.Email) == "" {
		return false
	}
	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, to.Email)
	}
	s.logger.Info("mail send stub",
		zap.String("from", msg.From.Email),
		zap.Strings("to", recipients),
		zap.String("subject", msg.Subject))
	return true
}
