package infra

import (
	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/domain"
)

// LogNotifier records user notifications in the agent log. Front-ends that
// can show something on screen are chained with MultiNotifier.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(zap.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(level domain.NoticeLevel, title, message string) {
	fields := []zap.Field{zap.String("title", title), zap.String("message", message)}
	switch level {
	case domain.NoticeCritical:
		n.logger.Error("user notification", fields...)
	case domain.NoticeWarning:
		n.logger.Warn("user notification", fields...)
	default:
		n.logger.Info("user notification", fields...)
	}
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []domain.Notifier

func (m MultiNotifier) Notify(level domain.NoticeLevel, title, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(level, title, message)
		}
	}
}

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = MultiNotifier(nil)
)
