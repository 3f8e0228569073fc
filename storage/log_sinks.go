package storage

import (
	"context"
	"fmt"

	"rent591-notifier/models"
	"rent591-notifier/utils"
)

// LogNotifier writes matched pairs to the log. It is the hand-off point where
// a chat-bot or push integration would plug in; the pipeline only sees the
// Notifier interface.
type LogNotifier struct {
	logger *utils.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *utils.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Dispatch logs one matched (listing, subscription) pair.
func (n *LogNotifier) Dispatch(_ context.Context, l *models.Listing, sub *models.Subscription) error {
	price := "面議"
	if l.Price != nil {
		price = fmt.Sprintf("%d元/月", *l.Price)
	}
	n.logger.Info("[notify] subscription %d (user %d): %s — %s %s", sub.ID, sub.UserID, l.Title, price, l.URL)
	return nil
}

// LogAlertSink writes operator alerts to the error log.
type LogAlertSink struct {
	logger *utils.Logger
}

// NewLogAlertSink creates a LogAlertSink.
func NewLogAlertSink(logger *utils.Logger) *LogAlertSink {
	return &LogAlertSink{logger: logger}
}

// Alert logs an operator alert.
func (a *LogAlertSink) Alert(_ context.Context, message string) {
	a.logger.Error("[alert] %s", message)
}
