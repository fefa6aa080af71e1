// Package notify sends reservation notifications to users.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Gateway delivers a reservation notification to the sharer of a listing
type Gateway interface {
	SendReservationNotification(ctx context.Context, toEmail, fromName, listingTitle string, start, end time.Time) error
}

// LogNotifier writes notifications to a structured logger instead of a mail provider
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendReservationNotification(ctx context.Context, toEmail, fromName, listingTitle string, start, end time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "reservation notification",
		"to", toEmail,
		"from", fromName,
		"listing", listingTitle,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
	)
	return nil
}
