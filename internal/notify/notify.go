package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/darbak/internal/models"
)

// Notifier delivers lifecycle updates to the chat transport. Delivery is
// best-effort; a failed notification never rolls back the transition that
// produced it.
type Notifier interface {
	RequestReceived(ctx context.Context, m *models.Match) error // to captain
	RequestAccepted(ctx context.Context, m *models.Match) error // to client
	RequestRejected(ctx context.Context, m *models.Match) error // to client
	TripConfirmed(ctx context.Context, m *models.Match) error   // to captain
	TripCancelled(ctx context.Context, m *models.Match) error   // to captain
	TripCompleted(ctx context.Context, m *models.Match) error   // to both parties
	RatingReceived(ctx context.Context, captainID int64, sum models.RatingSummary) error
}

// Multi fans a notification out to every notifier in order. A missing WS
// session is not an error worth surfacing; other failures are joined.
type Multi []Notifier

func (m Multi) each(fn func(Notifier) error) error {
	var errs []error
	for _, n := range m {
		if err := fn(n); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RequestReceived(ctx context.Context, match *models.Match) error {
	return m.each(func(n Notifier) error { return n.RequestReceived(ctx, match) })
}

func (m Multi) RequestAccepted(ctx context.Context, match *models.Match) error {
	return m.each(func(n Notifier) error { return n.RequestAccepted(ctx, match) })
}

func (m Multi) RequestRejected(ctx context.Context, match *models.Match) error {
	return m.each(func(n Notifier) error { return n.RequestRejected(ctx, match) })
}

func (m Multi) TripConfirmed(ctx context.Context, match *models.Match) error {
	return m.each(func(n Notifier) error { return n.TripConfirmed(ctx, match) })
}

func (m Multi) TripCancelled(ctx context.Context, match *models.Match) error {
	return m.each(func(n Notifier) error { return n.TripCancelled(ctx, match) })
}

func (m Multi) TripCompleted(ctx context.Context, match *models.Match) error {
	return m.each(func(n Notifier) error { return n.TripCompleted(ctx, match) })
}

func (m Multi) RatingReceived(ctx context.Context, captainID int64, sum models.RatingSummary) error {
	return m.each(func(n Notifier) error { return n.RatingReceived(ctx, captainID, sum) })
}

// LogNotifier writes notifications to the log. Used when no transport is
// connected, and as the fan-out tail behind the WS registry.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) log(event string, args ...any) error {
	if l.Logger != nil {
		l.Logger.Info(event, args...)
	}
	return nil
}

func (l *LogNotifier) RequestReceived(_ context.Context, m *models.Match) error {
	return l.log("notify_request_received", "match_id", m.ID, "captain_id", m.CaptainID)
}

func (l *LogNotifier) RequestAccepted(_ context.Context, m *models.Match) error {
	return l.log("notify_request_accepted", "match_id", m.ID, "client_id", m.ClientID)
}

func (l *LogNotifier) RequestRejected(_ context.Context, m *models.Match) error {
	return l.log("notify_request_rejected", "match_id", m.ID, "client_id", m.ClientID)
}

func (l *LogNotifier) TripConfirmed(_ context.Context, m *models.Match) error {
	return l.log("notify_trip_confirmed", "match_id", m.ID, "captain_id", m.CaptainID)
}

func (l *LogNotifier) TripCancelled(_ context.Context, m *models.Match) error {
	return l.log("notify_trip_cancelled", "match_id", m.ID, "captain_id", m.CaptainID)
}

func (l *LogNotifier) TripCompleted(_ context.Context, m *models.Match) error {
	return l.log("notify_trip_completed", "match_id", m.ID, "client_id", m.ClientID, "captain_id", m.CaptainID)
}

func (l *LogNotifier) RatingReceived(_ context.Context, captainID int64, sum models.RatingSummary) error {
	return l.log("notify_rating_received", "captain_id", captainID, "average", sum.Average, "count", sum.Count)
}
