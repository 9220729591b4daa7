// Package lifecycle owns the match state machine:
//
//	pending -> captain_accepted -> in_progress -> completed
//	pending -> rejected
//	pending | captain_accepted | in_progress -> cancelled
//
// completed, rejected and cancelled are terminal. Captain availability is
// cleared when the client confirms and restored on completion or
// cancellation; a rejection never touches it because it was never cleared.
// Every status change that carries an availability flip is one atomic store
// transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/darbak/internal/directory"
	"github.com/example/darbak/internal/models"
	"github.com/example/darbak/internal/notify"
	"github.com/example/darbak/internal/observability"
	"github.com/example/darbak/internal/storage"
)

var (
	ErrInvalidStars = errors.New("stars must be between 1 and 5")
	ErrWrongRole    = errors.New("user has the wrong role for this operation")

	// ErrCaptainUnavailable is the store's claim failure, re-exported so
	// callers see one sentinel whether the captain was busy at request time
	// or lost to a concurrent confirm.
	ErrCaptainUnavailable = storage.ErrCaptainUnavailable
)

// EventSink publishes lifecycle events to the stream. Satisfied by
// ingest.Producer.
type EventSink interface {
	Publish(ctx context.Context, ev models.Event) error
}

type Engine struct {
	Store    storage.MatchStore
	Dir      directory.Directory
	Notifier notify.Notifier
	Events   EventSink // optional
	Logger   *slog.Logger
}

// CreateRequest creates a pending match from client to captain. It is the
// concurrency guard against duplicate simultaneous requests: a live match for
// the pair yields storage.ErrAlreadyPending and no new row.
func (e *Engine) CreateRequest(ctx context.Context, clientID, captainID int64, destination string) (int64, error) {
	client, err := e.Dir.Get(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("lookup client: %w", err)
	}
	if client.Role != models.RoleClient {
		return 0, ErrWrongRole
	}
	captain, err := e.Dir.Get(ctx, captainID)
	if err != nil {
		return 0, fmt.Errorf("lookup captain: %w", err)
	}
	if captain.Role != models.RoleCaptain {
		return 0, ErrWrongRole
	}
	if !captain.Available {
		return 0, ErrCaptainUnavailable
	}

	id, err := e.Store.CreateRequest(ctx, clientID, captainID, destination)
	if errors.Is(err, storage.ErrAlreadyPending) {
		observability.RequestsDuplicate.Inc()
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	observability.RequestsCreated.Inc()

	m := &models.Match{ID: id, ClientID: clientID, CaptainID: captainID, Destination: destination, Status: models.StatusPending}
	e.notify("request_received", func() error { return e.Notifier.RequestReceived(ctx, m) })
	e.publish(ctx, models.Event{Type: models.EventRequestCreated, MatchID: id, ClientID: clientID, CaptainID: captainID, Destination: destination})
	return id, nil
}

// CaptainRespond applies the captain's accept or reject to a pending match.
// Availability stays untouched either way: it is only cleared once the client
// confirms.
func (e *Engine) CaptainRespond(ctx context.Context, matchID int64, accept bool) (*models.Match, error) {
	to := models.StatusRejected
	if accept {
		to = models.StatusCaptainAccepted
	}
	m, _, err := e.transition(ctx, matchID, []models.Status{models.StatusPending}, to, nil)
	if err != nil {
		return nil, err
	}
	if accept {
		e.notify("request_accepted", func() error { return e.Notifier.RequestAccepted(ctx, m) })
	} else {
		e.notify("request_rejected", func() error { return e.Notifier.RequestRejected(ctx, m) })
	}
	e.publish(ctx, models.Event{Type: models.EventCaptainResponded, MatchID: m.ID, ClientID: m.ClientID, CaptainID: m.CaptainID, Accept: accept})
	return m, nil
}

// ClientConfirm moves an accepted match into in_progress and books the
// captain, both in one transaction. When the captain is already booked by a
// concurrent confirm the claim fails with ErrCaptainUnavailable and the match
// stays captain_accepted.
func (e *Engine) ClientConfirm(ctx context.Context, matchID int64) (*models.Match, error) {
	m, _, err := e.transition(ctx, matchID, []models.Status{models.StatusCaptainAccepted}, models.StatusInProgress, ptr(false))
	if err != nil {
		return nil, err
	}
	observability.CaptainsAvailable.Dec()
	e.notify("trip_confirmed", func() error { return e.Notifier.TripConfirmed(ctx, m) })
	e.publish(ctx, models.Event{Type: models.EventClientConfirmed, MatchID: m.ID, ClientID: m.ClientID, CaptainID: m.CaptainID})
	return m, nil
}

// ClientCancel cancels any non-terminal match and deterministically restores
// captain availability, whether or not it had been cleared.
func (e *Engine) ClientCancel(ctx context.Context, matchID int64) (*models.Match, error) {
	from := []models.Status{models.StatusPending, models.StatusCaptainAccepted, models.StatusInProgress}
	m, prior, err := e.transition(ctx, matchID, from, models.StatusCancelled, ptr(true))
	if err != nil {
		return nil, err
	}
	if prior == models.StatusInProgress {
		observability.CaptainsAvailable.Inc()
	}
	e.notify("trip_cancelled", func() error { return e.Notifier.TripCancelled(ctx, m) })
	e.publish(ctx, models.Event{Type: models.EventClientCancelled, MatchID: m.ID, ClientID: m.ClientID, CaptainID: m.CaptainID})
	return m, nil
}

// CompleteTrip finishes an in_progress trip. This is the point at which the
// captain becomes bookable again.
func (e *Engine) CompleteTrip(ctx context.Context, matchID int64) (*models.Match, error) {
	m, _, err := e.transition(ctx, matchID, []models.Status{models.StatusInProgress}, models.StatusCompleted, ptr(true))
	if err != nil {
		return nil, err
	}
	observability.CaptainsAvailable.Inc()
	e.notify("trip_completed", func() error { return e.Notifier.TripCompleted(ctx, m) })
	e.publish(ctx, models.Event{Type: models.EventTripCompleted, MatchID: m.ID, ClientID: m.ClientID, CaptainID: m.CaptainID})
	return m, nil
}

// Rate records the client's feedback for a completed match. A resubmission
// overwrites the prior rating for the same (match, client) pair.
func (e *Engine) Rate(ctx context.Context, matchID int64, stars int, comment, note string) (models.RatingSummary, error) {
	if stars < 1 || stars > 5 {
		return models.RatingSummary{}, ErrInvalidStars
	}
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return models.RatingSummary{}, err
	}
	if m.Status != models.StatusCompleted {
		return models.RatingSummary{}, storage.ErrStateConflict
	}
	r := &models.Rating{
		MatchID:   m.ID,
		ClientID:  m.ClientID,
		CaptainID: m.CaptainID,
		Stars:     stars,
		Comment:   comment,
		Note:      note,
	}
	if err := e.Store.SaveRating(ctx, r); err != nil {
		return models.RatingSummary{}, err
	}
	observability.RatingsTotal.Inc()

	sum, err := e.Store.RatingSummary(ctx, m.CaptainID)
	if err != nil {
		return models.RatingSummary{}, err
	}
	e.notify("rating_received", func() error { return e.Notifier.RatingReceived(ctx, m.CaptainID, sum) })
	e.publish(ctx, models.Event{Type: models.EventRatingSubmitted, MatchID: m.ID, ClientID: m.ClientID, CaptainID: m.CaptainID, Stars: stars, Comment: comment, Note: note})
	return sum, nil
}

// FindCaptains looks up available captains for the client's area and attaches
// each captain's rating summary.
func (e *Engine) FindCaptains(ctx context.Context, city, neighborhood string) ([]models.CaptainListing, error) {
	captains, err := e.Dir.FindAvailableCaptains(ctx, city, neighborhood)
	if err != nil {
		return nil, err
	}
	out := make([]models.CaptainListing, 0, len(captains))
	for _, c := range captains {
		sum, err := e.Store.RatingSummary(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.CaptainListing{User: c, Rating: sum})
	}
	return out, nil
}

func (e *Engine) transition(ctx context.Context, matchID int64, from []models.Status, to models.Status, captainAvailable *bool) (*models.Match, models.Status, error) {
	m, prior, err := e.Store.Transition(ctx, matchID, from, to, captainAvailable)
	if errors.Is(err, storage.ErrStateConflict) {
		observability.StateConflicts.Inc()
		return nil, "", err
	}
	if err != nil {
		return nil, "", err
	}
	observability.TransitionsTotal.WithLabelValues(string(to)).Inc()
	return m, prior, nil
}

func (e *Engine) notify(event string, fn func() error) {
	if e.Notifier == nil {
		return
	}
	if err := fn(); err != nil {
		e.logger().Warn("notification failed", "event", event, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, ev models.Event) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.logger().Warn("event publish failed", "type", ev.Type, "match_id", ev.MatchID, "error", err)
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func ptr(b bool) *bool { return &b }
