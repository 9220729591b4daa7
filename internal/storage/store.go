package storage

import (
	"context"
	"errors"

	"github.com/example/darbak/internal/models"
)

var (
	// ErrAlreadyPending means a non-terminal match already exists for the
	// (client, captain) pair. Expected condition, not a fault.
	ErrAlreadyPending = errors.New("match already pending for pair")

	// ErrStateConflict means the match was not in a state that permits the
	// requested transition. The existing row is left untouched.
	ErrStateConflict = errors.New("match not in required state")

	// ErrCaptainUnavailable means a transition tried to claim a captain whose
	// available flag was already false. Nothing is written.
	ErrCaptainUnavailable = errors.New("captain not available")

	ErrMatchNotFound = errors.New("match not found")
)

// MatchStore defines persistence for matches and ratings. A Transition that
// carries an availability flip must apply both writes as a single atomic unit.
type MatchStore interface {
	// CreateRequest creates a pending match for the pair, reusing the
	// existing row when its prior outcome was terminal. Returns
	// ErrAlreadyPending when a live match exists.
	CreateRequest(ctx context.Context, clientID, captainID int64, destination string) (int64, error)

	GetMatch(ctx context.Context, id int64) (*models.Match, error)

	// Transition moves the match to the given status if its current status is
	// one of from, otherwise returns ErrStateConflict. When captainAvailable
	// is non-nil the captain's available flag is written in the same
	// transaction; clearing it is a conditional claim that fails with
	// ErrCaptainUnavailable when the flag is already false, so two clients
	// confirming against one captain cannot both win. The second return value
	// is the match's status before the transition. Concurrent transitions on
	// one match are serialized.
	Transition(ctx context.Context, matchID int64, from []models.Status, to models.Status, captainAvailable *bool) (*models.Match, models.Status, error)

	// SaveRating inserts or overwrites the rating for (match, client).
	SaveRating(ctx context.Context, r *models.Rating) error

	RatingSummary(ctx context.Context, captainID int64) (models.RatingSummary, error)

	Stats(ctx context.Context, userID int64, role models.Role) (*models.UserStats, error)
}

func statusIn(s models.Status, set []models.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
