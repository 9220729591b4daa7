package directory

import (
	"context"
	"errors"

	"github.com/example/darbak/internal/models"
)

// ErrNotFound is returned when no user exists for the given id.
var ErrNotFound = errors.New("user not found")

// Directory is durable profile storage and availability bookkeeping.
// Registration writes always supply a complete profile; single-field edits go
// through the typed setters below, never through caller-supplied column names.
type Directory interface {
	// Upsert inserts or fully overwrites a user's profile keyed by id.
	// Captain registration resets available to true.
	Upsert(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id int64) (*models.User, error)

	// SetAvailability is the direct toggle, used by explicit user action and
	// by the lifecycle engine as a side effect of match transitions.
	SetAvailability(ctx context.Context, id int64, available bool) error

	SetName(ctx context.Context, id int64, name string) error
	SetPhone(ctx context.Context, id int64, phone string) error
	SetCar(ctx context.Context, id int64, model, plate string) error
	SetCity(ctx context.Context, id int64, city string) error
	SetNeighborhoods(ctx context.Context, id int64, neighborhoods []string) error
	SetRole(ctx context.Context, id int64, role models.Role) error

	// FindAvailableCaptains returns captains with available=true in the given
	// city serving the given neighborhood, ordered by registration time
	// ascending (first registered surface first).
	FindAvailableCaptains(ctx context.Context, city, neighborhood string) ([]models.User, error)
}
