package session

import (
	"context"
	"errors"
	"time"

	"github.com/example/darbak/internal/models"
)

// ErrNoSession is returned when the user has no dialogue in flight.
var ErrNoSession = errors.New("no active session")

// Mode tags which multi-step dialogue the session belongs to. Carrying it
// explicitly avoids inferring the flow from which fields happen to be set.
type Mode string

const (
	ModeRegistration Mode = "registration"
	ModeEditProfile  Mode = "edit_profile"
	ModeRideRequest  Mode = "ride_request"
	ModeRating       Mode = "rating"
)

// Step is the dialogue's current position within its mode.
type Step string

const (
	StepRole          Step = "role"
	StepSubscription  Step = "subscription"
	StepFullName      Step = "full_name"
	StepPhone         Step = "phone"
	StepCarModel      Step = "car_model"
	StepCarPlate      Step = "car_plate"
	StepSeats         Step = "seats"
	StepAgreement     Step = "agreement"
	StepCity          Step = "city"
	StepNeighborhood  Step = "neighborhood"
	StepNeighborhood2 Step = "neighborhood2"
	StepNeighborhood3 Step = "neighborhood3"
	StepDestination   Step = "destination"
	StepStars         Step = "stars"
	StepComment       Step = "comment"
	StepNote          Step = "note"
	StepDone          Step = "done"
)

// Session is the per-user context for one multi-step dialogue. It is created
// when the dialogue starts and deleted on completion, cancel or TTL expiry.
type Session struct {
	UserID int64 `json:"user_id"`
	Mode   Mode  `json:"mode"`
	Step   Step  `json:"step"`

	// Collected form fields.
	Role          models.Role         `json:"role,omitempty"`
	Subscription  models.Subscription `json:"subscription,omitempty"`
	FullName      string              `json:"full_name,omitempty"`
	Phone         string              `json:"phone,omitempty"`
	CarModel      string              `json:"car_model,omitempty"`
	CarPlate      string              `json:"car_plate,omitempty"`
	Seats         int                 `json:"seats,omitempty"`
	Agreement     bool                `json:"agreement,omitempty"`
	City          string              `json:"city,omitempty"`
	Neighborhoods []string            `json:"neighborhoods,omitempty"`

	// Ride request / rating context.
	MatchID     int64  `json:"match_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Stars       int    `json:"stars,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Note        string `json:"note,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User assembles the complete profile collected during registration.
func (s *Session) User() *models.User {
	return &models.User{
		ID:            s.UserID,
		Role:          s.Role,
		Subscription:  s.Subscription,
		FullName:      s.FullName,
		Phone:         s.Phone,
		CarModel:      s.CarModel,
		CarPlate:      s.CarPlate,
		Seats:         s.Seats,
		Agreement:     s.Agreement,
		City:          s.City,
		Neighborhoods: append([]string(nil), s.Neighborhoods...),
	}
}

// Store holds in-flight sessions keyed by user id.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
}
