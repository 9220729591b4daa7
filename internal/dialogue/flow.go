// Package dialogue advances multi-step form sessions. It owns step order and
// input validation; rendering prompts and keyboards is the chat transport's
// problem.
package dialogue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/darbak/internal/catalog"
	"github.com/example/darbak/internal/models"
	"github.com/example/darbak/internal/session"
)

// ErrInvalidInput marks a validation failure. The session stays on its
// current step so the user can retry.
var ErrInvalidInput = errors.New("invalid input")

type Flow struct {
	Catalog *catalog.Catalog
}

// Begin opens a fresh session for the given dialogue mode.
func (f *Flow) Begin(userID int64, mode session.Mode) (*session.Session, error) {
	s := &session.Session{UserID: userID, Mode: mode, StartedAt: time.Now()}
	switch mode {
	case session.ModeRegistration:
		s.Step = session.StepRole
	case session.ModeEditProfile:
		s.Step = session.StepCity
	case session.ModeRideRequest:
		s.Step = session.StepDestination
	case session.ModeRating:
		s.Step = session.StepStars
	default:
		return nil, fmt.Errorf("unknown dialogue mode %q", mode)
	}
	return s, nil
}

// Advance consumes one user input, validates it for the current step and
// moves the session forward. On validation failure the session is unchanged.
func (f *Flow) Advance(s *session.Session, input string) error {
	input = strings.TrimSpace(input)
	switch s.Step {
	case session.StepRole:
		switch models.Role(input) {
		case models.RoleClient, models.RoleCaptain:
			s.Role = models.Role(input)
		default:
			return fmt.Errorf("role must be client or captain: %w", ErrInvalidInput)
		}
		s.Step = session.StepSubscription

	case session.StepSubscription:
		switch models.Subscription(input) {
		case models.SubscriptionDaily, models.SubscriptionMonthly:
			s.Subscription = models.Subscription(input)
		default:
			return fmt.Errorf("subscription must be daily or monthly: %w", ErrInvalidInput)
		}
		s.Step = session.StepFullName

	case session.StepFullName:
		if !ValidFullName(input) {
			return fmt.Errorf("full name needs at least three parts: %w", ErrInvalidInput)
		}
		s.FullName = input
		s.Step = session.StepPhone

	case session.StepPhone:
		if !ValidPhone(input) {
			return fmt.Errorf("phone must match 05XXXXXXXX: %w", ErrInvalidInput)
		}
		s.Phone = input
		if s.Role == models.RoleCaptain {
			s.Step = session.StepCarModel
		} else {
			s.Step = session.StepAgreement
		}

	case session.StepCarModel:
		if input == "" {
			return fmt.Errorf("car model required: %w", ErrInvalidInput)
		}
		s.CarModel = input
		s.Step = session.StepCarPlate

	case session.StepCarPlate:
		if input == "" {
			return fmt.Errorf("car plate required: %w", ErrInvalidInput)
		}
		s.CarPlate = input
		s.Step = session.StepSeats

	case session.StepSeats:
		n, err := strconv.Atoi(input)
		if err != nil || !ValidSeats(n) {
			return fmt.Errorf("seats must be a number between %d and %d: %w", MinSeats, MaxSeats, ErrInvalidInput)
		}
		s.Seats = n
		s.Step = session.StepAgreement

	case session.StepAgreement:
		if input != "agree" {
			return fmt.Errorf("agreement required to continue: %w", ErrInvalidInput)
		}
		s.Agreement = true
		s.Step = session.StepCity

	case session.StepCity:
		if !f.Catalog.ValidCity(input) {
			return fmt.Errorf("unsupported city %q: %w", input, ErrInvalidInput)
		}
		s.City = input
		s.Neighborhoods = nil
		s.Step = session.StepNeighborhood

	case session.StepNeighborhood, session.StepNeighborhood2, session.StepNeighborhood3:
		if err := f.pickNeighborhood(s, input); err != nil {
			return err
		}

	case session.StepDestination:
		if input == "" {
			return fmt.Errorf("destination required: %w", ErrInvalidInput)
		}
		s.Destination = input
		s.Step = session.StepDone

	case session.StepStars:
		n, err := strconv.Atoi(input)
		if err != nil || !ValidStars(n) {
			return fmt.Errorf("stars must be a number between 1 and 5: %w", ErrInvalidInput)
		}
		s.Stars = n
		s.Step = session.StepComment

	case session.StepComment:
		s.Comment = input
		s.Step = session.StepNote

	case session.StepNote:
		s.Note = input
		s.Step = session.StepDone

	case session.StepDone:
		return fmt.Errorf("dialogue already finished: %w", ErrInvalidInput)

	default:
		return fmt.Errorf("unknown step %q", s.Step)
	}
	return nil
}

// pickNeighborhood appends one neighborhood choice. Clients pick one,
// captains pick three distinct ones.
func (f *Flow) pickNeighborhood(s *session.Session, input string) error {
	if !f.Catalog.ValidNeighborhood(s.City, input) {
		return fmt.Errorf("no neighborhood %q in %s: %w", input, s.City, ErrInvalidInput)
	}
	for _, picked := range s.Neighborhoods {
		if picked == input {
			return fmt.Errorf("neighborhood %q already picked: %w", input, ErrInvalidInput)
		}
	}
	s.Neighborhoods = append(s.Neighborhoods, input)

	if s.Role != models.RoleCaptain || len(s.Neighborhoods) == 3 {
		s.Step = session.StepDone
		return nil
	}
	switch len(s.Neighborhoods) {
	case 1:
		s.Step = session.StepNeighborhood2
	case 2:
		s.Step = session.StepNeighborhood3
	}
	return nil
}
