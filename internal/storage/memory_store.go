package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/darbak/internal/models"
)

// AvailabilitySetter is the pair of directory operations the memory store
// needs to mirror the transactional availability writes Postgres does in one
// tx: an unconditional release and a conditional claim.
type AvailabilitySetter interface {
	SetAvailability(ctx context.Context, id int64, available bool) error
	// CompareAndSetAvailability flips the flag only when it currently holds
	// from; the first return value reports whether the swap happened.
	CompareAndSetAvailability(ctx context.Context, id int64, from, to bool) (bool, error)
}

// MemoryStore keeps matches and ratings in process. Used by tests and by
// local runs without a database.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	matches map[int64]*models.Match
	pairs   map[[2]int64]int64 // (client, captain) -> match id
	ratings map[[2]int64]*models.Rating
	users   AvailabilitySetter // may be nil
}

func NewMemoryStore(users AvailabilitySetter) *MemoryStore {
	return &MemoryStore{
		matches: make(map[int64]*models.Match),
		pairs:   make(map[[2]int64]int64),
		ratings: make(map[[2]int64]*models.Rating),
		users:   users,
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, clientID, captainID int64, destination string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	pair := [2]int64{clientID, captainID}
	if id, ok := s.pairs[pair]; ok {
		m := s.matches[id]
		if !m.Status.Terminal() {
			return 0, ErrAlreadyPending
		}
		m.Destination = destination
		m.Status = models.StatusPending
		m.CreatedAt = now
		m.UpdatedAt = now
		return id, nil
	}

	s.nextID++
	m := &models.Match{
		ID:          s.nextID,
		ClientID:    clientID,
		CaptainID:   captainID,
		Destination: destination,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.matches[m.ID] = m
	s.pairs[pair] = m.ID
	return m.ID, nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id int64) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) Transition(ctx context.Context, matchID int64, from []models.Status, to models.Status, captainAvailable *bool) (*models.Match, models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, "", ErrMatchNotFound
	}
	prior := m.Status
	if !statusIn(prior, from) {
		return nil, "", ErrStateConflict
	}

	// Availability writes happen before the status change so a failed claim
	// leaves the match untouched, like the Postgres rollback.
	if captainAvailable != nil && s.users != nil {
		if *captainAvailable {
			if err := s.users.SetAvailability(ctx, m.CaptainID, true); err != nil {
				return nil, "", fmt.Errorf("release captain %d: %w", m.CaptainID, err)
			}
		} else {
			swapped, err := s.users.CompareAndSetAvailability(ctx, m.CaptainID, true, false)
			if err != nil {
				return nil, "", fmt.Errorf("claim captain %d: %w", m.CaptainID, err)
			}
			if !swapped {
				return nil, "", ErrCaptainUnavailable
			}
		}
	}

	m.Status = to
	m.UpdatedAt = time.Now()
	cp := *m
	return &cp, prior, nil
}

func (s *MemoryStore) SaveRating(_ context.Context, r *models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.CreatedAt = time.Now()
	s.ratings[[2]int64{r.MatchID, r.ClientID}] = &cp
	return nil
}

func (s *MemoryStore) RatingSummary(_ context.Context, captainID int64) (models.RatingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum models.RatingSummary
	total := 0
	for _, r := range s.ratings {
		if r.CaptainID != captainID {
			continue
		}
		total += r.Stars
		sum.Count++
	}
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}

func (s *MemoryStore) Stats(_ context.Context, userID int64, role models.Role) (*models.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.UserStats
	for _, m := range s.matches {
		own := m.ClientID == userID
		if role == models.RoleCaptain {
			own = m.CaptainID == userID
		}
		if !own {
			continue
		}
		st.TotalRequests++
		switch m.Status {
		case models.StatusCompleted:
			st.CompletedTrips++
		case models.StatusPending:
			st.PendingTrips++
		case models.StatusInProgress:
			st.ActiveTrips++
		}
	}
	if role == models.RoleCaptain {
		st.PendingTrips = 0
		total, count := 0, 0
		for _, r := range s.ratings {
			if r.CaptainID == userID {
				total += r.Stars
				count++
			}
		}
		if count > 0 {
			st.AverageRating = float64(total) / float64(count)
		}
	} else {
		st.ActiveTrips = 0
	}
	return &st, nil
}
