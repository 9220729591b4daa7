package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/darbak/internal/models"
)

// ErrNoSession is returned when the target user has no live connection.
var ErrNoSession = errors.New("no ws session")

// wsSession is one connected participant.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(payload)
}

// WSRegistry holds live websocket sessions keyed by user id and delivers
// lifecycle updates to whichever side is connected.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*wsSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[int64]*wsSession)}
}

func (r *WSRegistry) Add(userID int64, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[userID]; ok {
		_ = prev.conn.Close()
	}
	r.sessions[userID] = &wsSession{conn: conn}
}

func (r *WSRegistry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

type wsUpdate struct {
	Type   string                `json:"type"`
	Match  *models.Match         `json:"match,omitempty"`
	Rating *models.RatingSummary `json:"rating,omitempty"`
}

func (r *WSRegistry) sendTo(userID int64, u wsUpdate) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(u)
}

func (r *WSRegistry) RequestReceived(_ context.Context, m *models.Match) error {
	return r.sendTo(m.CaptainID, wsUpdate{Type: "request_received", Match: m})
}

func (r *WSRegistry) RequestAccepted(_ context.Context, m *models.Match) error {
	return r.sendTo(m.ClientID, wsUpdate{Type: "request_accepted", Match: m})
}

func (r *WSRegistry) RequestRejected(_ context.Context, m *models.Match) error {
	return r.sendTo(m.ClientID, wsUpdate{Type: "request_rejected", Match: m})
}

func (r *WSRegistry) TripConfirmed(_ context.Context, m *models.Match) error {
	return r.sendTo(m.CaptainID, wsUpdate{Type: "trip_confirmed", Match: m})
}

func (r *WSRegistry) TripCancelled(_ context.Context, m *models.Match) error {
	return r.sendTo(m.CaptainID, wsUpdate{Type: "trip_cancelled", Match: m})
}

func (r *WSRegistry) TripCompleted(_ context.Context, m *models.Match) error {
	errClient := r.sendTo(m.ClientID, wsUpdate{Type: "trip_completed", Match: m})
	errCaptain := r.sendTo(m.CaptainID, wsUpdate{Type: "trip_completed", Match: m})
	return errors.Join(errClient, errCaptain)
}

func (r *WSRegistry) RatingReceived(_ context.Context, captainID int64, sum models.RatingSummary) error {
	return r.sendTo(captainID, wsUpdate{Type: "rating_received", Rating: &sum})
}
