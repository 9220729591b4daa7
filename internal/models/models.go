package models

import "time"

// Role of a participant. Captains drive, clients request rides.
type Role string

const (
	RoleClient  Role = "client"
	RoleCaptain Role = "captain"
)

// Subscription tier chosen during registration.
type Subscription string

const (
	SubscriptionDaily   Subscription = "daily"
	SubscriptionMonthly Subscription = "monthly"
)

// Status of a match. completed, rejected and cancelled are terminal.
type Status string

const (
	StatusPending         Status = "pending"
	StatusCaptainAccepted Status = "captain_accepted"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCaptainAccepted, StatusInProgress,
		StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// User is a registered participant, keyed by the chat platform's numeric id.
// Captains additionally carry vehicle details, up to three service
// neighborhoods and the available flag.
type User struct {
	ID           int64        `json:"id"`
	Username     string       `json:"username,omitempty"`
	Role         Role         `json:"role"`
	Subscription Subscription `json:"subscription,omitempty"`
	FullName     string       `json:"full_name"`
	Phone        string       `json:"phone"`
	CarModel     string       `json:"car_model,omitempty"`
	CarPlate     string       `json:"car_plate,omitempty"`
	Seats        int          `json:"seats,omitempty"`
	Agreement    bool         `json:"agreement"`
	City         string       `json:"city"`
	// Neighborhoods holds the home neighborhood for clients and up to
	// three service neighborhoods for captains.
	Neighborhoods []string  `json:"neighborhoods"`
	Available     bool      `json:"available"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ServesNeighborhood reports whether any of the user's registered
// neighborhoods matches n.
func (u *User) ServesNeighborhood(n string) bool {
	for _, own := range u.Neighborhoods {
		if own == n {
			return true
		}
	}
	return false
}

// Match is one client's ride request directed at one specific captain.
// At most one non-terminal match exists per (client, captain) pair.
type Match struct {
	ID          int64     `json:"id"`
	ClientID    int64     `json:"client_id"`
	CaptainID   int64     `json:"captain_id"`
	Destination string    `json:"destination,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Rating is one client's feedback for one completed match. A resubmission
// overwrites the previous record for the same (match, client) pair.
type Rating struct {
	MatchID   int64     `json:"match_id"`
	ClientID  int64     `json:"client_id"`
	CaptainID int64     `json:"captain_id"`
	Stars     int       `json:"stars"` // 1..5
	Comment   string    `json:"comment,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RatingSummary is a captain's running average and count, surfaced when
// clients choose among captains.
type RatingSummary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// CaptainListing is one search result: a captain plus their rating summary.
type CaptainListing struct {
	User   User          `json:"user"`
	Rating RatingSummary `json:"rating"`
}

// UserStats are the per-role counters shown on the stats screen.
type UserStats struct {
	TotalRequests  int     `json:"total_requests"`
	CompletedTrips int     `json:"completed_trips"`
	PendingTrips   int     `json:"pending_trips,omitempty"` // clients only
	ActiveTrips    int     `json:"active_trips,omitempty"`  // captains only
	AverageRating  float64 `json:"average_rating,omitempty"`
}

// EventType identifies a lifecycle event on the wire.
type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventCaptainResponded EventType = "captain_responded"
	EventClientConfirmed  EventType = "client_confirmed"
	EventClientCancelled  EventType = "client_cancelled"
	EventTripCompleted    EventType = "trip_completed"
	EventRatingSubmitted  EventType = "rating_submitted"
)

// Event is one inbound command or outbound update on the lifecycle stream.
// Only the fields relevant to the event type are populated.
type Event struct {
	Type        EventType `json:"type"`
	MatchID     int64     `json:"match_id,omitempty"`
	ClientID    int64     `json:"client_id,omitempty"`
	CaptainID   int64     `json:"captain_id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Accept      bool      `json:"accept,omitempty"`
	Stars       int       `json:"stars,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Note        string    `json:"note,omitempty"`
	At          time.Time `json:"at"`
}
