package session

import (
	"context"
	"errors"
	"testing"

	"github.com/example/darbak/internal/models"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.Get(ctx, 1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("empty store: got %v, want ErrNoSession", err)
	}

	s := &Session{UserID: 1, Mode: ModeRegistration, Step: StepRole}
	if err := st.Put(ctx, s); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := st.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Mode != ModeRegistration || got.Step != StepRole {
		t.Fatalf("got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("put must stamp UpdatedAt")
	}

	// returned session is a copy
	got.Step = StepDone
	got.Neighborhoods = append(got.Neighborhoods, "x")
	again, _ := st.Get(ctx, 1)
	if again.Step != StepRole || len(again.Neighborhoods) != 0 {
		t.Fatalf("stored session mutated: %+v", again)
	}

	if err := st.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.Get(ctx, 1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("after delete: got %v, want ErrNoSession", err)
	}
}

func TestSession_UserBuilder(t *testing.T) {
	s := &Session{
		UserID:        5,
		Mode:          ModeRegistration,
		Step:          StepDone,
		Role:          models.RoleCaptain,
		Subscription:  models.SubscriptionMonthly,
		FullName:      "خالد سعود المطيري",
		Phone:         "0534567890",
		CarModel:      "Elantra",
		CarPlate:      "ر ق م 4321",
		Seats:         4,
		Agreement:     true,
		City:          "الرياض",
		Neighborhoods: []string{"النزهة", "الملز", "العليا"},
	}
	u := s.User()
	if u.ID != 5 || u.Role != models.RoleCaptain || u.Seats != 4 || u.City != "الرياض" {
		t.Fatalf("user=%+v", u)
	}

	u.Neighborhoods[0] = "mutated"
	if s.Neighborhoods[0] != "النزهة" {
		t.Fatal("User must copy the neighborhoods slice")
	}
}
