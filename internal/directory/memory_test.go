package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/example/darbak/internal/models"
)

func captain(id int64, city string, neighborhoods ...string) *models.User {
	return &models.User{
		ID:            id,
		Role:          models.RoleCaptain,
		FullName:      "محمد عبدالله العتيبي",
		Phone:         "0501112233",
		City:          city,
		Neighborhoods: neighborhoods,
		Seats:         4,
	}
}

func TestMemory_UpsertResetsCaptainAvailability(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	c := captain(1, "الرياض", "النزهة")
	c.Available = false
	if err := m.Upsert(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Available {
		t.Fatalf("captain registration must reset available to true")
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Upsert(ctx, captain(1, "الرياض", "النزهة", "الملز")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	a, _ := m.Get(ctx, 1)
	a.Neighborhoods[0] = "mutated"
	a.FullName = "mutated"

	b, _ := m.Get(ctx, 1)
	if b.Neighborhoods[0] != "النزهة" || b.FullName == "mutated" {
		t.Fatalf("stored user leaked through returned copy: %+v", b)
	}
}

func TestMemory_SettersAndNotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Upsert(ctx, captain(1, "الرياض", "النزهة")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := m.SetPhone(ctx, 1, "0599887766"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	if err := m.SetCar(ctx, 1, "Sonata", "د و س 9876"); err != nil {
		t.Fatalf("set car: %v", err)
	}
	u, _ := m.Get(ctx, 1)
	if u.Phone != "0599887766" || u.CarModel != "Sonata" {
		t.Fatalf("setters not applied: %+v", u)
	}

	if err := m.SetPhone(ctx, 42, "0500000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}
	if _, err := m.Get(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing get: got %v, want ErrNotFound", err)
	}
}

func TestMemory_FindAvailableCaptains(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, c := range []*models.User{
		captain(1, "الرياض", "النزهة", "الملز", "العليا"),
		captain(2, "الرياض", "الروضة", "النسيم", "الملز"),
		captain(3, "جدة", "النزهة"), // same neighborhood name, other city
		captain(4, "الرياض", "النزهة"),
	} {
		if err := m.Upsert(ctx, c); err != nil {
			t.Fatalf("upsert %d: %v", c.ID, err)
		}
	}
	if err := m.SetAvailability(ctx, 4, false); err != nil {
		t.Fatalf("set availability: %v", err)
	}

	got, err := m.FindAvailableCaptains(ctx, "الرياض", "النزهة")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("got %v, want only captain 1", got)
	}

	got, err = m.FindAvailableCaptains(ctx, "الرياض", "الملز")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("want captains [1 2] in registration order, got %v", got)
	}
}
