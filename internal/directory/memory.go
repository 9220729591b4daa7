package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/darbak/internal/models"
)

// Memory is an in-process Directory used by tests and by local runs without a
// database.
type Memory struct {
	mu    sync.RWMutex
	users map[int64]*models.User
}

func NewMemory() *Memory {
	return &Memory{users: make(map[int64]*models.User)}
}

func (m *Memory) Upsert(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	cp.Neighborhoods = append([]string(nil), u.Neighborhoods...)
	now := time.Now()
	if prev, ok := m.users[u.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Role == models.RoleCaptain {
		cp.Available = true
	}
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	cp.Neighborhoods = append([]string(nil), u.Neighborhoods...)
	return &cp, nil
}

func (m *Memory) SetAvailability(_ context.Context, id int64, available bool) error {
	return m.update(id, func(u *models.User) { u.Available = available })
}

// CompareAndSetAvailability flips the flag only when it currently holds from.
func (m *Memory) CompareAndSetAvailability(_ context.Context, id int64, from, to bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, ErrNotFound
	}
	if u.Available != from {
		return false, nil
	}
	u.Available = to
	u.UpdatedAt = time.Now()
	return true, nil
}

func (m *Memory) SetName(_ context.Context, id int64, name string) error {
	return m.update(id, func(u *models.User) { u.FullName = name })
}

func (m *Memory) SetPhone(_ context.Context, id int64, phone string) error {
	return m.update(id, func(u *models.User) { u.Phone = phone })
}

func (m *Memory) SetCar(_ context.Context, id int64, model, plate string) error {
	return m.update(id, func(u *models.User) { u.CarModel, u.CarPlate = model, plate })
}

func (m *Memory) SetCity(_ context.Context, id int64, city string) error {
	return m.update(id, func(u *models.User) { u.City = city })
}

func (m *Memory) SetNeighborhoods(_ context.Context, id int64, neighborhoods []string) error {
	ns := append([]string(nil), neighborhoods...)
	return m.update(id, func(u *models.User) { u.Neighborhoods = ns })
}

func (m *Memory) SetRole(_ context.Context, id int64, role models.Role) error {
	return m.update(id, func(u *models.User) { u.Role = role })
}

func (m *Memory) FindAvailableCaptains(_ context.Context, city, neighborhood string) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.User
	for _, u := range m.users {
		if u.Role != models.RoleCaptain || !u.Available || u.City != city {
			continue
		}
		if !u.ServesNeighborhood(neighborhood) {
			continue
		}
		cp := *u
		cp.Neighborhoods = append([]string(nil), u.Neighborhoods...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) update(id int64, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}
