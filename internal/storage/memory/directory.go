package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

var errDuplicate = errors.New("memory: duplicate queue number")

// AssignedCounters lists the active counters userID is assigned to.
func (s *Store) AssignedCounters(_ context.Context, userID int64) ([]models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Counter
	for _, a := range s.assignments {
		if a.UserID != userID {
			continue
		}
		if c, ok := s.counters[a.CounterID]; ok && c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CounterNumber < out[j].CounterNumber })
	return out, nil
}

func (s *Store) IsAssigned(_ context.Context, userID, counterID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.UserID == userID && a.CounterID == counterID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, queue.NewError(queue.KindNotFound, "find", "user", 0)
}

func (s *Store) LoadSettings(_ context.Context) (models.SystemSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return models.SystemSettings{}, queue.NewError(queue.KindNotFound, "load", "settings", 0)
	}
	return *s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, st models.SystemSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &st
	return nil
}
