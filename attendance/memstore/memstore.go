// Package memstore is a map-backed attendance.Repository.
package memstore

import (
	"context"
	"sort"
	"sync"

	"rollcall/attendance"
)

type checkInKey struct {
	studentID string
	day       string
}

type Store struct {
	mu       sync.RWMutex
	students map[string]attendance.Student
	byCard   map[string]string
	checkIns map[checkInKey]attendance.CheckIn
}

func New() *Store {
	return &Store{
		students: make(map[string]attendance.Student),
		byCard:   make(map[string]string),
		checkIns: make(map[checkInKey]attendance.CheckIn),
	}
}

func (s *Store) StudentByCard(ctx context.Context, cardID string) (attendance.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCard[cardID]
	if !ok {
		return attendance.Student{}, attendance.ErrUnknownCard
	}
	return s.students[id], nil
}

func (s *Store) StudentByID(ctx context.Context, id string) (attendance.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[id]
	if !ok {
		return attendance.Student{}, attendance.ErrUnknownStudent
	}
	return st, nil
}

func (s *Store) SaveStudent(ctx context.Context, st attendance.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.CardID != "" {
		if owner, ok := s.byCard[st.CardID]; ok && owner != st.ID {
			return attendance.ErrCardInUse
		}
	}
	if old, ok := s.students[st.ID]; ok && old.CardID != "" {
		delete(s.byCard, old.CardID)
	}
	s.students[st.ID] = st
	if st.CardID != "" {
		s.byCard[st.CardID] = st.ID
	}
	return nil
}

func (s *Store) AssignCard(ctx context.Context, studentID, cardID string) (attendance.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[studentID]
	if !ok {
		return attendance.Student{}, attendance.ErrUnknownStudent
	}
	if owner, ok := s.byCard[cardID]; ok && owner != studentID {
		return attendance.Student{}, attendance.ErrCardInUse
	}
	if st.CardID != "" {
		delete(s.byCard, st.CardID)
	}
	st.CardID = cardID
	s.students[studentID] = st
	s.byCard[cardID] = studentID
	return st, nil
}

func (s *Store) AddCheckIn(ctx context.Context, c attendance.CheckIn) (attendance.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[c.StudentID]
	if !ok {
		return attendance.CheckIn{}, attendance.ErrUnknownStudent
	}
	key := checkInKey{c.StudentID, c.Day}
	if existing, ok := s.checkIns[key]; ok {
		return existing, attendance.ErrAlreadyCheckedIn
	}
	c.StudentName = st.Name
	s.checkIns[key] = c
	return c, nil
}

func (s *Store) CheckIns(ctx context.Context, day string) ([]attendance.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]attendance.CheckIn, 0)
	for key, c := range s.checkIns {
		if key.day == day {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.Before(out[j].CheckedAt) })
	return out, nil
}
