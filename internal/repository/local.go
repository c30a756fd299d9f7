package repository

import (
	"slices"

	"github.com/roach88/recordset/internal/model"
)

// localStore maps record keys to instances and remembers insertion order,
// which is the order flushes process rows in.
type localStore struct {
	order []string
	items map[string]*model.Model
}

func newLocalStore() *localStore {
	return &localStore{items: make(map[string]*model.Model)}
}

func (s *localStore) get(key string) (*model.Model, bool) {
	m, ok := s.items[key]
	return m, ok
}

// add inserts m under key unless the key is taken. It returns the instance
// held for key afterwards.
func (s *localStore) add(key string, m *model.Model) *model.Model {
	if existing, ok := s.items[key]; ok {
		return existing
	}
	s.items[key] = m
	s.order = append(s.order, key)
	return m
}

func (s *localStore) remove(keys ...string) {
	if len(keys) == 0 {
		return
	}
	gone := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := s.items[k]; ok {
			delete(s.items, k)
			gone[k] = true
		}
	}
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return gone[k] })
}

func (s *localStore) keys() []string {
	return slices.Clone(s.order)
}

func (s *localStore) clear() {
	s.order = nil
	s.items = make(map[string]*model.Model)
}
