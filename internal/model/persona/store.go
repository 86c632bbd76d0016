package persona

import "strings"

// Store resolves the personas a session can be opened with.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore keeps personas in catalogue order with an id index. A later
// entry with an id already seen replaces the earlier one in place.
type MemoryStore struct {
	order []string
	byID  map[string]Persona
}

// NewMemoryStore indexes the given personas.
func NewMemoryStore(personas []Persona) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		if _, seen := s.byID[p.ID]; !seen {
			s.order = append(s.order, p.ID)
		}
		s.byID[p.ID] = p
	}
	return s
}

// List returns the personas in catalogue order.
func (s *MemoryStore) List() []Persona {
	out := make([]Persona, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// FindByID resolves a persona id as it arrives in a URL or request body.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	p, ok := s.byID[strings.TrimSpace(id)]
	return p, ok
}
