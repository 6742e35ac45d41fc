// Package scope implements per-operator access restrictions over the
// sede/sala tree. A nil scope means unrestricted access, which keeps
// pre-scope operator records working unchanged.
package scope

import "strings"

// Scope restricts an operator to a set of sedes and, optionally, to
// specific salas within a sede. Keys are matched case-insensitively.
type Scope struct {
	Sedes []string            `json:"sedes,omitempty"`
	Salas map[string][]string `json:"salas,omitempty"`
}

// Allows reports whether the scope permits access to sede/sala.
//
// A nil scope allows everything. If Sedes is non-empty the sede must be
// listed. If Salas has an entry for the sede, the sala must be listed in
// it; a listed sede without a sala restriction allows every sala in it.
func (s *Scope) Allows(sede, sala string) bool {
	if s == nil {
		return true
	}

	sedeKey := strings.ToLower(strings.TrimSpace(sede))
	salaKey := strings.ToLower(strings.TrimSpace(sala))

	if len(s.Sedes) > 0 && !containsFold(s.Sedes, sedeKey) {
		return false
	}

	if allowed, ok := s.salasFor(sedeKey); ok {
		return containsFold(allowed, salaKey)
	}

	if containsFold(s.Sedes, sedeKey) {
		return true
	}

	// A defined scope without a match denies.
	return false
}

// Filter returns the items whose sede/sala the scope allows.
func Filter[T any](items []T, s *Scope, key func(T) (sede, sala string)) []T {
	if s == nil {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		sede, sala := key(item)
		if s.Allows(sede, sala) {
			out = append(out, item)
		}
	}
	return out
}

func (s *Scope) salasFor(sedeKey string) ([]string, bool) {
	for sede, salas := range s.Salas {
		if strings.ToLower(sede) == sedeKey {
			return salas, true
		}
	}
	return nil, false
}

func containsFold(list []string, lowered string) bool {
	for _, item := range list {
		if strings.ToLower(item) == lowered {
			return true
		}
	}
	return false
}
