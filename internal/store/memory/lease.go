package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
)

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

type TemplateRepo struct{ s *Store }

func (s *Store) Templates() *TemplateRepo { return &TemplateRepo{s: s} }

func (r *TemplateRepo) CreateTemplate(_ context.Context, t *lease.LeaseTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.t.templates[t.ID] = t.Clone()
	return nil
}

func (r *TemplateRepo) UpdateTemplate(_ context.Context, t *lease.LeaseTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.t.templates[t.ID]; !ok {
		return lease.ErrTemplateNotFound
	}
	r.s.t.templates[t.ID] = t.Clone()
	return nil
}

func (r *TemplateRepo) GetTemplate(_ context.Context, id uuid.UUID) (*lease.LeaseTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.t.templates[id]
	if !ok {
		return nil, lease.ErrTemplateNotFound
	}
	return t.Clone(), nil
}

func (r *TemplateRepo) DeleteTemplate(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.t.templates[id]; !ok {
		return lease.ErrTemplateNotFound
	}
	delete(r.s.t.templates, id)
	return nil
}

func (r *TemplateRepo) ListTemplates(_ context.Context, landlordID uuid.UUID) ([]*lease.LeaseTemplate, error) {
	return r.filter(func(t *lease.LeaseTemplate) bool { return t.LandlordID == landlordID }), nil
}

func (r *TemplateRepo) DefaultTemplates(_ context.Context, landlordID uuid.UUID) ([]*lease.LeaseTemplate, error) {
	return r.filter(func(t *lease.LeaseTemplate) bool { return t.LandlordID == landlordID && t.IsDefault }), nil
}

func (r *TemplateRepo) ClearDefault(_ context.Context, landlordID, exceptID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.t.templates {
		if t.LandlordID != landlordID || id == exceptID || !t.IsDefault {
			continue
		}
		c := t.Clone()
		c.IsDefault = false
		r.s.t.templates[id] = c
	}
	return nil
}

func (r *TemplateRepo) filter(keep func(*lease.LeaseTemplate) bool) []*lease.LeaseTemplate {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*lease.LeaseTemplate
	for _, t := range r.s.t.templates {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *lease.LeaseTemplate) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

type AssignmentRepo struct{ s *Store }

func (s *Store) Assignments() *AssignmentRepo { return &AssignmentRepo{s: s} }

func (r *AssignmentRepo) GetAssignment(_ context.Context, propertyID uuid.UUID) (*lease.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.t.assignments[propertyID]
	if !ok {
		return nil, lease.ErrNotFound
	}
	return &a, nil
}

func (r *AssignmentRepo) ReplaceAssignment(_ context.Context, propertyID, templateID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.t.assignments[propertyID] = lease.Assignment{
		PropertyID: propertyID,
		TemplateID: templateID,
		CreatedAt:  r.s.now(),
	}
	return nil
}

func (r *AssignmentRepo) DeleteAssignmentsByTemplate(_ context.Context, templateID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for pid, a := range r.s.t.assignments {
		if a.TemplateID == templateID {
			delete(r.s.t.assignments, pid)
		}
	}
	return nil
}

// AssignmentCount reports how many properties reference the template.
func (r *AssignmentRepo) AssignmentCount(templateID uuid.UUID) int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, a := range r.s.t.assignments {
		if a.TemplateID == templateID {
			n++
		}
	}
	return n
}
