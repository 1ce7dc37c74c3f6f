package signing

import "sort"

type FieldStatus string

const (
	StatusPending   FieldStatus = "pending"
	StatusCompleted FieldStatus = "completed"
)

// Session tracks one signer's progress through the fields of their role.
// A session holds no document state; the signer marks fields as they go and
// Check decides whether the submission may proceed.
type Session struct {
	Role        Role
	SignerName  string
	SignerEmail string
	Consent     bool

	completed map[string]struct{}
}

func NewSession(role Role) *Session {
	return &Session{Role: role, completed: make(map[string]struct{})}
}

// RestoreSession rebuilds a session from the field ids a client reports as
// completed.
func RestoreSession(role Role, completedIDs []string, consent bool) *Session {
	s := NewSession(role)
	s.Consent = consent
	for _, id := range completedIDs {
		s.completed[id] = struct{}{}
	}
	return s
}

func (s *Session) Complete(fieldID string) { s.completed[fieldID] = struct{}{} }

func (s *Session) Reset(fieldID string) { delete(s.completed, fieldID) }

func (s *Session) Status(fieldID string) FieldStatus {
	if _, ok := s.completed[fieldID]; ok {
		return StatusCompleted
	}
	return StatusPending
}

// Completed returns the completed field ids in sorted order.
func (s *Session) Completed() []string {
	out := make([]string, 0, len(s.completed))
	for id := range s.completed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Missing lists the required fields of the session's role that are still
// pending, in field order.
func (s *Session) Missing(fields []Field) []string {
	var missing []string
	for _, f := range fields {
		p := f.Base()
		if p.Role != s.Role || !p.Required {
			continue
		}
		if s.Status(p.ID) != StatusCompleted {
			missing = append(missing, p.ID)
		}
	}
	return missing
}

// Check returns nil when every required field for the role is completed and
// consent was given. Otherwise it returns an *IncompleteError.
func (s *Session) Check(fields []Field) error {
	missing := s.Missing(fields)
	if len(missing) == 0 && s.Consent {
		return nil
	}
	return &IncompleteError{Missing: missing, ConsentMissing: !s.Consent}
}
