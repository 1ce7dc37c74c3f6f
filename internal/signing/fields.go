package signing

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
)

func (r Role) Valid() bool {
	return r == RoleTenant || r == RoleLandlord
}

type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldInitial   FieldType = "initial"
	FieldDate      FieldType = "date"
	FieldName      FieldType = "name"
	FieldText      FieldType = "text"
)

// Placement locates a field on a page. X, Y, Width and Height are percentages
// of the page size measured from the top-left corner, as authored in the UI.
type Placement struct {
	ID       string
	Role     Role
	Page     int // 1-indexed
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Required bool
}

// Field is one of SignatureField, InitialField, DateField, NameField or
// TextField. The set is closed: render switches over it exhaustively.
type Field interface {
	Base() Placement
	field()
}

type SignatureField struct{ Placement }

type InitialField struct{ Placement }

// DateField is filled with the signing date, never with a supplied value.
type DateField struct{ Placement }

type NameField struct{ Placement }

type TextField struct {
	Placement
	Label string
}

func (f SignatureField) Base() Placement { return f.Placement }
func (f InitialField) Base() Placement   { return f.Placement }
func (f DateField) Base() Placement      { return f.Placement }
func (f NameField) Base() Placement      { return f.Placement }
func (f TextField) Base() Placement      { return f.Placement }

func (SignatureField) field() {}
func (InitialField) field()   {}
func (DateField) field()      {}
func (NameField) field()      {}
func (TextField) field()      {}

// FieldSpec is the stored form of a field, kept on templates and snapshotted
// on lease documents.
type FieldSpec struct {
	ID       string    `json:"id"`
	Type     FieldType `json:"type"`
	Role     Role      `json:"role"`
	Page     int       `json:"page"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Required bool      `json:"required"`
	Label    string    `json:"label,omitempty"`
}

// Decode validates the spec and returns the matching Field variant.
func (s FieldSpec) Decode() (Field, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidField)
	}
	if !s.Role.Valid() {
		return nil, fmt.Errorf("%w: field %s: unknown role %q", ErrInvalidField, s.ID, s.Role)
	}
	if s.Page < 1 {
		return nil, fmt.Errorf("%w: field %s: page must be >= 1", ErrInvalidField, s.ID)
	}
	if !inPercentRange(s.X, s.Width) || !inPercentRange(s.Y, s.Height) || s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("%w: field %s: box must lie within the page", ErrInvalidField, s.ID)
	}

	p := Placement{
		ID:       s.ID,
		Role:     s.Role,
		Page:     s.Page,
		X:        s.X,
		Y:        s.Y,
		Width:    s.Width,
		Height:   s.Height,
		Required: s.Required,
	}
	switch s.Type {
	case FieldSignature:
		return SignatureField{p}, nil
	case FieldInitial:
		return InitialField{p}, nil
	case FieldDate:
		return DateField{p}, nil
	case FieldName:
		return NameField{p}, nil
	case FieldText:
		return TextField{Placement: p, Label: s.Label}, nil
	default:
		return nil, fmt.Errorf("%w: field %s: unknown type %q", ErrInvalidField, s.ID, s.Type)
	}
}

func inPercentRange(offset, size float64) bool {
	return offset >= 0 && size >= 0 && offset+size <= 100
}

// DecodeFields decodes every spec and rejects duplicate ids.
func DecodeFields(specs []FieldSpec) ([]Field, error) {
	out := make([]Field, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		f, err := spec.Decode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate field id %s", ErrInvalidField, spec.ID)
		}
		seen[spec.ID] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// ForRole keeps the fields that belong to role, preserving order.
func ForRole(fields []Field, role Role) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Base().Role == role {
			out = append(out, f)
		}
	}
	return out
}
