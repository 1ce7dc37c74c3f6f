// Package blob defines the object storage port used for lease documents and
// audit logs, with an in-memory store and an HTTP fetcher.
package blob

import (
	"context"
	"errors"
)

var (
	ErrUnauthorized = errors.New("blob: unauthorized")
	ErrTimeout      = errors.New("blob: timeout")
	ErrNotFound     = errors.New("blob: not found")
	ErrTooLarge     = errors.New("blob: object too large")
)

type Kind string

const (
	KindDocument Kind = "document"
	KindText     Kind = "text"
)

// ContentType is the default content type for objects of this kind.
func (k Kind) ContentType() string {
	if k == KindText {
		return "application/json"
	}
	return "application/pdf"
}

type Object struct {
	Key         string
	Body        []byte
	Kind        Kind
	ContentType string // overrides Kind.ContentType when set
}

// MediaType is the content type the object is stored with.
func (o Object) MediaType() string {
	if o.ContentType != "" {
		return o.ContentType
	}
	return o.Kind.ContentType()
}

// Store persists objects and returns a URL they can be fetched from.
// Implementations report rejected credentials as ErrUnauthorized.
//
// URLs may expire. Callers that need an object later keep its key and go
// through Read, or Link for a fresh URL to hand out.
type Store interface {
	Put(ctx context.Context, obj Object) (url string, err error)
	Read(ctx context.Context, key string) ([]byte, error)
	Link(ctx context.Context, key string) (string, error)
}
