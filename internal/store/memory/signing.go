package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

type DocumentRepo struct{ s *Store }

func (s *Store) Documents() *DocumentRepo { return &DocumentRepo{s: s} }

func (r *DocumentRepo) CreateDocument(_ context.Context, doc *signing.LeaseDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.t.documents[doc.LeaseID]; ok {
		return fmt.Errorf("lease document %s already exists", doc.LeaseID)
	}
	r.s.t.documents[doc.LeaseID] = cloneDocument(doc)
	return nil
}

func (r *DocumentRepo) GetDocument(_ context.Context, leaseID uuid.UUID) (*signing.LeaseDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	doc, ok := r.s.t.documents[leaseID]
	if !ok {
		return nil, signing.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (r *DocumentRepo) AdvanceDocument(_ context.Context, leaseID uuid.UUID, fromVersion int, rec signing.SignatureRecord) (*signing.LeaseDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.t.documents[leaseID]
	if !ok {
		return nil, signing.ErrDocumentNotFound
	}
	if doc.Version != fromVersion {
		return nil, signing.ErrStaleDocument
	}
	next := cloneDocument(doc)
	next.Version++
	next.CurrentPDFKey = rec.SignedPDFKey
	next.CurrentPDFURL = rec.SignedPDFURL
	next.Signatures = append(next.Signatures, rec)
	next.UpdatedAt = rec.SignedAt
	r.s.t.documents[leaseID] = next
	return cloneDocument(next), nil
}

func cloneDocument(d *signing.LeaseDocument) *signing.LeaseDocument {
	c := *d
	c.Fields = slices.Clone(d.Fields)
	c.Signatures = slices.Clone(d.Signatures)
	return &c
}
