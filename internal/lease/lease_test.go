package lease_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/pdfdoc"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
	"github.com/Alijeyrad/keystone_backend/internal/store/memory"
)

type recordingCreator struct {
	mu   sync.Mutex
	reqs []signing.CreateDocumentRequest
}

func (c *recordingCreator) CreateDocument(_ context.Context, req signing.CreateDocumentRequest) (*signing.LeaseDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return &signing.LeaseDocument{
		LeaseID:    req.LeaseID,
		TemplateID: req.TemplateID,
		PropertyID: req.PropertyID,
		Fields:     req.Fields,
	}, nil
}

type staticFetcher map[string][]byte

func (f staticFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	b, ok := f[url]
	if !ok {
		return nil, errors.New("not found: " + url)
	}
	return b, nil
}

const uploadedURL = "https://files.example.com/landlord/lease.pdf"

type env struct {
	svc     lease.Service
	store   *memory.Store
	creator *recordingCreator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	creator := &recordingCreator{}

	// Each call advances the clock so list order follows creation order.
	var mu sync.Mutex
	tick := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	composer := pdfdoc.NewComposer()
	composer.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	svc := lease.New(st.Templates(), st.Assignments(), st, composer,
		staticFetcher{uploadedURL: []byte("%PDF-1.4 uploaded")}, creator, lease.Options{Now: now})
	return &env{svc: svc, store: st, creator: creator}
}

func builderRequest(landlordID uuid.UUID, name string, isDefault bool) lease.CreateTemplateRequest {
	return lease.CreateTemplateRequest{
		LandlordID: landlordID,
		Name:       name,
		Type:       lease.TypeBuilder,
		IsDefault:  isDefault,
		BuilderConfig: &lease.BuilderConfig{
			Title: "Residential Lease: {{property_address}}",
			Sections: []lease.Section{
				{Heading: "Parties", Body: "This lease is between {{landlord_name}} and {{tenant_name}}."},
				{Heading: "Rent", Body: "Monthly rent is {{rent}}."},
			},
		},
		MergeFields: []lease.MergeField{
			{Key: "property_address", Required: true},
			{Key: "landlord_name", Required: true},
			{Key: "tenant_name", Required: true},
			{Key: "rent", DefaultValue: "as agreed"},
		},
		SignatureFields: []signing.FieldSpec{
			{ID: "tenant-signature", Type: signing.FieldSignature, Role: signing.RoleTenant, Page: 1, X: 10, Y: 85, Width: 30, Height: 5, Required: true},
		},
	}
}

func uploadedRequest(landlordID uuid.UUID, name string, isDefault bool) lease.CreateTemplateRequest {
	url := uploadedURL
	return lease.CreateTemplateRequest{
		LandlordID: landlordID,
		Name:       name,
		Type:       lease.TypeUploadedPDF,
		IsDefault:  isDefault,
		PDFURL:     &url,
	}
}

func defaultsOf(t *testing.T, svc lease.Service, landlordID uuid.UUID) []uuid.UUID {
	t.Helper()
	all, err := svc.ListTemplates(context.Background(), landlordID)
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, tmpl := range all {
		if tmpl.IsDefault {
			ids = append(ids, tmpl.ID)
		}
	}
	return ids
}

func TestResolve_AssignmentThenDefault(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	landlord := uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	def, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "Standard", true))
	require.NoError(t, err)
	special, err := e.svc.CreateTemplate(ctx, uploadedRequest(landlord, "Pet friendly", false))
	require.NoError(t, err)
	require.NoError(t, e.svc.AssignTemplateToProperties(ctx, special.ID, []uuid.UUID{p1}))

	got, err := e.svc.ResolveTemplateForProperty(ctx, p1, landlord)
	require.NoError(t, err)
	assert.Equal(t, special.ID, got.ID, "assignment wins over the default")

	got, err = e.svc.ResolveTemplateForProperty(ctx, p2, landlord)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	require.NoError(t, e.svc.DeleteTemplate(ctx, special.ID))
	assert.Zero(t, e.store.Assignments().AssignmentCount(special.ID))

	got, err = e.svc.ResolveTemplateForProperty(ctx, p1, landlord)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID, "deleted assignment falls back to the default")
}

func TestResolve_NoTemplate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	landlord := uuid.New()

	_, err := e.svc.ResolveTemplateForProperty(ctx, uuid.New(), landlord)
	assert.ErrorIs(t, err, lease.ErrNoTemplate)
	assert.ErrorIs(t, err, lease.ErrNotFound)

	// A default belonging to another landlord does not apply.
	_, err = e.svc.CreateTemplate(ctx, builderRequest(uuid.New(), "Other", true))
	require.NoError(t, err)
	_, err = e.svc.ResolveTemplateForProperty(ctx, uuid.New(), landlord)
	assert.ErrorIs(t, err, lease.ErrNoTemplate)
}

func TestDefaults_AtMostOnePerLandlord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	landlords := []uuid.UUID{uuid.New(), uuid.New()}
	var ids []uuid.UUID

	for i := 0; i < 200; i++ {
		landlord := landlords[rng.IntN(len(landlords))]
		switch {
		case len(ids) == 0 || rng.IntN(3) == 0:
			tmpl, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "T", rng.IntN(2) == 0))
			require.NoError(t, err)
			ids = append(ids, tmpl.ID)
		case rng.IntN(5) == 0:
			idx := rng.IntN(len(ids))
			require.NoError(t, e.svc.DeleteTemplate(ctx, ids[idx]))
			ids = append(ids[:idx], ids[idx+1:]...)
		default:
			flag := rng.IntN(2) == 0
			_, err := e.svc.UpdateTemplate(ctx, ids[rng.IntN(len(ids))], lease.UpdateTemplateRequest{IsDefault: &flag})
			require.NoError(t, err)
		}

		for _, l := range landlords {
			require.LessOrEqual(t, len(defaultsOf(t, e.svc, l)), 1, "step %d", i)
		}
	}
}

func TestCreateTemplate_NewDefaultReplacesOld(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	landlord := uuid.New()

	first, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "First", true))
	require.NoError(t, err)
	second, err := e.svc.CreateTemplate(ctx, uploadedRequest(landlord, "Second", true))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{second.ID}, defaultsOf(t, e.svc, landlord))

	yes := true
	_, err = e.svc.UpdateTemplate(ctx, first.ID, lease.UpdateTemplateRequest{IsDefault: &yes})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID}, defaultsOf(t, e.svc, landlord))
}

func TestCreateTemplate_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req := builderRequest(uuid.New(), "", false)
	_, err := e.svc.CreateTemplate(ctx, req)
	var vErr *lease.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "Name")

	bad := "not a url"
	req = uploadedRequest(uuid.New(), "Upload", false)
	req.PDFURL = &bad
	_, err = e.svc.CreateTemplate(ctx, req)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "PDFURL")

	req = builderRequest(uuid.New(), "Fields", false)
	req.SignatureFields[0].Page = 0
	_, err = e.svc.CreateTemplate(ctx, req)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "signature_fields")
}

func TestUpdateTemplate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.UpdateTemplate(ctx, uuid.New(), lease.UpdateTemplateRequest{})
	assert.ErrorIs(t, err, lease.ErrTemplateNotFound)

	tmpl, err := e.svc.CreateTemplate(ctx, builderRequest(uuid.New(), "Before", false))
	require.NoError(t, err)

	name := "After"
	updated, err := e.svc.UpdateTemplate(ctx, tmpl.ID, lease.UpdateTemplateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Name)
	assert.True(t, updated.UpdatedAt.After(tmpl.UpdatedAt))

	// A builder template cannot gain a PDF.
	url := uploadedURL
	_, err = e.svc.UpdateTemplate(ctx, tmpl.ID, lease.UpdateTemplateRequest{PDFURL: &url})
	var vErr *lease.ValidationError
	require.ErrorAs(t, err, &vErr)

	stored, err := e.svc.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", stored.Name)
	assert.Nil(t, stored.PDFURL, "failed update rolled back")
}

func TestAssignTemplateToProperties(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	landlord := uuid.New()
	props := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	a, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "A", false))
	require.NoError(t, err)
	b, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "B", false))
	require.NoError(t, err)

	require.NoError(t, e.svc.AssignTemplateToProperties(ctx, a.ID, props))
	require.NoError(t, e.svc.AssignTemplateToProperties(ctx, b.ID, props[:1]))
	assert.Equal(t, 2, e.store.Assignments().AssignmentCount(a.ID))
	assert.Equal(t, 1, e.store.Assignments().AssignmentCount(b.ID))

	got, err := e.svc.ResolveTemplateForProperty(ctx, props[0], landlord)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	err = e.svc.AssignTemplateToProperties(ctx, uuid.New(), props)
	assert.ErrorIs(t, err, lease.ErrTemplateNotFound)
	assert.Equal(t, 2, e.store.Assignments().AssignmentCount(a.ID))
}

func TestDeleteTemplate_NotFound(t *testing.T) {
	e := newEnv(t)
	assert.ErrorIs(t, e.svc.DeleteTemplate(context.Background(), uuid.New()), lease.ErrTemplateNotFound)
}

func TestCompose(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	landlord := uuid.New()

	b, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "B", false))
	require.NoError(t, err)
	pdf, err := e.svc.Compose(ctx, b.ID, map[string]string{
		"property_address": "12 Elm St",
		"landlord_name":    "Lee",
		"tenant_name":      "Sam",
	})
	require.NoError(t, err)
	doc, err := pdfdoc.NewRenderer(0).Open(pdf)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount())

	_, err = e.svc.Compose(ctx, b.ID, map[string]string{"tenant_name": "Sam"})
	assert.ErrorIs(t, err, lease.ErrMissingMergeValue)

	u, err := e.svc.CreateTemplate(ctx, uploadedRequest(landlord, "U", false))
	require.NoError(t, err)
	_, err = e.svc.Compose(ctx, u.ID, nil)
	assert.ErrorIs(t, err, lease.ErrNotBuilder)
}

func TestPrepareDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("builder default", func(t *testing.T) {
		e := newEnv(t)
		landlord, property, leaseID := uuid.New(), uuid.New(), uuid.New()
		tmpl, err := e.svc.CreateTemplate(ctx, builderRequest(landlord, "Standard", true))
		require.NoError(t, err)

		doc, err := e.svc.PrepareDocument(ctx, lease.PrepareDocumentRequest{
			LeaseID:    leaseID,
			PropertyID: property,
			LandlordID: landlord,
			Values:     map[string]string{"property_address": "12 Elm St", "landlord_name": "Lee", "tenant_name": "Sam"},
		})
		require.NoError(t, err)
		assert.Equal(t, leaseID, doc.LeaseID)
		assert.Equal(t, tmpl.ID, doc.TemplateID)

		require.Len(t, e.creator.reqs, 1)
		req := e.creator.reqs[0]
		assert.Equal(t, property, req.PropertyID)
		assert.Equal(t, tmpl.SignatureFields, req.Fields)
		assert.True(t, len(req.PDF) > 4 && string(req.PDF[:4]) == "%PDF")
	})

	t.Run("uploaded assignment", func(t *testing.T) {
		e := newEnv(t)
		landlord, property := uuid.New(), uuid.New()
		tmpl, err := e.svc.CreateTemplate(ctx, uploadedRequest(landlord, "Upload", false))
		require.NoError(t, err)
		require.NoError(t, e.svc.AssignTemplateToProperties(ctx, tmpl.ID, []uuid.UUID{property}))

		_, err = e.svc.PrepareDocument(ctx, lease.PrepareDocumentRequest{LeaseID: uuid.New(), PropertyID: property, LandlordID: landlord})
		require.NoError(t, err)
		require.Len(t, e.creator.reqs, 1)
		assert.Equal(t, []byte("%PDF-1.4 uploaded"), e.creator.reqs[0].PDF)
	})

	t.Run("no template", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.PrepareDocument(ctx, lease.PrepareDocumentRequest{LeaseID: uuid.New(), PropertyID: uuid.New(), LandlordID: uuid.New()})
		assert.ErrorIs(t, err, lease.ErrNoTemplate)
		assert.Empty(t, e.creator.reqs)
	})

	t.Run("missing ids", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.PrepareDocument(ctx, lease.PrepareDocumentRequest{})
		var vErr *lease.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Len(t, vErr.FieldErrors, 3)
	})
}
