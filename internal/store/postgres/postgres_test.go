package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
	"github.com/Alijeyrad/keystone_backend/internal/store/postgres"
)

var fixedNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, retries int) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return postgres.New(sqlx.NewDb(db, "postgres"), postgres.Options{
		SerializationRetries: retries,
		Now:                  func() time.Time { return fixedNow },
	}), mock
}

func TestWithinTx_CommitsAndJoinsNestedCalls(t *testing.T) {
	store, mock := newStore(t, 3)
	propertyID, templateID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "property_lease_templates"`).
		WithArgs(propertyID, templateID, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		return store.WithinTx(ctx, func(ctx context.Context) error {
			return store.Assignments().ReplaceAssignment(ctx, propertyID, templateID)
		})
	})
	require.NoError(t, err)
}

func TestWithinTx_RetriesSerializationFailures(t *testing.T) {
	store, mock := newStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "property_lease_templates"`).WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "property_lease_templates"`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	calls := 0
	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		calls++
		return store.Assignments().DeleteAssignmentsByTemplate(ctx, uuid.New())
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithinTx_GivesUpAfterRetries(t *testing.T) {
	store, mock := newStore(t, 2)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "property_lease_templates"`).WillReturnError(&pq.Error{Code: "40P01"})
		mock.ExpectRollback()
	}

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		return store.Assignments().DeleteAssignmentsByTemplate(ctx, uuid.New())
	})
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("40P01"), pqErr.Code)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	store, mock := newStore(t, 3)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := store.WithinTx(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestAvailability(t *testing.T) {
	providerID := uuid.New()
	cols := []string{"provider_id", "timezone", "days", "buffer_minutes", "min_notice_hours", "max_advance_days", "blocked_dates", "updated_at"}

	t.Run("not found", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`FROM "provider_availability"`).WithArgs(providerID).WillReturnRows(sqlmock.NewRows(cols))

		_, err := store.Availability().Get(context.Background(), providerID)
		assert.ErrorIs(t, err, scheduler.ErrAvailabilityNotFound)
	})

	t.Run("decodes days and blocked dates", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`FROM "provider_availability"`).WithArgs(providerID).WillReturnRows(
			sqlmock.NewRows(cols).AddRow(providerID.String(), "America/Chicago",
				[]byte(`{"1":{"start_time":"09:00","end_time":"17:00","enabled":true}}`),
				15, 24, 60, []byte("{2026-12-24,2026-12-25}"), fixedNow))

		a, err := store.Availability().Get(context.Background(), providerID)
		require.NoError(t, err)
		assert.Equal(t, "America/Chicago", a.Timezone)
		assert.Equal(t, scheduler.DaySchedule{Start: "09:00", End: "17:00", Enabled: true}, a.Days[time.Monday])
		assert.Equal(t, 15, a.BufferMinutes)
		assert.Equal(t, []scheduler.Date{{Year: 2026, Month: time.December, Day: 24}, {Year: 2026, Month: time.December, Day: 25}}, a.BlockedDates)
	})

	t.Run("upsert", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectExec(`INSERT INTO "provider_availability" .* ON CONFLICT`).WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Availability().Upsert(context.Background(), &scheduler.WeeklyAvailability{
			ProviderID:   providerID,
			Timezone:     "UTC",
			Days:         map[time.Weekday]scheduler.DaySchedule{time.Monday: {Start: "09:00", End: "17:00", Enabled: true}},
			BlockedDates: []scheduler.Date{{Year: 2026, Month: time.December, Day: 25}},
			UpdatedAt:    fixedNow,
		})
		require.NoError(t, err)
	})
}

func TestAppointments(t *testing.T) {
	appt := &scheduler.Appointment{
		ID:          uuid.New(),
		ProviderID:  uuid.New(),
		CustomerID:  uuid.New(),
		ServiceType: "inspection",
		Title:       "Move-in inspection",
		Address:     scheduler.Address{Line1: "12 Elm St", City: "Springfield"},
		StartTime:   fixedNow.Add(48 * time.Hour),
		EndTime:     fixedNow.Add(49 * time.Hour),
		Status:      scheduler.StatusConfirmed,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}

	t.Run("exclusion violation is a slot conflict", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectExec(`INSERT INTO "appointments"`).WillReturnError(&pq.Error{Code: "23P01"})

		err := store.Appointments().Create(context.Background(), appt, 15*time.Minute)
		require.ErrorIs(t, err, scheduler.ErrSlotUnavailable)
		var slotErr *scheduler.SlotError
		require.ErrorAs(t, err, &slotErr)
		assert.Equal(t, scheduler.ReasonConflict, slotErr.Reason)
	})

	t.Run("update of a missing row", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectExec(`UPDATE appointments`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Appointments().Update(context.Background(), appt)
		assert.ErrorIs(t, err, scheduler.ErrAppointmentNotFound)
	})

	t.Run("overlap query binds its window", func(t *testing.T) {
		store, mock := newStore(t, 1)
		from, to := fixedNow, fixedNow.Add(24*time.Hour)
		exclude := uuid.New()
		cols := []string{"id", "provider_id", "customer_id", "job_id", "service_type", "title",
			"description", "address", "start_time", "end_time", "status", "deposit_amount",
			"cancelled_at", "cancelled_by", "cancellation_reason", "completed_at", "created_at", "updated_at"}

		mock.ExpectQuery(`FROM "appointments"`).
			WithArgs(appt.ProviderID, "confirmed", to, from, exclude).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				appt.ID.String(), appt.ProviderID.String(), appt.CustomerID.String(), nil, "inspection", "Move-in inspection",
				nil, []byte(`{"line1":"12 Elm St","city":"Springfield"}`), appt.StartTime, appt.EndTime, "confirmed", nil,
				nil, nil, nil, nil, fixedNow, fixedNow))

		got, err := store.Appointments().ListConfirmedOverlapping(context.Background(), appt.ProviderID, from, to, &exclude)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, appt.ID, got[0].ID)
		assert.Equal(t, "Springfield", got[0].Address.City)
		assert.Nil(t, got[0].JobID)
	})
}

func TestTemplates(t *testing.T) {
	cols := []string{"id", "landlord_id", "name", "type", "is_default", "builder_config", "pdf_url", "signature_fields", "merge_fields", "created_at", "updated_at"}
	id, landlordID := uuid.New(), uuid.New()

	t.Run("get uploaded template", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`FROM "lease_templates"`).WithArgs(id).WillReturnRows(
			sqlmock.NewRows(cols).AddRow(id.String(), landlordID.String(), "Upload", "uploaded_pdf", true, nil,
				"https://files.example.com/l.pdf",
				[]byte(`[{"id":"sig","type":"signature","role":"tenant","page":1,"x":10,"y":80,"width":30,"height":5,"required":true}]`),
				[]byte(`[]`), fixedNow, fixedNow))

		tmpl, err := store.Templates().GetTemplate(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, lease.TypeUploadedPDF, tmpl.Type)
		assert.Nil(t, tmpl.BuilderConfig)
		require.NotNil(t, tmpl.PDFURL)
		require.Len(t, tmpl.SignatureFields, 1)
		assert.Equal(t, signing.FieldSignature, tmpl.SignatureFields[0].Type)
	})

	t.Run("missing template", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`FROM "lease_templates"`).WillReturnRows(sqlmock.NewRows(cols))
		_, err := store.Templates().GetTemplate(context.Background(), id)
		assert.ErrorIs(t, err, lease.ErrTemplateNotFound)

		mock.ExpectExec(`DELETE FROM "lease_templates"`).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.Templates().DeleteTemplate(context.Background(), id), lease.ErrTemplateNotFound)
	})

	t.Run("clear default keeps the new one", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectExec(`UPDATE "lease_templates" SET "is_default" = \$1 WHERE "landlord_id" = \$2 AND "is_default" AND "id" <> \$3`).
			WithArgs(false, landlordID, id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.Templates().ClearDefault(context.Background(), landlordID, id))
	})

	t.Run("default lookup filters on the flag without an argument", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`FROM "lease_templates" WHERE "landlord_id" = \$1 AND "is_default" ORDER BY`).
			WithArgs(landlordID).
			WillReturnRows(sqlmock.NewRows(cols))
		got, err := store.Templates().DefaultTemplates(context.Background(), landlordID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("no assignment", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`FROM "property_lease_templates"`).
			WillReturnRows(sqlmock.NewRows([]string{"property_id", "template_id", "created_at"}))
		_, err := store.Assignments().GetAssignment(context.Background(), uuid.New())
		assert.ErrorIs(t, err, lease.ErrNotFound)
	})
}

func TestAdvanceDocument(t *testing.T) {
	leaseID := uuid.New()
	cols := []string{"lease_id", "template_id", "property_id", "current_pdf_key", "current_pdf_url", "version", "fields", "signatures", "created_at", "updated_at"}
	rec := signing.SignatureRecord{
		Role:         signing.RoleTenant,
		SignerName:   "Sam",
		DocumentHash: "abc",
		SignedPDFURL: "https://cdn.example.com/v1.pdf",
		SignedPDFKey: "leases/l/v1.pdf",
		SignedAt:     fixedNow,
	}
	row := func(version int, signatures string) *sqlmock.Rows {
		return sqlmock.NewRows(cols).AddRow(leaseID.String(), uuid.NewString(), uuid.NewString(),
			"leases/l/v1.pdf", "https://cdn.example.com/v1.pdf", version, []byte(`[]`), []byte(signatures), fixedNow, fixedNow)
	}

	t.Run("advances", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`UPDATE lease_documents`).
			WithArgs(leaseID, 0, rec.SignedPDFKey, rec.SignedPDFURL, sqlmock.AnyArg(), fixedNow).
			WillReturnRows(row(1, `[{"role":"tenant","signer_name":"Sam","document_hash":"abc"}]`))

		doc, err := store.Documents().AdvanceDocument(context.Background(), leaseID, 0, rec)
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Version)
		assert.Equal(t, "leases/l/v1.pdf", doc.CurrentPDFKey)
		assert.True(t, doc.SignedBy(signing.RoleTenant))
	})

	t.Run("create stores the object key", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectExec(`INSERT INTO "lease_documents" \("lease_id", "template_id", "property_id", "current_pdf_key", "current_pdf_url"`).
			WithArgs(leaseID, sqlmock.AnyArg(), sqlmock.AnyArg(), "leases/l/base.pdf", "https://cdn.example.com/base.pdf",
				0, `[]`, `[]`, fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Documents().CreateDocument(context.Background(), &signing.LeaseDocument{
			LeaseID:       leaseID,
			CurrentPDFKey: "leases/l/base.pdf",
			CurrentPDFURL: "https://cdn.example.com/base.pdf",
			CreatedAt:     fixedNow,
			UpdatedAt:     fixedNow,
		}))
	})

	t.Run("stale", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`UPDATE lease_documents`).WillReturnRows(sqlmock.NewRows(cols))
		mock.ExpectQuery(`FROM "lease_documents"`).WithArgs(leaseID).WillReturnRows(row(1, `[]`))

		_, err := store.Documents().AdvanceDocument(context.Background(), leaseID, 0, rec)
		assert.ErrorIs(t, err, signing.ErrStaleDocument)
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectQuery(`UPDATE lease_documents`).WillReturnRows(sqlmock.NewRows(cols))
		mock.ExpectQuery(`FROM "lease_documents"`).WillReturnRows(sqlmock.NewRows(cols))

		_, err := store.Documents().AdvanceDocument(context.Background(), leaseID, 0, rec)
		assert.ErrorIs(t, err, signing.ErrDocumentNotFound)
	})

	t.Run("duplicate create", func(t *testing.T) {
		store, mock := newStore(t, 1)
		mock.ExpectExec(`INSERT INTO "lease_documents"`).WillReturnError(&pq.Error{Code: "23505"})

		err := store.Documents().CreateDocument(context.Background(), &signing.LeaseDocument{LeaseID: leaseID})
		assert.ErrorIs(t, err, postgres.ErrDocumentExists)
	})
}
