package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	cfg := BuilderConfig{
		Title: "Lease for {{ property_address }}",
		Sections: []Section{
			{Heading: "Rent", Body: "Tenant {{tenant_name}} pays {{rent}} per month, due on day {{due_day}}."},
			{Heading: "Pets", Body: "{{pet_policy}}"},
		},
	}
	fields := []MergeField{
		{Key: "property_address", Required: true},
		{Key: "tenant_name", Required: true},
		{Key: "rent", Required: true},
		{Key: "due_day", DefaultValue: "1"},
	}

	t.Run("defaults fill blanks", func(t *testing.T) {
		doc, err := merge(cfg, fields, map[string]string{
			"property_address": "12 Elm St",
			"tenant_name":      "Sam",
			"rent":             "$1,500",
			"due_day":          "  ",
		})
		require.NoError(t, err)
		assert.Equal(t, "Lease for 12 Elm St", doc.Title)
		assert.Equal(t, "Tenant Sam pays $1,500 per month, due on day 1.", doc.Sections[0].Body)
		assert.Equal(t, "{{pet_policy}}", doc.Sections[1].Body, "undeclared placeholder without a value is kept")
	})

	t.Run("undeclared values still substitute", func(t *testing.T) {
		doc, err := merge(cfg, fields, map[string]string{
			"property_address": "12 Elm St",
			"tenant_name":      "Sam",
			"rent":             "$1,500",
			"pet_policy":       "No pets.",
		})
		require.NoError(t, err)
		assert.Equal(t, "No pets.", doc.Sections[1].Body)
	})

	t.Run("missing required values are listed", func(t *testing.T) {
		_, err := merge(cfg, fields, map[string]string{"tenant_name": "Sam"})
		require.ErrorIs(t, err, ErrMissingMergeValue)
		assert.Contains(t, err.Error(), "property_address, rent")
	})

	t.Run("config is not mutated", func(t *testing.T) {
		_, err := merge(cfg, fields, map[string]string{"property_address": "x", "tenant_name": "y", "rent": "z"})
		require.NoError(t, err)
		assert.Equal(t, "Lease for {{ property_address }}", cfg.Title)
	})
}

func TestLeaseTemplate_Validate(t *testing.T) {
	url := "https://files.example.com/lease.pdf"

	tests := []struct {
		name   string
		tmpl   LeaseTemplate
		fields []string
	}{
		{
			name:   "builder without config",
			tmpl:   LeaseTemplate{Name: "A", Type: TypeBuilder},
			fields: []string{"builder_config"},
		},
		{
			name:   "builder with pdf",
			tmpl:   LeaseTemplate{Name: "A", Type: TypeBuilder, BuilderConfig: &BuilderConfig{}, PDFURL: &url},
			fields: []string{"pdf_url"},
		},
		{
			name:   "uploaded without pdf",
			tmpl:   LeaseTemplate{Name: "A", Type: TypeUploadedPDF},
			fields: []string{"pdf_url"},
		},
		{
			name:   "uploaded with merge fields",
			tmpl:   LeaseTemplate{Name: "A", Type: TypeUploadedPDF, PDFURL: &url, MergeFields: []MergeField{{Key: "rent"}}},
			fields: []string{"merge_fields"},
		},
		{
			name:   "bad merge keys",
			tmpl:   LeaseTemplate{Name: "A", Type: TypeBuilder, BuilderConfig: &BuilderConfig{}, MergeFields: []MergeField{{Key: "Rent"}, {Key: "rent"}, {Key: "rent"}}},
			fields: []string{"merge_fields[0].key", "merge_fields[2].key"},
		},
		{
			name:   "unknown type and blank name",
			tmpl:   LeaseTemplate{Name: " ", Type: "docx"},
			fields: []string{"name", "type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			for _, f := range tt.fields {
				assert.Contains(t, vErr.FieldErrors, f)
			}
			assert.Len(t, vErr.FieldErrors, len(tt.fields))
		})
	}

	ok := LeaseTemplate{Name: "A", Type: TypeUploadedPDF, PDFURL: &url}
	assert.NoError(t, ok.Validate())
}
