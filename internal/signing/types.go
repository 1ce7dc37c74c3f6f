package signing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LeaseDocument is the signable PDF for one lease. CurrentPDFKey always names
// the latest rendition: the base PDF before anyone signs, then the output of
// the most recent signature. CurrentPDFURL is a link to the same object and
// may expire; it is refreshed whenever the document is read. Version
// increases by one per signature.
type LeaseDocument struct {
	LeaseID       uuid.UUID
	TemplateID    uuid.UUID
	PropertyID    uuid.UUID
	CurrentPDFKey string
	CurrentPDFURL string
	Version       int
	Fields        []FieldSpec
	Signatures    []SignatureRecord
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SignedBy reports whether role already has a signature on the document.
func (d *LeaseDocument) SignedBy(role Role) bool {
	for _, s := range d.Signatures {
		if s.Role == role {
			return true
		}
	}
	return false
}

type SignatureRecord struct {
	Role         Role      `json:"role"`
	SignerName   string    `json:"signer_name"`
	SignerEmail  string    `json:"signer_email"`
	DocumentHash string    `json:"document_hash"`
	SignedPDFURL string    `json:"signed_pdf_url"`
	AuditLogURL  string    `json:"audit_log_url"`
	SignedPDFKey string    `json:"signed_pdf_key,omitempty"`
	AuditLogKey  string    `json:"audit_log_key,omitempty"`
	SignedAt     time.Time `json:"signed_at"`
}

// SigningData is what the signer supplies. Images are data URLs.
type SigningData struct {
	SignerName     string
	SignerEmail    string
	SignatureImage string
	InitialsImage  string
	// TextValues holds free-text answers keyed by field id.
	TextValues map[string]string
}

// AuditMetadata describes the signing event. SignedAt is the moment of
// signing; date fields and the audit page print it.
type AuditMetadata struct {
	IPAddress string
	UserAgent string
	SignedAt  time.Time
}

type ApplyInput struct {
	LeaseID uuid.UUID
	Role    Role
	PDF     []byte
	Fields  []Field
	Data    SigningData
	Audit   AuditMetadata
}

type Result struct {
	SignedPDFURL string
	AuditLogURL  string
	SignedPDFKey string
	AuditLogKey  string
	DocumentHash string
	SignedAt     time.Time
	FieldsDrawn  []string
}

// AuditLog is the JSON record uploaded next to every signed PDF.
type AuditLog struct {
	LeaseID          uuid.UUID `json:"lease_id"`
	Role             Role      `json:"role"`
	SignerName       string    `json:"signer_name"`
	SignerEmail      string    `json:"signer_email"`
	SignedAt         time.Time `json:"signed_at"`
	IPAddress        string    `json:"ip_address"`
	UserAgent        string    `json:"user_agent"`
	ConsentStatement string    `json:"consent_statement"`
	DocumentHash     string    `json:"document_hash"`
	HashAlgorithm    string    `json:"hash_algorithm"`
	FieldsApplied    []string  `json:"fields_applied"`
}

func (a AuditLog) Marshal() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

const EventLeaseSigned = "lease.signed"

type SignedEvent struct {
	LeaseID       uuid.UUID `json:"lease_id"`
	PropertyID    uuid.UUID `json:"property_id"`
	Role          Role      `json:"role"`
	SignerName    string    `json:"signer_name"`
	SignerEmail   string    `json:"signer_email"`
	DocumentHash  string    `json:"document_hash"`
	SignedPDFURL  string    `json:"signed_pdf_url"`
	Version       int       `json:"version"`
	FullyExecuted bool      `json:"fully_executed"`
	SignedAt      time.Time `json:"signed_at"`
}
