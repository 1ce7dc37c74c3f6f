package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLeaseSignedEmail(t *testing.T) {
	data := LeaseSignedData{
		SignerName:   "Ada <Tenant>",
		SignerEmail:  "ada@example.com",
		Role:         "tenant",
		LeaseID:      "9b1c",
		SignedPDFURL: "https://files.example.com/leases/9b1c/v1.pdf",
		DocumentHash: "abc123",
		SignedAt:     time.Date(2026, time.October, 15, 14, 30, 0, 0, time.UTC),
	}

	m := BuildLeaseSignedEmail(data)
	assert.Equal(t, []string{"ada@example.com"}, m.To)
	assert.Equal(t, "Your signature on lease 9b1c was recorded", m.Subject)
	assert.Contains(t, m.TextBody, "October 15, 2026 14:30 UTC")
	assert.Contains(t, m.TextBody, "has not signed yet")
	assert.Contains(t, m.HTMLBody, "Ada &lt;Tenant&gt;")

	data.FullyExecuted = true
	m = BuildLeaseSignedEmail(data)
	assert.Equal(t, "Lease 9b1c is fully executed", m.Subject)
	assert.Contains(t, m.TextBody, "Both parties have now signed")
}

func TestBuildMessage_Validation(t *testing.T) {
	ok := Message{To: []string{" a@example.com "}, Subject: "s", TextBody: "body"}

	_, err := buildMessage("", ok)
	assert.ErrorAs(t, err, &ErrInvalidMessage{})

	_, err = buildMessage("keystone@example.com", Message{Subject: "s", TextBody: "b"})
	assert.ErrorAs(t, err, &ErrInvalidMessage{})

	_, err = buildMessage("keystone@example.com", Message{To: ok.To, Subject: "s"})
	assert.ErrorAs(t, err, &ErrInvalidMessage{})

	msg, err := buildMessage("keystone@example.com", ok)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, msg.GetHeader("To"))
}

func TestSend_Disabled(t *testing.T) {
	c := New(Config{Enabled: false})
	err := c.Send(context.Background(), Message{})
	assert.ErrorAs(t, err, &ErrDisabled{})
}
