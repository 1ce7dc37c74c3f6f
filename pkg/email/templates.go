package email

import (
	"fmt"
	"html"
	"time"
)

type LeaseSignedData struct {
	AppName       string
	SignerName    string
	SignerEmail   string
	Role          string
	LeaseID       string
	SignedPDFURL  string
	DocumentHash  string
	SignedAt      time.Time
	FullyExecuted bool
}

// BuildLeaseSignedEmail confirms a recorded signature to the signer. Once
// both parties have signed the subject says so.
func BuildLeaseSignedEmail(data LeaseSignedData) Message {
	appName := data.AppName
	if appName == "" {
		appName = "Keystone"
	}
	name := data.SignerName
	if name == "" {
		name = "there"
	}

	subject := fmt.Sprintf("Your signature on lease %s was recorded", data.LeaseID)
	status := "The other party has not signed yet. We will let you know when the lease is fully executed."
	if data.FullyExecuted {
		subject = fmt.Sprintf("Lease %s is fully executed", data.LeaseID)
		status = "Both parties have now signed. This copy is the executed lease."
	}
	when := data.SignedAt.UTC().Format("January 2, 2006 15:04 MST")

	text := fmt.Sprintf(`Hi %s,

You signed lease %s as %s on %s.
%s

Download the signed document:
%s

Document fingerprint (SHA-256): %s

Thanks,
The %s Team`,
		name, data.LeaseID, data.Role, when, status, data.SignedPDFURL, data.DocumentHash, appName)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #1f3a5f;">Hi %s,</h2>
    <p>You signed lease <strong>%s</strong> as <strong>%s</strong> on %s.</p>
    <p>%s</p>
    <p style="text-align: center; margin: 30px 0;">
        <a href="%s" style="background-color: #1f3a5f; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">Download signed lease</a>
    </p>
    <p style="color: #6b7280; font-size: 13px;">Document fingerprint (SHA-256):<br><code>%s</code></p>
    <p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Thanks,<br>The %s Team</p>
</body>
</html>`,
		html.EscapeString(name), html.EscapeString(data.LeaseID), html.EscapeString(data.Role), when,
		status, html.EscapeString(data.SignedPDFURL), html.EscapeString(data.DocumentHash), html.EscapeString(appName))

	return Message{
		To:       []string{data.SignerEmail},
		Subject:  subject,
		TextBody: text,
		HTMLBody: htmlBody,
	}
}
