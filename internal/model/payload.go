package model

import (
	"strings"
)

// InboundEmailPayload is the provider-posted webhook body for a reply email.
// Structural requirements are minimal: a sender address and at least one of
// the body fields must be present; everything else is optional metadata.
type InboundEmailPayload struct {
	// Sender is the reply author's email address.
	Sender     string `json:"sender" validate:"required,email"`
	SenderName string `json:"sender_name,omitempty"`
	Company    string `json:"company,omitempty"`
	Subject    string `json:"subject,omitempty"`
	// TextBody is the plain-text message body.
	TextBody string `json:"text_body,omitempty"`
	// HTMLBody is the HTML message body; used when TextBody is absent.
	HTMLBody string `json:"html_body,omitempty"`
	// CampaignID is the outreach campaign this reply belongs to, if the
	// provider attached it.
	CampaignID string `json:"campaign_id,omitempty"`
	// MessageID is the provider-assigned message id.
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	// WebsiteHint is an optional originating-website domain.
	WebsiteHint string `json:"website_hint,omitempty"`
	// Timestamp is the provider's unix receive time, if supplied.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// HasBody reports whether the payload carries any message content.
func (p InboundEmailPayload) HasBody() bool {
	return strings.TrimSpace(p.TextBody) != "" || strings.TrimSpace(p.HTMLBody) != ""
}

// NormalizedSender returns the sender address lowercased and trimmed.
func (p InboundEmailPayload) NormalizedSender() string {
	return strings.ToLower(strings.TrimSpace(p.Sender))
}

// SenderDomain returns the domain part of the sender address, or "" when the
// address has no @.
func (p InboundEmailPayload) SenderDomain() string {
	addr := p.NormalizedSender()
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return ""
}
