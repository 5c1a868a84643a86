package extraction

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `You extract structured publisher data from inbound guest-post and link-building emails.

Given one email, identify:
- the publisher's identity (email, contact name, company name)
- every priced offering mentioned (guest post, link insertion, sponsored content, niche edit), with its raw price string, currency, and turnaround in days when stated
- any website domains the sender appears to control or represent
- an overall confidence between 0 and 1 that this email is a genuine publisher offering services

Respond with a single JSON object and nothing else:
{
  "version": 1,
  "publisher": {"email": "", "contact_name": "", "company_name": ""},
  "offerings": [{"offering_type": "", "price": "", "currency": "", "turnaround_days": 0, "description": ""}],
  "website_hints": [""],
  "overall_confidence": 0.0,
  "errors": []
}

Rules:
- Keep price strings exactly as written in the email; do not convert currencies or units.
- Use the sender address for publisher.email unless the email body names a different contact address.
- Lowercase bare domains in website_hints; strip URL schemes and paths.
- If the email is not a publisher offering (spam, auto-reply, unsubscribe), set overall_confidence below 0.3 and explain in errors.`

// buildUserPrompt renders one email into the user turn. Metadata keys are
// sorted so identical requests render identically.
func buildUserPrompt(req ParseRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sender: %s\n", req.SenderEmail)
	if req.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	}
	if len(req.Metadata) > 0 {
		keys := make([]string, 0, len(req.Metadata))
		for k := range req.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, req.Metadata[k])
		}
	}
	b.WriteString("\n--- EMAIL BODY ---\n")
	b.WriteString(req.Text)
	return b.String()
}
