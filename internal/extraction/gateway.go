package extraction

import (
	"context"
)

// ResultVersion is stamped on every extraction result so stored parsed
// payloads can be re-read after the schema evolves.
const ResultVersion = 1

// ParseRequest carries one email's content into the gateway.
type ParseRequest struct {
	Text        string
	SenderEmail string
	Subject     string
	Metadata    map[string]string
}

// PublisherFields are the identity fields extracted from the email.
type PublisherFields struct {
	Email       string `json:"email"`
	ContactName string `json:"contact_name"`
	CompanyName string `json:"company_name"`
}

// ExtractedOffering is one priced service mentioned in the email. Price is
// kept as the raw extracted string ("$350", "350.00", "USD 350"); conversion
// to minor units happens at migration time.
type ExtractedOffering struct {
	OfferingType   string `json:"offering_type"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
	TurnaroundDays int    `json:"turnaround_days"`
	Description    string `json:"description"`
}

// ExtractionResultV1 is the gateway's output, persisted verbatim as the
// processing log's parsed result.
type ExtractionResultV1 struct {
	Version           int                 `json:"version"`
	Publisher         PublisherFields     `json:"publisher"`
	Offerings         []ExtractedOffering `json:"offerings"`
	WebsiteHints      []string            `json:"website_hints"`
	OverallConfidence float64             `json:"overall_confidence"`
	Errors            []string            `json:"errors,omitempty"`
}

// Gateway turns raw email text into structured publisher data.
type Gateway interface {
	Parse(ctx context.Context, req ParseRequest) (*ExtractionResultV1, error)
}
