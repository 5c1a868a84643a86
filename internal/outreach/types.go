package outreach

import "time"

// Message types as the outreach provider reports them.
const (
	MessageTypeSent  = "SENT"
	MessageTypeReply = "REPLY"
)

// Campaign is one outreach campaign.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Prospect is one recipient within a campaign.
type Prospect struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Company    string `json:"company"`
	Website    string `json:"website"`
	CampaignID string `json:"campaign_id"`
	Replied    bool   `json:"replied"`
	ReplyCount int    `json:"reply_count"`
}

// ThreadMessage is one message in a prospect's conversation thread.
type ThreadMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	HTMLBody  string    `json:"html_body"`
	Timestamp time.Time `json:"timestamp"`
}

// IsReply reports whether this message came from the prospect.
func (m ThreadMessage) IsReply() bool {
	return m.Type == MessageTypeReply
}

type prospectListResponse struct {
	Prospects []Prospect `json:"prospects"`
	Total     int        `json:"total"`
}

type threadResponse struct {
	Messages []ThreadMessage `json:"messages"`
}

type campaignListResponse struct {
	Campaigns []Campaign `json:"campaigns"`
}
