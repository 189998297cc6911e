package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const TransferShared EventType = "transfer.shared"

// Event is the payload published for each recipient of a new transfer. A
// mail relay consumes the topic and renders the message.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Recipient string    `json:"recipient"`
	Data      Transfer  `json:"data"`
}

// Transfer is what a recipient needs to know about a share.
type Transfer struct {
	SenderEmail  string    `json:"senderEmail"`
	Title        string    `json:"title"`
	Message      string    `json:"message,omitempty"`
	DownloadLink string    `json:"downloadLink"`
	FileCount    int       `json:"fileCount"`
	ExpiresAt    time.Time `json:"expiresAt"`
	HasPassword  bool      `json:"hasPassword"`
	// Password is forwarded in clear so the relay can include it in the mail.
	Password string `json:"password,omitempty"`
}

func NewEvent(source, recipient string, data Transfer) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:        fmt.Sprintf("evt_%d", now.UnixNano()),
		Type:      TransferShared,
		Timestamp: now,
		Source:    source,
		Recipient: recipient,
		Data:      data,
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Subject is the mail subject line the relay uses for this event.
func (t Transfer) Subject() string {
	plural := ""
	if t.FileCount != 1 {
		plural = "s"
	}
	return fmt.Sprintf("%s sent you %d file%s", t.SenderEmail, t.FileCount, plural)
}
