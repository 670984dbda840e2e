package notify

import (
	"encoding/json"

	"bazaar/internal/market"
)

// Envelope is the wire form of an event addressed to one recipient.
type Envelope struct {
	RecipientID string       `json:"recipient_id"`
	Event       market.Event `json:"event"`
}

func encode(recipientID string, event market.Event) ([]byte, error) {
	return json.Marshal(Envelope{RecipientID: recipientID, Event: event})
}
