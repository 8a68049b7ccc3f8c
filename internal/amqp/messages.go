package amqp

import (
	"encoding/json"
	"time"
)

// DraftQueuedMessage tells the worker that a parked draft is waiting for
// an exchange rate. It carries only the draft key; the worker loads the
// draft itself from storage so stale messages never replay stale data.
type DraftQueuedMessage struct {
	DraftKey  string    `json:"draft_key"`
	Timestamp time.Time `json:"timestamp"`
}

func NewDraftQueuedMessage(draftKey string) *DraftQueuedMessage {
	return &DraftQueuedMessage{
		DraftKey:  draftKey,
		Timestamp: time.Now(),
	}
}

func (m *DraftQueuedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func DraftQueuedMessageFromJSON(data []byte) (*DraftQueuedMessage, error) {
	var msg DraftQueuedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
