package device

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	contentTypeSingle = "application/json"
	contentTypeBatch  = "application/vnd.microsoft.iothub.json"

	propertyCorrelationID = "iothub-correlationid"
	propertyMessageID     = "iothub-messageid"
)

// envelope is the wire frame for one telemetry message.
type envelope struct {
	Body          interface{}       `json:"body"`
	Base64Encoded bool              `json:"base64Encoded"`
	Properties    map[string]string `json:"properties"`
}

// buildSingle frames one payload. A single message carries the same
// fresh identifier as correlation id and message id.
func buildSingle(payload interface{}) (envelope, string) {
	cid := uuid.New().String()
	return envelope{
		Body:          payload,
		Base64Encoded: false,
		Properties: map[string]string{
			propertyCorrelationID: cid,
			propertyMessageID:     cid,
		},
	}, cid
}

// buildBatch frames an ordered sequence of payloads. All elements of
// the batch share one correlation id; every element gets its own
// message id. Element bodies are serialized and base64-encoded
// individually. An empty sequence yields an empty array, which the
// service accepts with a count of zero.
func buildBatch(payloads []interface{}) ([]envelope, string, error) {
	cid := uuid.New().String()
	batch := make([]envelope, 0, len(payloads))
	for i, payload := range payloads {
		text, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("batch element %d: %w", i, err)
		}
		batch = append(batch, envelope{
			Body:          base64.StdEncoding.EncodeToString(text),
			Base64Encoded: true,
			Properties: map[string]string{
				propertyCorrelationID: cid,
				propertyMessageID:     uuid.New().String(),
			},
		})
	}
	return batch, cid, nil
}
