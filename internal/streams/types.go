package streams

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Stream name constants
const (
	StreamPipelineEvents = "pipeline:events"
)

// Consumer group constants
const (
	GroupAPIFollowers = "api-followers"
)

// Schema version constant
const (
	SchemaVersionV1 = "v1"
)

// eventValues builds the XADD field map for ev
func eventValues(ev pipeline.Event) (map[string]interface{}, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return map[string]interface{}{
		"payload":        string(payload),
		"published_at":   time.Now().Unix(),
		"schema_version": SchemaVersionV1,
	}, nil
}

// decodeEvent reads the event back out of a stream message's fields
func decodeEvent(values map[string]interface{}) (pipeline.Event, error) {
	var ev pipeline.Event
	if v, ok := values["schema_version"].(string); ok && v != SchemaVersionV1 {
		return ev, fmt.Errorf("unsupported schema version %q", v)
	}
	payload, ok := values["payload"].(string)
	if !ok {
		return ev, fmt.Errorf("message has no payload")
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
