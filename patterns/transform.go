package patterns

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/scttfrdmn/investdesk/desk"
)

// TransformFunc turns a caller's task value into the seed message of a
// session.
type TransformFunc func(task any) (desk.Message, error)

// Correlated is implemented by task values that carry their own session id.
type Correlated interface {
	CorrelationID() string
}

// JSONTransform encodes task as JSON into the message content and decodes
// the same JSON into the payload. The correlation id comes from the task
// when it implements Correlated, otherwise a new UUID is used. A
// desk.Message or string task is used as is.
func JSONTransform(task any) (desk.Message, error) {
	switch t := task.(type) {
	case nil:
		return desk.Message{}, desk.NewConfigurationError("task is required", nil)
	case desk.Message:
		if t.CorrelationID == "" {
			t.CorrelationID = uuid.NewString()
		}
		return t, nil
	case string:
		return desk.NewMessage(uuid.NewString(), t), nil
	}

	data, err := json.Marshal(task)
	if err != nil {
		return desk.Message{}, fmt.Errorf("failed to encode task: %w", err)
	}

	id := ""
	if c, ok := task.(Correlated); ok {
		id = c.CorrelationID()
	}
	if id == "" {
		id = uuid.NewString()
	}

	msg := desk.NewMessage(id, string(data))
	msg.Sender = "user"
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err == nil {
		msg.Payload = payload
	}
	return msg, nil
}
