package classifier

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

// Marshal snapshots a classifier into a self-describing blob.
func Marshal(c Classifier) ([]byte, error) {
	state, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Type(), err)
	}
	return json.Marshal(envelope{Type: c.Type(), State: state})
}

// Unmarshal restores a classifier written by Marshal.
func Unmarshal(blob []byte) (Classifier, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	blank, ok := blanks[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", ErrCorruptState, env.Type)
	}
	c := blank()
	if len(env.State) == 0 {
		return nil, fmt.Errorf("%w: empty state", ErrCorruptState)
	}
	if err := json.Unmarshal(env.State, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return c, nil
}
