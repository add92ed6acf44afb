package models

import (
	"encoding/json"
)

// Frame is the envelope written on the realtime channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EventName returns the realtime event a user of type t listens on.
func EventName(t UserType) string {
	return string(t) + "_message"
}

// NewMessageFrame wraps msg for delivery to a user of type t.
func NewMessageFrame(t UserType, msg *Message) (Frame, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: EventName(t), Data: data}, nil
}
