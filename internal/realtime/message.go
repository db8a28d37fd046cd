package realtime

import (
	"encoding/json"
	"errors"
)

// AlertMessage is the reserved message type that also feeds the alert toast surface.
const AlertMessage = "alert"

var errNoMessageType = errors.New("frame has no message type")

// Message is one decoded inbound frame: {"message": <type>, "data": <payload>}.
type Message struct {
	Type string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

// AlertDisplay describes how an alert toast is rendered.
type AlertDisplay struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// Alert is the payload of an "alert" frame.
type Alert struct {
	Content      string        `json:"content"`
	GuestID      string        `json:"guest_id,omitempty"`
	Notification *AlertDisplay `json:"notification,omitempty"`
}

// decodeFrame parses a raw frame. Frames that are not JSON objects or carry no
// string message type are rejected.
func decodeFrame(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errNoMessageType
	}
	return msg, nil
}

// UnmarshalJSON accepts guest_id as a string or a number.
func (a *Alert) UnmarshalJSON(b []byte) error {
	var raw struct {
		Content      string          `json:"content"`
		GuestID      json.RawMessage `json:"guest_id"`
		Notification *AlertDisplay   `json:"notification"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Alert{Content: raw.Content, Notification: raw.Notification}
	if len(raw.GuestID) == 0 || string(raw.GuestID) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.GuestID, &s); err == nil {
		a.GuestID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.GuestID, &n); err != nil {
		return err
	}
	a.GuestID = n.String()
	return nil
}

// decodeAlert extracts the alert payload of an alert frame.
func decodeAlert(data json.RawMessage) (Alert, error) {
	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return Alert{}, err
	}
	return a, nil
}
