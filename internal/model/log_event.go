// internal/model/log_event.go
package model

import "time"

// Direction tells whether a line went to or came from the instrument
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// LogEvent records one line exchanged with the instrument
type LogEvent struct {
	Seq       uint64    `json:"seq"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// String renders the event the way an operator console shows it
func (e LogEvent) String() string {
	if e.Direction == DirectionSent {
		return "-> " + e.Text
	}
	return "<- " + e.Text
}
