// Package caption orders caption events and fans them out to subscribers.
package caption

import (
	"encoding/json"
	"fmt"
)

const (
	TypeCaption = "caption"
	TypeError   = "error"
)

// Event is one caption (or error notice) for an utterance. Seq 0 is reserved
// for session-level notices that are not tied to an utterance.
type Event struct {
	Seq      uint64
	Text     string
	Original string
	IsFinal  bool
	IsError  bool
}

// Caption builds a final caption event.
func Caption(seq uint64, text, original string) Event {
	return Event{Seq: seq, Text: text, Original: original, IsFinal: true}
}

// Errorf builds an error event.
func Errorf(seq uint64, format string, args ...any) Event {
	return Event{Seq: seq, Text: fmt.Sprintf(format, args...), IsFinal: true, IsError: true}
}

// Type returns the wire type of the event.
func (e Event) Type() string {
	if e.IsError {
		return TypeError
	}
	return TypeCaption
}

type wireEvent struct {
	Type     string `json:"type"`
	Seq      uint64 `json:"seq"`
	Text     string `json:"text"`
	Original string `json:"original"`
	IsFinal  bool   `json:"is_final"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:     e.Type(),
		Seq:      e.Seq,
		Text:     e.Text,
		Original: e.Original,
		IsFinal:  e.IsFinal,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Seq:      w.Seq,
		Text:     w.Text,
		Original: w.Original,
		IsFinal:  w.IsFinal,
		IsError:  w.Type == TypeError,
	}
	return nil
}
