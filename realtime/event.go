// Package realtime carries the store's change feed over websockets, so a
// client on the other side of the relay observes the same row-level events
// as one sharing the store's process.
package realtime

import (
	"encoding/json"
	"fmt"

	"example.com/playchat/models"
	"example.com/playchat/store"
)

// wireEvent is the JSON framing of a change event. New and Old stay raw
// until the collection is known, then decode into the collection's model
// type.
type wireEvent struct {
	Type       string            `json:"type"`
	Collection string            `json:"collection"`
	New        json.RawMessage   `json:"new,omitempty"`
	Old        json.RawMessage   `json:"old,omitempty"`
	Keys       map[string]string `json:"keys"`
}

func (e *wireEvent) decode() (store.ChangeEvent, error) {
	event := store.ChangeEvent{
		Type:       e.Type,
		Collection: e.Collection,
		Keys:       e.Keys,
	}

	decodeRecord := func(raw json.RawMessage) (any, error) {
		if raw == nil {
			return nil, nil
		}
		switch e.Collection {
		case store.Profiles:
			record := &models.Profile{}
			return record, json.Unmarshal(raw, record)
		case store.Rooms:
			record := &models.Room{}
			return record, json.Unmarshal(raw, record)
		case store.Messages:
			record := &models.Message{}
			return record, json.Unmarshal(raw, record)
		case store.Games:
			record := &models.Game{}
			return record, json.Unmarshal(raw, record)
		default:
			return nil, fmt.Errorf("unknown collection: %q", e.Collection)
		}
	}

	var err error
	if event.New, err = decodeRecord(e.New); err != nil {
		return event, fmt.Errorf("decode new record: %w", err)
	}
	if event.Old, err = decodeRecord(e.Old); err != nil {
		return event, fmt.Errorf("decode old record: %w", err)
	}

	return event, nil
}
