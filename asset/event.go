package asset

import (
	"encoding/json"
	"fmt"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/pkg/timestamp"
)

// AttributeEvent is a request to update one attribute. Events arrive on the
// sensor subjects (northbound, device origin) or the client subject
// (southbound, user origin); the direction is carried by the transport, not
// the payload.
type AttributeEvent struct {
	AssetID   string `json:"assetId"`
	Attribute string `json:"attribute"`
	Value     Value  `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewAttributeEvent builds an event stamped with the current time.
func NewAttributeEvent(ref AttributeRef, value Value) AttributeEvent {
	return NewAttributeEventAt(ref, value, timestamp.Now())
}

// NewAttributeEventAt builds an event with an explicit Unix-ms timestamp.
func NewAttributeEventAt(ref AttributeRef, value Value, ts int64) AttributeEvent {
	return AttributeEvent{
		AssetID:   ref.AssetID,
		Attribute: ref.Name,
		Value:     value,
		Timestamp: ts,
	}
}

// Ref returns the target attribute reference.
func (e AttributeEvent) Ref() AttributeRef {
	return AttributeRef{AssetID: e.AssetID, Name: e.Attribute}
}

// Validate checks the event addresses an attribute and carries a timestamp.
func (e AttributeEvent) Validate() error {
	if e.AssetID == "" || e.Attribute == "" {
		return fmt.Errorf("%w: event missing asset ID or attribute name", errors.ErrInvalidData)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: event has no timestamp", errors.ErrInvalidData)
	}
	return nil
}

// Encode marshals the event for the wire.
func (e AttributeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeAttributeEvent unmarshals a wire payload. Events without a
// timestamp are stamped on arrival; sensor adapters that cannot read a
// device clock omit the field.
func DecodeAttributeEvent(data []byte) (AttributeEvent, error) {
	var e AttributeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return AttributeEvent{}, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if e.AssetID == "" || e.Attribute == "" {
		return AttributeEvent{}, fmt.Errorf("%w: event missing asset ID or attribute name", errors.ErrInvalidData)
	}
	if e.Timestamp == 0 {
		e.Timestamp = timestamp.Now()
	}
	return e, nil
}

// CompletionEvent is published on the completed subject after every
// consumer has seen an accepted update without claiming or failing it.
type CompletionEvent struct {
	AssetID   string `json:"assetId"`
	Attribute string `json:"attribute"`
	Value     Value  `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Completion derives the completion payload from an accepted event.
func (e AttributeEvent) Completion() CompletionEvent {
	return CompletionEvent{
		AssetID:   e.AssetID,
		Attribute: e.Attribute,
		Value:     e.Value,
		Timestamp: e.Timestamp,
	}
}
