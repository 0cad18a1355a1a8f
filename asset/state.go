package asset

// ProcessingStatus is the lifecycle of one accepted update inside a
// dispatch pass. Handled, Error and Completed are terminal; a state never
// moves backwards.
type ProcessingStatus string

const (
	// StatusPending is the initial status of every accepted update.
	StatusPending ProcessingStatus = "pending"

	// StatusHandled means a consumer claimed the update; the chain stops
	// and no completion event is published.
	StatusHandled ProcessingStatus = "handled"

	// StatusError means a consumer failed or panicked; the chain stops.
	StatusError ProcessingStatus = "error"

	// StatusCompleted means every consumer saw the update; a completion
	// event is published.
	StatusCompleted ProcessingStatus = "completed"
)

// Terminal reports whether the status ends the dispatch pass.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusHandled || s == StatusError || s == StatusCompleted
}

// AssetState is the processing record for one accepted attribute update.
// It snapshots the asset after the update was applied, carries the old
// value for rule and delta evaluation, and collects the outcome of the
// consumer chain.
type AssetState struct {
	// Asset is a deep copy taken after the update was applied. Consumers
	// may read it freely; mutations never reach resident state.
	Asset *Asset

	AttributeName string

	// OldValue and OldTimestamp are the attribute's value and time before
	// this update. OldTimestamp is -1 when the attribute had never been
	// set.
	OldValue     Value
	OldTimestamp int64

	// Value and Timestamp are the applied update.
	Value     Value
	Timestamp int64

	// Northbound is true when the event arrived from a device (sensor
	// subject) rather than a client.
	Northbound bool

	status    ProcessingStatus
	handledBy string
	cause     error
}

// NewAssetState builds the processing record for an applied update.
func NewAssetState(snapshot *Asset, attributeName string, old Value, oldTS int64, value Value, ts int64, northbound bool) *AssetState {
	return &AssetState{
		Asset:         snapshot,
		AttributeName: attributeName,
		OldValue:      old,
		OldTimestamp:  oldTS,
		Value:         value,
		Timestamp:     ts,
		Northbound:    northbound,
		status:        StatusPending,
	}
}

// Ref returns the updated attribute's reference.
func (s *AssetState) Ref() AttributeRef {
	return AttributeRef{AssetID: s.Asset.ID, Name: s.AttributeName}
}

// Attribute returns the updated attribute from the snapshot.
func (s *AssetState) Attribute() *Attribute {
	attr, _ := s.Asset.Attribute(s.AttributeName)
	return attr
}

// Event reconstructs the applied update as an AttributeEvent.
func (s *AssetState) Event() AttributeEvent {
	return AttributeEvent{
		AssetID:   s.Asset.ID,
		Attribute: s.AttributeName,
		Value:     s.Value,
		Timestamp: s.Timestamp,
	}
}

// Status returns the current processing status.
func (s *AssetState) Status() ProcessingStatus {
	return s.status
}

// HandledBy names the consumer that claimed or failed the update.
func (s *AssetState) HandledBy() string {
	return s.handledBy
}

// Cause returns the failure recorded by SetError.
func (s *AssetState) Cause() error {
	return s.cause
}

// SetHandled claims the update for the named consumer. It is a no-op once
// the status is terminal.
func (s *AssetState) SetHandled(consumer string) {
	if s.status.Terminal() {
		return
	}
	s.status = StatusHandled
	s.handledBy = consumer
}

// SetError records a consumer failure. It is a no-op once the status is
// terminal.
func (s *AssetState) SetError(consumer string, cause error) {
	if s.status.Terminal() {
		return
	}
	s.status = StatusError
	s.handledBy = consumer
	s.cause = cause
}

// SetCompleted marks the pass complete. It is a no-op once the status is
// terminal.
func (s *AssetState) SetCompleted() {
	if s.status.Terminal() {
		return
	}
	s.status = StatusCompleted
}

// ValueChanged reports whether the update changed the attribute's value.
func (s *AssetState) ValueChanged() bool {
	return !s.Value.Equal(s.OldValue)
}
