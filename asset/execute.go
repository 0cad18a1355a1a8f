package asset

// ExecuteStatus is the value vocabulary of executable attributes. Clients
// write one of the request statuses; the owning protocol reports progress
// by publishing the remaining statuses northbound.
type ExecuteStatus string

const (
	// Reported by the protocol.
	ExecuteReady     ExecuteStatus = "READY"
	ExecuteDisabled  ExecuteStatus = "DISABLED"
	ExecuteRunning   ExecuteStatus = "RUNNING"
	ExecuteCompleted ExecuteStatus = "COMPLETED"
	ExecuteCancelled ExecuteStatus = "CANCELLED"

	// Written by clients to request an action.
	ExecuteRequestStart     ExecuteStatus = "REQUEST_START"
	ExecuteRequestRepeating ExecuteStatus = "REQUEST_REPEATING"
	ExecuteRequestCancel    ExecuteStatus = "REQUEST_CANCEL"
)

var executeStatuses = []ExecuteStatus{
	ExecuteReady,
	ExecuteDisabled,
	ExecuteRunning,
	ExecuteCompleted,
	ExecuteCancelled,
	ExecuteRequestStart,
	ExecuteRequestRepeating,
	ExecuteRequestCancel,
}

func executeStatusNames() []string {
	names := make([]string, len(executeStatuses))
	for i, s := range executeStatuses {
		names[i] = string(s)
	}
	return names
}

// ParseExecuteStatus maps a string onto a known ExecuteStatus.
func ParseExecuteStatus(s string) (ExecuteStatus, bool) {
	for _, st := range executeStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// ExecuteStatusFromValue decodes a JSON string value into an ExecuteStatus.
func ExecuteStatusFromValue(v Value) (ExecuteStatus, bool) {
	s, ok := v.AsString()
	if !ok {
		return "", false
	}
	return ParseExecuteStatus(s)
}

// IsWriteRequest reports whether the status is one a client may write to
// an executable attribute. All other statuses are protocol-reported and
// rejected on the southbound path.
func (s ExecuteStatus) IsWriteRequest() bool {
	switch s {
	case ExecuteRequestStart, ExecuteRequestRepeating, ExecuteRequestCancel:
		return true
	default:
		return false
	}
}

// Value encodes the status as a JSON string value.
func (s ExecuteStatus) Value() Value {
	return StringValue(string(s))
}

// String returns the wire name of the status.
func (s ExecuteStatus) String() string {
	return string(s)
}
