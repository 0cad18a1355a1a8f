package macro

import (
	"encoding/json"
	"fmt"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/protocol"
)

// wireAction is the payload form of one action. Target is an
// "assetID:attribute" reference string.
type wireAction struct {
	Target  string      `json:"target"`
	Value   asset.Value `json:"value,omitempty"`
	DelayMs int64       `json:"delayMs,omitempty"`
}

// DecodeActions parses a macro configuration payload into its ordered action
// list. Every failure wraps errors.ErrInvalidProtocolConfig so the link
// registry degrades the configuration instead of failing the caller. A macro
// without actions is invalid.
func DecodeActions(payload asset.Value) ([]protocol.Action, error) {
	if payload.IsNil() {
		return nil, errors.WrapInvalid(errors.ErrInvalidProtocolConfig, "MacroProtocol", "DecodeActions", "empty payload")
	}

	var wire []wireAction
	if err := json.Unmarshal(payload, &wire); err != nil {
		msg := fmt.Errorf("%w: %v", errors.ErrInvalidProtocolConfig, err)
		return nil, errors.WrapInvalid(msg, "MacroProtocol", "DecodeActions", "payload parse")
	}
	if len(wire) == 0 {
		msg := fmt.Errorf("%w: macro has no actions", errors.ErrInvalidProtocolConfig)
		return nil, errors.WrapInvalid(msg, "MacroProtocol", "DecodeActions", "action count check")
	}

	actions := make([]protocol.Action, len(wire))
	for i, w := range wire {
		ref, err := asset.ParseRef(w.Target)
		if err != nil {
			msg := fmt.Errorf("%w: action %d: %v", errors.ErrInvalidProtocolConfig, i, err)
			return nil, errors.WrapInvalid(msg, "MacroProtocol", "DecodeActions", "action target parse")
		}
		actions[i] = protocol.Action{
			Target:  ref,
			Value:   w.Value.Copy(),
			DelayMs: w.DelayMs,
		}
	}
	return actions, nil
}

// EncodeActions renders an action list back to the payload form. Encoding
// then decoding preserves order and values.
func EncodeActions(actions []protocol.Action) (asset.Value, error) {
	wire := make([]wireAction, len(actions))
	for i, a := range actions {
		wire[i] = wireAction{
			Target:  a.Target.String(),
			Value:   a.Value,
			DelayMs: a.DelayMs,
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.WrapInvalid(err, "MacroProtocol", "EncodeActions", "payload encode")
	}
	return asset.Value(data), nil
}
