package asset

// Meta carries the per-attribute flags and links that steer the pipeline.
// The zero Meta is a plain writable attribute with no consumer interest.
type Meta struct {
	// ReadOnly rejects client (southbound) writes. Northbound sensor
	// updates still apply.
	ReadOnly bool `json:"readOnly,omitempty"`

	// Executable marks the attribute as an action trigger: the only
	// accepted client writes are ExecuteStatus request values.
	Executable bool `json:"executable,omitempty"`

	// RuleState feeds accepted updates to the rules consumer.
	RuleState bool `json:"ruleState,omitempty"`

	// StoreDatapoints appends accepted updates to the datapoint history.
	StoreDatapoints bool `json:"storeDatapoints,omitempty"`

	// AgentLink names the protocol configuration attribute this attribute
	// is linked to, in AttributeRef string form ("agentID:configName").
	AgentLink string `json:"agentLink,omitempty"`

	// ActionIndex binds the attribute to one action of a linked macro.
	// Reading reflects that action's value; writing updates it.
	ActionIndex *int `json:"actionIndex,omitempty"`
}

// HasAgentLink reports whether the attribute is linked to a protocol
// configuration.
func (m Meta) HasAgentLink() bool {
	return m.AgentLink != ""
}

// AgentLinkRef parses the AgentLink into an AttributeRef.
func (m Meta) AgentLinkRef() (AttributeRef, bool) {
	if m.AgentLink == "" {
		return AttributeRef{}, false
	}
	ref, err := ParseRef(m.AgentLink)
	if err != nil {
		return AttributeRef{}, false
	}
	return ref, true
}

// Attribute is a named, typed value slot on an asset. Timestamp is the
// Unix-ms time of the last applied update; a negative Timestamp means the
// attribute has never been set and the ordering check does not apply yet.
type Attribute struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Value     Value  `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Meta      Meta   `json:"meta,omitempty"`
}

// NewAttribute builds an attribute that has never been set.
func NewAttribute(name, typeName string) *Attribute {
	return &Attribute{Name: name, Type: typeName, Timestamp: -1}
}

// HasValue reports whether a value is currently present.
func (a *Attribute) HasValue() bool {
	return !a.Value.IsNil()
}

// HasTimestamp reports whether an update has ever been applied.
func (a *Attribute) HasTimestamp() bool {
	return a.Timestamp >= 0
}

// SetValue validates v against the attribute's value descriptor and applies
// it together with the update timestamp. A nil v clears the value. The
// returned error wraps errors.ErrConstraintViolation and leaves the
// attribute unchanged.
func (a *Attribute) SetValue(v Value, ts int64) error {
	if err := ValidateForType(a.Type, v); err != nil {
		return err
	}
	a.Value = v
	a.Timestamp = ts
	return nil
}

// Copy returns a deep copy of the attribute.
func (a *Attribute) Copy() *Attribute {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Value = a.Value.Copy()
	if a.Meta.ActionIndex != nil {
		idx := *a.Meta.ActionIndex
		cp.Meta.ActionIndex = &idx
	}
	return &cp
}
