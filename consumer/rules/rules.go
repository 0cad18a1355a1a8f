// Package rules evaluates JavaScript when/then rules against accepted
// attribute updates and emits the resulting attribute writes.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

// EventSender delivers the attribute writes a matched rule emits. The
// processing service's southbound entry point satisfies it.
type EventSender interface {
	SendAttributeEvent(ctx context.Context, event asset.AttributeEvent) error
}

// Rule is one when/then rule. When is a JavaScript expression evaluated
// against the update; a truthy result emits every write in Then.
//
// The expression sees five bindings: asset {id, name, kind}, attribute (the
// updated attribute's name), value, oldValue, and facts (the fact map keyed
// by "assetID:attribute").
type Rule struct {
	Name string  `json:"name"`
	When string  `json:"when"`
	Then []Write `json:"then"`
}

// Write is one attribute write emitted by a matched rule.
type Write struct {
	Target string      `json:"target"` // "assetID:attribute"
	Value  asset.Value `json:"value,omitempty"`
}

type compiledWrite struct {
	target asset.AttributeRef
	value  asset.Value
}

type compiledRule struct {
	name    string
	program *goja.Program
	then    []compiledWrite
}

// Consumer keeps the installed rules and a fact map of RuleState-flagged
// attribute values, and evaluates every rule against every record it sees.
// Rule failures are contained: logged and counted, never failing the record.
// The consumer never claims a record.
type Consumer struct {
	sender  EventSender
	logger  *slog.Logger
	metrics *rulesMetrics

	mu    sync.RWMutex
	rules []*compiledRule
	facts map[asset.AttributeRef]any
}

// New creates the rules consumer.
func New(sender EventSender, logger *slog.Logger, registry *metric.MetricsRegistry) (*Consumer, error) {
	if sender == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "RulesConsumer", "New", "event sender validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		sender:  sender,
		logger:  logger.With("consumer", "rules"),
		metrics: newRulesMetrics(registry),
		facts:   make(map[asset.AttributeRef]any),
	}, nil
}

// Name identifies the consumer in dispatch outcomes.
func (c *Consumer) Name() string {
	return "rules"
}

// Install compiles and adds a rule. Installing a rule with an existing name
// replaces it, so re-applying a provisioning catalog is idempotent.
func (c *Consumer) Install(rule Rule) error {
	if rule.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "RulesConsumer", "Install", "rule name required")
	}
	if strings.TrimSpace(rule.When) == "" {
		msg := fmt.Errorf("%w: rule %q has no condition", errors.ErrInvalidConfig, rule.Name)
		return errors.WrapInvalid(msg, "RulesConsumer", "Install", "condition check")
	}

	program, err := compileCondition(rule.Name, rule.When)
	if err != nil {
		msg := fmt.Errorf("%w: rule %q: %v", errors.ErrInvalidConfig, rule.Name, err)
		return errors.WrapInvalid(msg, "RulesConsumer", "Install", "condition compile")
	}

	then := make([]compiledWrite, len(rule.Then))
	for i, w := range rule.Then {
		target, err := asset.ParseRef(w.Target)
		if err != nil {
			msg := fmt.Errorf("%w: rule %q then[%d]: %v", errors.ErrInvalidConfig, rule.Name, i, err)
			return errors.WrapInvalid(msg, "RulesConsumer", "Install", "write target parse")
		}
		then[i] = compiledWrite{target: target, value: w.Value.Copy()}
	}

	compiled := &compiledRule{name: rule.Name, program: program, then: then}

	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := false
	for i, r := range c.rules {
		if r.name == rule.Name {
			c.rules[i] = compiled
			replaced = true
			break
		}
	}
	if !replaced {
		c.rules = append(c.rules, compiled)
	}
	c.metrics.setActiveRules(len(c.rules))

	c.logger.Info("rule installed", "rule", rule.Name, "replaced", replaced, "writes", len(then))
	return nil
}

// Remove uninstalls a rule by name and reports whether it existed.
func (c *Consumer) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.rules {
		if r.name == name {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			c.metrics.setActiveRules(len(c.rules))
			c.logger.Info("rule removed", "rule", name)
			return true
		}
	}
	return false
}

// RuleNames returns the installed rule names in sorted order.
func (c *Consumer) RuleNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.name
	}
	sort.Strings(names)
	return names
}

// Fact returns the remembered value of a RuleState-flagged attribute.
func (c *Consumer) Fact(ref asset.AttributeRef) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.facts[ref]
	return v, ok
}

// Accept updates the fact map and evaluates every installed rule against the
// record. It always returns nil; rules cannot fail or claim a record.
func (c *Consumer) Accept(ctx context.Context, state *asset.AssetState) error {
	attr := state.Attribute()
	if attr == nil {
		return nil
	}

	ref := state.Ref()

	c.mu.Lock()
	if attr.Meta.RuleState {
		c.facts[ref] = decodeValue(state.Value)
	}
	rules := make([]*compiledRule, len(c.rules))
	copy(rules, c.rules)
	facts := make(map[string]any, len(c.facts))
	for k, v := range c.facts {
		facts[k.String()] = v
	}
	c.mu.Unlock()

	if len(rules) == 0 {
		return nil
	}

	scope := map[string]any{
		"asset": map[string]any{
			"id":   state.Asset.ID,
			"name": state.Asset.Name,
			"kind": string(state.Asset.Kind),
		},
		"attribute": state.AttributeName,
		"value":     decodeValue(state.Value),
		"oldValue":  decodeValue(state.OldValue),
		"facts":     facts,
	}

	for _, rule := range rules {
		matched, err := evaluate(rule.program, scope)
		if err != nil {
			c.metrics.recordEvaluation(rule.name, "error")
			c.logger.Warn("rule evaluation failed", "rule", rule.name, "error", err)
			continue
		}
		if !matched {
			c.metrics.recordEvaluation(rule.name, "unmatched")
			continue
		}
		c.metrics.recordEvaluation(rule.name, "matched")
		c.emit(ctx, rule)
	}
	return nil
}

// emit sends the matched rule's writes. Send failures are contained per
// write so one broken target does not starve the rest.
func (c *Consumer) emit(ctx context.Context, rule *compiledRule) {
	for _, w := range rule.then {
		event := asset.NewAttributeEvent(w.target, w.value)
		if err := c.sender.SendAttributeEvent(ctx, event); err != nil {
			c.metrics.recordEvaluation(rule.name, "send_error")
			c.logger.Warn("rule write send failed",
				"rule", rule.name, "target", w.target.String(), "error", err)
			continue
		}
		c.metrics.recordWrite(rule.name)
	}
}

// decodeValue turns a raw JSON value into the native form goja binds.
func decodeValue(v asset.Value) any {
	if v.IsNil() {
		return nil
	}
	var out any
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}
