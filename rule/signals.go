package rule

import (
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	"github.com/zoobzio/augmentor/element"
)

// Metric keys for Engine observability.
const (
	EngineElementsStartedTotal = metricz.Key("rule.engine.elements.started.total")
	EngineElementsDoneTotal    = metricz.Key("rule.engine.elements.done.total")
	EngineRulesFiredTotal      = metricz.Key("rule.engine.rules.fired.total")
	EngineGroupsAdvancedTotal  = metricz.Key("rule.engine.groups.advanced.total")
	EngineRemoteCastsTotal     = metricz.Key("rule.engine.remote_casts.total")
)

// Span name for one element's full traversal.
const engineRunSpan = tracez.Key("rule.run")

// Span tags.
const (
	engineTagGroupTag  = tracez.Tag("rule.group_tag")
	engineTagRuleName  = tracez.Tag("rule.rule_name")
	engineTagRemote    = tracez.Tag("rule.remote")
	engineTagCrashedAt = tracez.Tag("rule.crashed_at")
)

// Signal constants for rule-traversal structural events.
const (
	SignalRuleFired     capitan.Signal = "rule.fired"
	SignalGroupAdvanced capitan.Signal = "rule.group_advanced"
	SignalRuleCrashed   capitan.Signal = "rule.crashed"
)

// Field keys used with the signals above.
var (
	FieldRuleName = capitan.NewStringKey("rule_name")
	FieldGroupTag = capitan.NewStringKey("group_tag")
	FieldRemote   = capitan.NewStringKey("remote")
)

// Hook event keys for async, optional observers.
const (
	EventRuleFired hookz.Key = "rule.fired"
)

// RuleEvent is delivered to hookz listeners whenever a rule fires.
type RuleEvent struct {
	RuleName  string
	GroupTag  element.Tag
	Remote    bool
	Timestamp time.Time
}
