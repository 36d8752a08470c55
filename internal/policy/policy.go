// Package policy implements the declarative enforcement policy: the mapping
// from failure class to severity, action, and detection threshold, plus the
// exemplar texts that seed the tier-2 index. Policies are immutable once
// loaded; hot reload builds a new Policy and publishes it atomically as part
// of a new snapshot.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"promptgate/internal/logging"
	"promptgate/internal/types"
)

// =============================================================================
// DOCUMENT (wire format of policy.yaml)
// =============================================================================

// Document is the parsed form of a policy file.
type Document struct {
	// FailurePolicies maps class name to its policy entry.
	FailurePolicies map[string]Entry `yaml:"failure_policies"`

	// Thresholds are the global tier-2 score thresholds.
	Thresholds Thresholds `yaml:"thresholds"`

	// Tiers toggles stages without code changes.
	Tiers TierFlags `yaml:"tiers"`
}

// Entry is one class's declarative policy.
type Entry struct {
	Severity  types.Severity `yaml:"severity"`
	Action    types.Action   `yaml:"action"`
	Threshold float64        `yaml:"threshold,omitempty"` // 0 = global default
	Reason    string         `yaml:"reason,omitempty"`
	Examples  []string       `yaml:"examples,omitempty"`
	Patterns  []PatternDef   `yaml:"patterns,omitempty"`
}

// PatternDef is a declarative tier-1 pattern. Regex safety is checked when
// the snapshot compiles the pattern set; unsafe patterns abort the reload.
type PatternDef struct {
	ID         string  `yaml:"id"`
	Regex      string  `yaml:"regex"`
	Confidence float64 `yaml:"confidence"`
	Anti       bool    `yaml:"anti,omitempty"`
}

// Thresholds holds the global tier-2 defaults, split by class family.
type Thresholds struct {
	Security float64 `yaml:"security"` // Default: 0.65
	Content  float64 `yaml:"content"`  // Default: 0.70
}

// TierFlags enables or disables stage families from policy.
type TierFlags struct {
	Tier2 *bool `yaml:"tier2,omitempty"`
	Tier3 *bool `yaml:"tier3,omitempty"`
}

// =============================================================================
// POLICY (resolved, immutable)
// =============================================================================

// Rule is the resolved policy for one failure class.
type Rule struct {
	Class     types.FailureClass
	Severity  types.Severity
	Action    types.Action
	Threshold float64
	Reason    string
	Examples  []string
	Patterns  []PatternDef
}

// Policy is the resolved, immutable policy table. Version changes whenever
// any rule or threshold changes, which logically invalidates cache entries.
type Policy struct {
	rules      map[types.FailureClass]Rule
	thresholds Thresholds
	tiers      TierFlags
	version    string
}

// securityClasses are scored against the security threshold; everything else
// uses the content threshold.
var securityClasses = map[types.FailureClass]bool{
	types.FailurePromptInjection:  true,
	types.FailureSQLInjection:     true,
	types.FailureXSS:              true,
	types.FailurePathTraversal:    true,
	types.FailureCommandInjection: true,
	types.FailurePathological:     true,
}

// Rule returns the resolved rule for a class. Unknown classes fall back to a
// medium warn so a stage bug can never produce an unpoliced verdict.
func (p *Policy) Rule(class types.FailureClass) Rule {
	if r, ok := p.rules[class]; ok {
		return r
	}
	return Rule{
		Class:    class,
		Severity: types.SeverityMedium,
		Action:   types.ActionWarn,
		Reason:   "unlisted class, conservative default",
	}
}

// ActionFor returns the enforcement action the policy dictates for a class.
// The policy has the final word over stage-proposed actions.
func (p *Policy) ActionFor(class types.FailureClass) types.Action {
	return p.Rule(class).Action
}

// SeverityFor returns the severity the policy assigns to a class.
func (p *Policy) SeverityFor(class types.FailureClass) types.Severity {
	return p.Rule(class).Severity
}

// ThresholdFor returns the tier-2 score threshold for a class: the per-class
// override when present, otherwise the family default.
func (p *Policy) ThresholdFor(class types.FailureClass) float64 {
	if r, ok := p.rules[class]; ok && r.Threshold > 0 {
		return r.Threshold
	}
	if securityClasses[class] {
		return p.thresholds.Security
	}
	return p.thresholds.Content
}

// Exemplars returns the exemplar texts per class, in stable class order.
func (p *Policy) Exemplars() map[types.FailureClass][]string {
	out := make(map[types.FailureClass][]string)
	for class, r := range p.rules {
		if len(r.Examples) > 0 {
			out[class] = append([]string(nil), r.Examples...)
		}
	}
	return out
}

// PatternDefs returns the declarative tier-1 patterns per class.
func (p *Policy) PatternDefs() map[types.FailureClass][]PatternDef {
	out := make(map[types.FailureClass][]PatternDef)
	for class, r := range p.rules {
		if len(r.Patterns) > 0 {
			out[class] = append([]PatternDef(nil), r.Patterns...)
		}
	}
	return out
}

// Tier2Enabled reports the policy-level tier-2 flag (nil = no opinion).
func (p *Policy) Tier2Enabled(fallback bool) bool {
	if p.tiers.Tier2 != nil {
		return *p.tiers.Tier2
	}
	return fallback
}

// Tier3Enabled reports the policy-level tier-3 flag (nil = no opinion).
func (p *Policy) Tier3Enabled(fallback bool) bool {
	if p.tiers.Tier3 != nil {
		return *p.tiers.Tier3
	}
	return fallback
}

// Version is a content hash of the resolved policy.
func (p *Policy) Version() string {
	return p.version
}

// Classes returns the classes with rules, sorted for deterministic iteration.
func (p *Policy) Classes() []types.FailureClass {
	out := make([]types.FailureClass, 0, len(p.rules))
	for class := range p.rules {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFile parses a policy file and resolves it over the builtin defaults.
// Any parse or validation error leaves the caller's running policy untouched.
func LoadFile(path string) (*Policy, error) {
	timer := logging.StartTimer(logging.CategoryPolicy, "LoadFile")
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return Parse(data)
}

// Parse resolves a policy document over the builtin defaults.
func Parse(data []byte) (*Policy, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return Resolve(&doc)
}

// Resolve validates a document and merges it over the defaults.
func Resolve(doc *Document) (*Policy, error) {
	p := Defaults()

	if doc == nil {
		return p, nil
	}

	for name, entry := range doc.FailurePolicies {
		class := types.FailureClass(name)
		if !types.ValidFailureClass(class) {
			return nil, fmt.Errorf("unknown failure class in policy: %q", name)
		}
		base := p.rules[class]
		merged := base
		if entry.Severity != "" {
			if !types.ValidSeverity(entry.Severity) {
				return nil, fmt.Errorf("invalid severity for %s: %q", name, entry.Severity)
			}
			merged.Severity = entry.Severity
		}
		if entry.Action != "" {
			if !types.ValidAction(entry.Action) {
				return nil, fmt.Errorf("invalid action for %s: %q", name, entry.Action)
			}
			merged.Action = entry.Action
		}
		if entry.Threshold != 0 {
			if entry.Threshold < 0 || entry.Threshold > 1 {
				return nil, fmt.Errorf("threshold out of range for %s: %f", name, entry.Threshold)
			}
			merged.Threshold = entry.Threshold
		}
		if entry.Reason != "" {
			merged.Reason = entry.Reason
		}
		if len(entry.Examples) > 0 {
			merged.Examples = append([]string(nil), entry.Examples...)
		}
		if len(entry.Patterns) > 0 {
			for _, pd := range entry.Patterns {
				if pd.ID == "" || pd.Regex == "" {
					return nil, fmt.Errorf("pattern for %s missing id or regex", name)
				}
				if pd.Confidence <= 0 || pd.Confidence > 1 {
					return nil, fmt.Errorf("pattern %s confidence out of range: %f", pd.ID, pd.Confidence)
				}
			}
			merged.Patterns = append(merged.Patterns, entry.Patterns...)
		}
		if class == types.FailureNone && merged.Action != types.ActionAllow {
			return nil, fmt.Errorf("class none must map to allow, got %q", merged.Action)
		}
		p.rules[class] = merged
	}

	if doc.Thresholds.Security != 0 {
		if doc.Thresholds.Security < 0 || doc.Thresholds.Security > 1 {
			return nil, fmt.Errorf("security threshold out of range: %f", doc.Thresholds.Security)
		}
		p.thresholds.Security = doc.Thresholds.Security
	}
	if doc.Thresholds.Content != 0 {
		if doc.Thresholds.Content < 0 || doc.Thresholds.Content > 1 {
			return nil, fmt.Errorf("content threshold out of range: %f", doc.Thresholds.Content)
		}
		p.thresholds.Content = doc.Thresholds.Content
	}
	p.tiers = doc.Tiers

	p.version = computeVersion(p)
	logging.Policy("Policy resolved: %d classes, version=%s", len(p.rules), p.version[:12])
	return p, nil
}

// computeVersion hashes the resolved policy content. Iteration is sorted so
// the hash is stable across process restarts.
func computeVersion(p *Policy) string {
	h := sha256.New()
	for _, class := range p.Classes() {
		r := p.rules[class]
		fmt.Fprintf(h, "%s|%s|%s|%.4f|%s\n", class, r.Severity, r.Action, r.Threshold, r.Reason)
		for _, ex := range r.Examples {
			fmt.Fprintf(h, "  %s\n", strings.TrimSpace(ex))
		}
		for _, pd := range r.Patterns {
			fmt.Fprintf(h, "  pat|%s|%s|%.4f|%v\n", pd.ID, pd.Regex, pd.Confidence, pd.Anti)
		}
	}
	fmt.Fprintf(h, "thresholds|%.4f|%.4f\n", p.thresholds.Security, p.thresholds.Content)
	if p.tiers.Tier2 != nil {
		fmt.Fprintf(h, "tier2|%v\n", *p.tiers.Tier2)
	}
	if p.tiers.Tier3 != nil {
		fmt.Fprintf(h, "tier3|%v\n", *p.tiers.Tier3)
	}
	return hex.EncodeToString(h.Sum(nil))
}
