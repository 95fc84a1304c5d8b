package scheduler

import "strings"

// Subagent tags understood by the qoder agent.
const (
	SubagentDiscovery     = "discovery-specialist"
	SubagentArchitect     = "architect"
	SubagentBackend       = "backend-dev"
	SubagentFrontend      = "frontend-dev"
	SubagentDatabase      = "database-specialist"
	SubagentTesting       = "testing-specialist"
	SubagentDevOps        = "devops-specialist"
	SubagentSecurity      = "security-specialist"
	SubagentDocumentation = "documentation-specialist"
	SubagentAPI           = "api-designer"
	SubagentPerformance   = "performance-specialist"
	SubagentMigration     = "migration-specialist"
)

// Subagents lists every known subagent tag.
var Subagents = []string{
	SubagentArchitect, SubagentBackend, SubagentFrontend, SubagentDatabase,
	SubagentTesting, SubagentDevOps, SubagentSecurity, SubagentDocumentation,
	SubagentAPI, SubagentPerformance, SubagentMigration, SubagentDiscovery,
}

// Predicate decides whether a rule applies to a task.
type Predicate func(t *Task) bool

// Rule maps a predicate to a tag.
type Rule struct {
	Name  string
	Match Predicate
	Tag   string
}

// Rules is an ordered rule table. The first matching rule wins; Default
// applies when none match.
type Rules struct {
	Rules   []Rule
	Default string
}

// Assign returns the tag of the first rule matching t.
func (r Rules) Assign(t *Task) string {
	for _, rule := range r.Rules {
		if rule.Match != nil && rule.Match(t) {
			return rule.Tag
		}
	}
	return r.Default
}

// Matches reports whether any rule other than the default matches t.
func (r Rules) Matches(t *Task) bool {
	for _, rule := range r.Rules {
		if rule.Match != nil && rule.Match(t) {
			return true
		}
	}
	return false
}

// DescriptionHas matches tasks whose description contains any keyword,
// case-insensitively.
func DescriptionHas(keywords ...string) Predicate {
	return func(t *Task) bool {
		desc := strings.ToLower(t.Description)
		for _, kw := range keywords {
			if strings.Contains(desc, kw) {
				return true
			}
		}
		return false
	}
}

// ComponentIs matches tasks whose component equals one of names.
func ComponentIs(names ...string) Predicate {
	return func(t *Task) bool {
		c := strings.ToLower(t.Component)
		for _, n := range names {
			if c == n {
				return true
			}
		}
		return false
	}
}

// SubagentIs matches tasks already tagged with one of tags.
func SubagentIs(tags ...string) Predicate {
	return func(t *Task) bool {
		for _, tag := range tags {
			if t.Subagent == tag {
				return true
			}
		}
		return false
	}
}

// Any matches when at least one predicate matches.
func Any(preds ...Predicate) Predicate {
	return func(t *Task) bool {
		for _, p := range preds {
			if p(t) {
				return true
			}
		}
		return false
	}
}

// DefaultSubagentRules assigns a subagent to tasks the planner left untagged.
// Order matters: discovery and design work is recognised before the
// component-based fallbacks.
var DefaultSubagentRules = Rules{
	Rules: []Rule{
		{Name: "discovery", Tag: SubagentDiscovery, Match: DescriptionHas("audit", "discover", "investigate", "research", "identify gaps", "analyze existing")},
		{Name: "migration", Tag: SubagentMigration, Match: DescriptionHas("migrate", "migration", "port ")},
		{Name: "security", Tag: SubagentSecurity, Match: DescriptionHas("security", "auth", "vulnerab", "permission")},
		{Name: "database", Tag: SubagentDatabase, Match: Any(ComponentIs("database", "db"), DescriptionHas("schema", "database", "table", "sql"))},
		{Name: "testing", Tag: SubagentTesting, Match: Any(ComponentIs("tests", "testing"), DescriptionHas("test", "coverage"))},
		{Name: "devops", Tag: SubagentDevOps, Match: Any(ComponentIs("infra", "devops"), DescriptionHas("deploy", "docker", "ci ", "pipeline", "kubernetes"))},
		{Name: "docs", Tag: SubagentDocumentation, Match: Any(ComponentIs("docs"), DescriptionHas("document", "readme"))},
		{Name: "performance", Tag: SubagentPerformance, Match: DescriptionHas("performance", "optimiz", "latency", "profil")},
		{Name: "api", Tag: SubagentAPI, Match: DescriptionHas("api contract", "openapi", "endpoint design")},
		{Name: "architecture", Tag: SubagentArchitect, Match: DescriptionHas("architecture", "design", "structure")},
		{Name: "frontend", Tag: SubagentFrontend, Match: Any(ComponentIs("frontend", "ui"), DescriptionHas("frontend", "component", "ui "))},
	},
	Default: SubagentBackend,
}

// DiscoveryRules recognise completed tasks whose output may change the plan.
var DiscoveryRules = Rules{
	Rules: []Rule{
		{Name: "discovery-subagent", Tag: SubagentDiscovery, Match: SubagentIs(SubagentDiscovery)},
		{Name: "discovery-description", Tag: SubagentDiscovery, Match: DescriptionHas("audit", "discover", "investigate", "identify gaps")},
	},
}

// IsDiscovery reports whether t produced discovery information.
func IsDiscovery(t *Task) bool {
	return DiscoveryRules.Matches(t)
}
