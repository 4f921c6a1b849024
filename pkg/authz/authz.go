package authz

import (
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/gematik/zero-gate/pkg/identity"
	"gopkg.in/yaml.v3"
)

// Checker decides whether an actor may perform an action on a resource.
type Checker interface {
	IsAllowed(actor *identity.User, action, resource string) bool
}

// NoopChecker allows everything.
type NoopChecker struct{}

func (NoopChecker) IsAllowed(*identity.User, string, string) bool {
	return true
}

// Rule grants the listed actions on the matching resources to a role.
// Resources are path.Match patterns; "*" as action matches every action.
type Rule struct {
	Role      identity.Role `yaml:"role" validate:"required"`
	Actions   []string      `yaml:"actions" validate:"required,min=1"`
	Resources []string      `yaml:"resources" validate:"required,min=1"`
}

type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// PolicyChecker evaluates rules loaded from policy files. Anything not
// granted is denied; anonymous actors are denied.
type PolicyChecker struct {
	rules []Rule
}

func NewPolicyChecker(policies ...Policy) *PolicyChecker {
	c := &PolicyChecker{}
	for _, p := range policies {
		c.rules = append(c.rules, p.Rules...)
	}
	return c
}

func LoadPolicyFiles(paths ...string) (*PolicyChecker, error) {
	policies := make([]Policy, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		var policy Policy
		if err := yaml.Unmarshal(content, &policy); err != nil {
			return nil, fmt.Errorf("decode policy file %s: %w", p, err)
		}
		for i, rule := range policy.Rules {
			if rule.Role == "" || len(rule.Actions) == 0 || len(rule.Resources) == 0 {
				return nil, fmt.Errorf("policy file %s: rule %d needs role, actions and resources", p, i)
			}
			for _, pattern := range rule.Resources {
				if _, err := path.Match(pattern, ""); err != nil {
					return nil, fmt.Errorf("policy file %s: rule %d: bad resource pattern %q: %w", p, i, pattern, err)
				}
			}
		}
		slog.Info("Loaded policy file", "path", p, "rules", len(policy.Rules))
		policies = append(policies, policy)
	}
	return NewPolicyChecker(policies...), nil
}

// New returns a PolicyChecker for the given files, or a NoopChecker when
// there are none.
func New(policyFiles []string) (Checker, error) {
	if len(policyFiles) == 0 {
		return NoopChecker{}, nil
	}
	return LoadPolicyFiles(policyFiles...)
}

func (c *PolicyChecker) IsAllowed(actor *identity.User, action, resource string) bool {
	if actor == nil || actor.Role == identity.RoleNone {
		return false
	}
	for _, rule := range c.rules {
		if rule.Role != actor.Role {
			continue
		}
		if !matchAction(rule.Actions, action) {
			continue
		}
		for _, pattern := range rule.Resources {
			if ok, _ := path.Match(pattern, resource); ok {
				return true
			}
		}
	}
	return false
}

func matchAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}
