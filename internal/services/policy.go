package services

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"smartlead/internal/models"
)

// Step is one adapter invocation within a kind's dispatch plan. Steps
// without dependencies run concurrently; a step with DependsOn runs after
// the named step and receives its output.
type Step struct {
	Adapter   string `yaml:"adapter"`
	Operation string `yaml:"operation"`
	Critical  bool   `yaml:"critical"`
	DependsOn string `yaml:"depends_on,omitempty"`
}

// KindPolicy is the dispatch plan for one intent kind.
type KindPolicy struct {
	Steps []Step `yaml:"steps"`
}

// PolicySet maps intent kinds to their dispatch plans.
type PolicySet struct {
	Kinds map[models.IntentKind]KindPolicy `yaml:"kinds"`
}

// PolicyService holds the active policy set and supports atomic
// replacement when the policy file changes on disk.
type PolicyService struct {
	current atomic.Pointer[PolicySet]
}

// NewPolicyService returns a service seeded with the built-in defaults,
// optionally overridden from a YAML file.
func NewPolicyService(path string) (*PolicyService, error) {
	s := &PolicyService{}
	s.current.Store(DefaultPolicySet())
	if path != "" {
		if err := s.Reload(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the plan for a kind. The second result is false for kinds
// the active policy does not cover.
func (s *PolicyService) Get(kind models.IntentKind) (KindPolicy, bool) {
	set := s.current.Load()
	p, ok := set.Kinds[kind]
	return p, ok
}

// Reload replaces the active policy from a YAML file. An invalid file
// leaves the previous policy in place.
func (s *PolicyService) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var set PolicySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	if err := set.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	s.current.Store(&set)
	log.Printf("✅ Dispatch policy reloaded from %s (%d kinds)", path, len(set.Kinds))
	return nil
}

// Validate checks adapter names, kind names and dependency references.
func (p *PolicySet) Validate() error {
	knownAdapters := map[string]bool{"ai": true, "calendar": true, "messaging": true, "email": true}

	for kind, plan := range p.Kinds {
		if len(plan.Steps) == 0 {
			return fmt.Errorf("kind %q has no steps", kind)
		}
		seen := map[string]bool{}
		for _, step := range plan.Steps {
			if !knownAdapters[step.Adapter] {
				return fmt.Errorf("kind %q references unknown adapter %q", kind, step.Adapter)
			}
			if seen[step.Adapter] {
				return fmt.Errorf("kind %q lists adapter %q twice", kind, step.Adapter)
			}
			if step.DependsOn != "" && !seen[step.DependsOn] {
				return fmt.Errorf("kind %q: step %q depends on %q which is not an earlier step", kind, step.Adapter, step.DependsOn)
			}
			seen[step.Adapter] = true
		}
	}
	return nil
}

// DefaultPolicySet is the built-in dispatch plan used when no policy file
// is configured.
func DefaultPolicySet() *PolicySet {
	return &PolicySet{
		Kinds: map[models.IntentKind]KindPolicy{
			models.IntentSchedule: {
				Steps: []Step{
					{Adapter: "calendar", Operation: "create_event", Critical: true},
				},
			},
			models.IntentNotify: {
				Steps: []Step{
					{Adapter: "messaging", Operation: "send", Critical: true},
				},
			},
			models.IntentEmail: {
				Steps: []Step{
					{Adapter: "email", Operation: "send", Critical: true},
				},
			},
			models.IntentScheduleAndNotify: {
				Steps: []Step{
					{Adapter: "calendar", Operation: "create_event", Critical: true},
					{Adapter: "messaging", Operation: "send", Critical: false},
				},
			},
			models.IntentQuery: {
				Steps: []Step{
					{Adapter: "ai", Operation: "complete", Critical: true},
				},
			},
			models.IntentQualify: {
				Steps: []Step{
					{Adapter: "ai", Operation: "complete", Critical: true},
					{Adapter: "messaging", Operation: "call", Critical: false, DependsOn: "ai"},
				},
			},
		},
	}
}
