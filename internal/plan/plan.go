package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/replanner/internal/domain"
)

// TimedReconfigurationPlan is a set of scheduled actions that transforms a
// source configuration into a destination configuration.
type TimedReconfigurationPlan struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	Source      *domain.Configuration
	Destination *domain.Configuration

	actions []Action
}

// New creates an empty plan for a source configuration.
func New(src *domain.Configuration) *TimedReconfigurationPlan {
	return &TimedReconfigurationPlan{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		Source:    src,
	}
}

// Add appends actions. The plan keeps its actions ordered by start, end and
// description so that identical schedules always print the same way.
func (p *TimedReconfigurationPlan) Add(actions ...Action) {
	p.actions = append(p.actions, actions...)
	sort.SliceStable(p.actions, func(i, j int) bool {
		return less(p.actions[i], p.actions[j])
	})
}

func less(a, b Action) bool {
	if a.Start() != b.Start() {
		return a.Start() < b.Start()
	}
	if a.End() != b.End() {
		return a.End() < b.End()
	}
	return a.String() < b.String()
}

// Actions returns the ordered actions.
func (p *TimedReconfigurationPlan) Actions() []Action {
	return p.actions
}

// Size returns the number of actions.
func (p *TimedReconfigurationPlan) Size() int {
	return len(p.actions)
}

// Duration returns the moment the last action is completed.
func (p *TimedReconfigurationPlan) Duration() int {
	d := 0
	for _, a := range p.actions {
		d = max(d, a.End())
	}
	return d
}

// Apply simulates the plan on a copy of the source configuration and
// returns the resulting configuration.
func (p *TimedReconfigurationPlan) Apply() (*domain.Configuration, error) {
	cfg := p.Source.Clone()
	for _, a := range p.actions {
		if err := Apply(cfg, a); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// IsApplyable returns true if the simulation succeeds and ends on a viable
// configuration.
func (p *TimedReconfigurationPlan) IsApplyable() bool {
	cfg, err := p.Apply()
	return err == nil && cfg.IsViable()
}

func (p *TimedReconfigurationPlan) String() string {
	var b strings.Builder
	for _, a := range p.actions {
		b.WriteString(Format(a))
		b.WriteString("\n")
	}
	return b.String()
}

// Summary returns a one-line description of the plan.
func (p *TimedReconfigurationPlan) Summary() string {
	counts := make(map[Kind]int)
	for _, a := range p.actions {
		counts[a.Kind()]++
	}
	parts := make([]string, 0, len(counts))
	for _, k := range AllKinds {
		if counts[k] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("plan %s: empty", p.ID)
	}
	return fmt.Sprintf("plan %s: %s, duration %d", p.ID, strings.Join(parts, ", "), p.Duration())
}
