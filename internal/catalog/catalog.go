// Package catalog holds the immutable, versioned question catalog shared by all sessions.
package catalog

import (
	"coach-assessment-service/internal/domain"
)

// Settings are catalog-wide engine parameters.
type Settings struct {
	SeverityThreshold float64  `json:"severityThreshold,omitempty" yaml:"severityThreshold,omitempty"`
	NegativeValues    []string `json:"negativeValues,omitempty" yaml:"negativeValues,omitempty"`
	NegativeScaleMax  float64  `json:"negativeScaleMax,omitempty" yaml:"negativeScaleMax,omitempty"`
	ScaleMax          float64  `json:"scaleMax,omitempty" yaml:"scaleMax,omitempty"`
}

// DefaultSettings mirrors the values the questionnaire was authored against.
func DefaultSettings() Settings {
	return Settings{
		SeverityThreshold: 7,
		NegativeValues:    []string{"no", "never", "none", "rarely", "n/a"},
		NegativeScaleMax:  2,
		ScaleMax:          10,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.SeverityThreshold <= 0 {
		s.SeverityThreshold = d.SeverityThreshold
	}
	if len(s.NegativeValues) == 0 {
		s.NegativeValues = d.NegativeValues
	}
	if s.NegativeScaleMax <= 0 {
		s.NegativeScaleMax = d.NegativeScaleMax
	}
	if s.ScaleMax <= 0 {
		s.ScaleMax = d.ScaleMax
	}
	return s
}

// Artifact is the serialized form of a catalog version.
type Artifact struct {
	Version      string                  `json:"version" yaml:"version"`
	Modules      []domain.Module         `json:"modules" yaml:"modules"`
	Questions    []domain.Question       `json:"questions" yaml:"questions"`
	Groups       []domain.QuestionGroup  `json:"groups,omitempty" yaml:"groups,omitempty"`
	ExitRules    []domain.ModuleExitRule `json:"exitRules,omitempty" yaml:"exitRules,omitempty"`
	ScoringRules []domain.ScoringRule    `json:"scoringRules,omitempty" yaml:"scoringRules,omitempty"`
	Settings     Settings                `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Catalog is a compiled, read-only view over an Artifact. It is safe for concurrent use
// because nothing mutates it after Compile returns.
type Catalog struct {
	artifact Artifact
	settings Settings

	moduleIndex  map[string]int
	questions    map[string]domain.Question
	groups       map[string]domain.QuestionGroup
	gatewayGroup map[string]string
	memberGroup  map[string]string
	exitRules    map[string]domain.ModuleExitRule
	critical     map[string][]string
	ordering     map[string][]string
}

func (c *Catalog) Version() string { return c.artifact.Version }

func (c *Catalog) Settings() Settings { return c.settings }

// Artifact returns the artifact the catalog was compiled from.
func (c *Catalog) Artifact() Artifact { return c.artifact }

// Modules returns modules in traversal order.
func (c *Catalog) Modules() []domain.Module {
	return append([]domain.Module(nil), c.artifact.Modules...)
}

// HasModule reports whether id names a catalog module.
func (c *Catalog) HasModule(id string) bool {
	_, ok := c.moduleIndex[id]
	return ok
}

func (c *Catalog) Question(id string) (domain.Question, bool) {
	q, ok := c.questions[id]
	return q, ok
}

// Len returns the number of questions.
func (c *Catalog) Len() int { return len(c.questions) }

// GroupForGateway returns the group gated by questionID.
func (c *Catalog) GroupForGateway(questionID string) (domain.QuestionGroup, bool) {
	id, ok := c.gatewayGroup[questionID]
	if !ok {
		return domain.QuestionGroup{}, false
	}
	return c.groups[id], true
}

// ExitRule returns the early-exit rule for module.
func (c *Catalog) ExitRule(module string) (domain.ModuleExitRule, bool) {
	r, ok := c.exitRules[module]
	return r, ok
}

// CriticalGateways returns the module's critical gateway ids in ordering order.
func (c *Catalog) CriticalGateways(module string) []string {
	return append([]string(nil), c.critical[module]...)
}

// IsCritical reports whether questionID is a critical gateway of its module.
func (c *Catalog) IsCritical(questionID string) bool {
	q, ok := c.questions[questionID]
	if !ok {
		return false
	}
	for _, id := range c.critical[q.Module] {
		if id == questionID {
			return true
		}
	}
	return false
}

func (c *Catalog) ScoringRules() []domain.ScoringRule {
	return append([]domain.ScoringRule(nil), c.artifact.ScoringRules...)
}

// Ordering returns the fixed question order for module: critical gateways, then other
// gateways, then the remaining questions, each in authoring order.
func (c *Catalog) Ordering(module string) []string {
	return append([]string(nil), c.ordering[module]...)
}

// FirstQuestion returns the first question of the first module that has questions.
func (c *Catalog) FirstQuestion() (domain.Question, bool) {
	for _, m := range c.artifact.Modules {
		if order := c.ordering[m.ID]; len(order) > 0 {
			return c.questions[order[0]], true
		}
	}
	return domain.Question{}, false
}
