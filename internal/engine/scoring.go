package engine

import (
	"fmt"
	"math"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
)

// perQuestionMax is the fixed ceiling of a single scored answer.
const perQuestionMax = 10.0

// Band names.
const (
	BandExcellent   = "excellent"
	BandGood        = "good"
	BandModerate    = "moderate"
	BandSignificant = "significant"
)

// Strategy computes a custom score from the numeric answers present for a rule.
type Strategy func(rule domain.ScoringRule, values map[string]float64, settings catalog.Settings) (score, maxScore float64)

// Scorer aggregates responses into per-rule scores.
type Scorer struct {
	settings   catalog.Settings
	strategies map[string]Strategy
}

// NewScorer returns a Scorer with the built-in custom strategies registered.
func NewScorer(settings catalog.Settings) *Scorer {
	s := &Scorer{settings: settings, strategies: map[string]Strategy{}}
	s.Register(domain.StrategyPeak, peakStrategy)
	s.Register(domain.StrategySevereCount, severeCountStrategy)
	return s
}

// Register binds a custom strategy name. Later registrations replace earlier ones.
func (s *Scorer) Register(name string, fn Strategy) {
	s.strategies[name] = fn
}

// ComputeScores scores every rule against responses using the default settings.
func ComputeScores(rules []domain.ScoringRule, responses []domain.ClientResponse) []domain.Score {
	return NewScorer(catalog.DefaultSettings()).ComputeScores(rules, responses)
}

// ComputeScores is pure: identical inputs yield identical output. A rule with an unknown
// calculation or an unregistered custom strategy scores zero instead of failing the batch.
func (s *Scorer) ComputeScores(rules []domain.ScoringRule, responses []domain.ClientResponse) []domain.Score {
	latest := make(map[string]domain.ClientResponse, len(responses))
	for _, r := range responses {
		latest[r.QuestionID] = r
	}

	out := make([]domain.Score, 0, len(rules))
	for _, rule := range rules {
		numeric := make(map[string]float64, len(rule.QuestionIDs))
		for _, id := range rule.QuestionIDs {
			r, ok := latest[id]
			if !ok {
				continue
			}
			if v, ok := r.Numeric(); ok {
				numeric[id] = v
			}
		}
		score, ceiling := s.aggregate(rule, numeric)
		out = append(out, s.finish(rule, score, ceiling))
	}
	return out
}

func (s *Scorer) aggregate(rule domain.ScoringRule, values map[string]float64) (float64, float64) {
	switch rule.Calculation {
	case domain.CalcSum:
		total, _ := sumInOrder(rule.QuestionIDs, values)
		return total, float64(len(rule.QuestionIDs)) * perQuestionMax

	case domain.CalcAverage:
		total, n := sumInOrder(rule.QuestionIDs, values)
		if n == 0 {
			return 0, perQuestionMax
		}
		return total / float64(n), perQuestionMax

	case domain.CalcWeighted:
		total, ceiling := 0.0, 0.0
		for _, id := range rule.QuestionIDs {
			w := 1.0
			if rw, ok := rule.Weights[id]; ok {
				w = rw
			}
			total += values[id] * w
			ceiling += perQuestionMax * w
		}
		return total, ceiling

	case domain.CalcCustom:
		fn, ok := s.strategies[rule.Strategy]
		if !ok {
			return 0, 0
		}
		return fn(rule, values, s.settings)
	}
	return 0, 0
}

func (s *Scorer) finish(rule domain.ScoringRule, score, ceiling float64) domain.Score {
	pct := 0.0
	if ceiling > 0 {
		pct = score / ceiling * 100
	}
	band, interpretation, recs := Interpret(rule.Name, pct)
	return domain.Score{
		RuleID:          rule.ID,
		Name:            rule.Name,
		Category:        rule.Category,
		Score:           round2(score),
		MaxScore:        round2(ceiling),
		Percentage:      round2(pct),
		Band:            band,
		Interpretation:  interpretation,
		Recommendations: recs,
	}
}

// Interpret maps a percentage onto its band and the band's text for rule name.
func Interpret(name string, percentage float64) (band, interpretation string, recommendations []string) {
	switch {
	case percentage >= 80:
		return BandExcellent,
			fmt.Sprintf("%s: excellent, no significant concerns", name),
			[]string{
				fmt.Sprintf("Maintain the current habits supporting %s", name),
				"Re-assess at the next scheduled review",
			}
	case percentage >= 60:
		return BandGood,
			fmt.Sprintf("%s: good, minor adjustments may help", name),
			[]string{
				fmt.Sprintf("Make small targeted adjustments for %s", name),
				"Track symptoms for two weeks before the next session",
			}
	case percentage >= 40:
		return BandModerate,
			fmt.Sprintf("%s: moderate concerns, monitor closely", name),
			[]string{
				fmt.Sprintf("Monitor %s symptoms weekly", name),
				"Discuss dietary and lifestyle changes with your coach",
			}
	default:
		return BandSignificant,
			fmt.Sprintf("%s: significant concerns, follow-up recommended", name),
			[]string{
				fmt.Sprintf("Escalate %s findings to your practitioner", name),
				"Consider targeted lab testing",
			}
	}
}

// sumInOrder adds values in rule order so repeated runs produce bit-identical totals.
func sumInOrder(ids []string, values map[string]float64) (float64, int) {
	total, n := 0.0, 0
	for _, id := range ids {
		if v, ok := values[id]; ok {
			total += v
			n++
		}
	}
	return total, n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func peakStrategy(rule domain.ScoringRule, values map[string]float64, _ catalog.Settings) (float64, float64) {
	peak := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	return peak, perQuestionMax
}

func severeCountStrategy(rule domain.ScoringRule, values map[string]float64, settings catalog.Settings) (float64, float64) {
	n := 0
	for _, v := range values {
		if v >= settings.SeverityThreshold {
			n++
		}
	}
	return float64(n), float64(len(rule.QuestionIDs))
}
