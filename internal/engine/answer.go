// Package engine implements the adaptive assessment engine: skip logic, module exit
// policy, scoring, symptom profiling, and the next-step state machine.
package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
)

const maxTextAnswer = 2000

// DefaultFrequencyOptions apply to frequency questions authored without options.
var DefaultFrequencyOptions = []string{"never", "rarely", "sometimes", "often", "always"}

// NormalizeAnswer validates raw against q's answer type and returns the canonical stored form.
func NormalizeAnswer(q domain.Question, raw any, settings catalog.Settings) (string, error) {
	invalid := func(detail string) error {
		return domain.NewInputError(domain.ErrInvalidAnswer, "value", detail)
	}
	if raw == nil {
		return "", invalid("value is required")
	}

	switch q.AnswerType {
	case domain.AnswerScale:
		v, ok := toFloat(raw)
		if !ok {
			return "", invalid(fmt.Sprintf("question %s expects a number", q.ID))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", invalid("value must be a finite number")
		}
		if v < 0 || v > settings.ScaleMax {
			return "", invalid(fmt.Sprintf("value must be between 0 and %g", settings.ScaleMax))
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil

	case domain.AnswerYesNo:
		switch t := raw.(type) {
		case bool:
			if t {
				return "yes", nil
			}
			return "no", nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "yes", "y", "true":
				return "yes", nil
			case "no", "n", "false":
				return "no", nil
			}
		}
		return "", invalid("value must be yes or no")

	case domain.AnswerMultipleChoice, domain.AnswerFrequency:
		s, ok := raw.(string)
		if !ok {
			return "", invalid(fmt.Sprintf("question %s expects one of its options", q.ID))
		}
		options := q.Options
		if len(options) == 0 && q.AnswerType == domain.AnswerFrequency {
			options = DefaultFrequencyOptions
		}
		for _, opt := range options {
			if strings.EqualFold(strings.TrimSpace(s), opt) {
				return opt, nil
			}
		}
		return "", invalid(fmt.Sprintf("value must be one of: %s", strings.Join(options, ", ")))

	case domain.AnswerText:
		s, ok := raw.(string)
		if !ok {
			return "", invalid("value must be text")
		}
		if !utf8.ValidString(s) {
			return "", invalid("text must be valid UTF-8")
		}
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > maxTextAnswer {
			return "", invalid(fmt.Sprintf("text longer than %d characters", maxTextAnswer))
		}
		return s, nil
	}
	return "", invalid(fmt.Sprintf("unsupported answer type %q", q.AnswerType))
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// IsNegative reports whether a stored answer means "no issue" for exit-policy purposes.
func IsNegative(q domain.Question, value string, settings catalog.Settings) bool {
	if q.AnswerType == domain.AnswerScale {
		v, err := strconv.ParseFloat(value, 64)
		return err == nil && v <= settings.NegativeScaleMax
	}
	value = strings.TrimSpace(value)
	for _, neg := range settings.NegativeValues {
		if strings.EqualFold(value, neg) {
			return true
		}
	}
	return false
}
