package engine

import (
	"strconv"

	"coach-assessment-service/internal/domain"
)

// RecordAnswer stores a numeric answer in profile[module][questionID]. Non-numeric answer
// types are not profiled. It returns the stored value and whether anything was recorded.
func RecordAnswer(profile domain.SymptomProfile, q domain.Question, value string) (float64, bool) {
	if !q.AnswerType.Numeric() {
		return 0, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	answers, ok := profile[q.Module]
	if !ok {
		answers = map[string]float64{}
		profile[q.Module] = answers
	}
	answers[q.ID] = v
	return v, true
}

// ForgetAnswer removes q from the profile.
func ForgetAnswer(profile domain.SymptomProfile, q domain.Question) {
	answers, ok := profile[q.Module]
	if !ok {
		return
	}
	delete(answers, q.ID)
	if len(answers) == 0 {
		delete(profile, q.Module)
	}
}

// FlagIfSevere appends one severity flag when value reaches threshold. Flags are never
// deduplicated.
func FlagIfSevere(ctx *domain.AIContext, q domain.Question, value, threshold float64) bool {
	if value < threshold {
		return false
	}
	ctx.HighSeveritySymptoms = append(ctx.HighSeveritySymptoms, domain.SeverityFlag{
		QuestionID: q.ID,
		Severity:   value,
		Module:     q.Module,
	})
	return true
}

// NoteCategory records answers to category-tagged questions regardless of answer type.
func NoteCategory(ctx *domain.AIContext, q domain.Question, value string) {
	if q.Category == "" {
		return
	}
	if ctx.CategoryNotes == nil {
		ctx.CategoryNotes = map[string][]domain.CategoryNote{}
	}
	ctx.CategoryNotes[q.Category] = append(ctx.CategoryNotes[q.Category], domain.CategoryNote{
		QuestionID: q.ID,
		Module:     q.Module,
		Value:      value,
	})
}
