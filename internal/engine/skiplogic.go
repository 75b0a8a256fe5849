package engine

import (
	"strconv"
	"strings"

	"coach-assessment-service/internal/domain"
)

// ResolveSkips returns the member ids made inapplicable by answer, or nil when the
// answer matches none of the group's trigger values. Text is compared case-insensitively;
// numeric answers match numerically equal triggers.
func ResolveSkips(answer string, group domain.QuestionGroup) []string {
	if !matchesTrigger(answer, group.TriggerValues) {
		return nil
	}
	return append([]string(nil), group.MemberQuestionIDs...)
}

func matchesTrigger(answer string, triggers []string) bool {
	answer = strings.TrimSpace(answer)
	num, numErr := strconv.ParseFloat(answer, 64)
	for _, t := range triggers {
		t = strings.TrimSpace(t)
		if strings.EqualFold(answer, t) {
			return true
		}
		if numErr == nil {
			if tv, err := strconv.ParseFloat(t, 64); err == nil && tv == num {
				return true
			}
		}
	}
	return false
}
