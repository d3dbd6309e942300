package app

import (
	"math"
	"sort"

	"quiz-reward-service/internal/domain"
)

// Score grades a session against its frozen ground truth.
//
// A question earns its full point value only when the submitted option set
// equals the correct set exactly; partial credit is not awarded by policy.
// A missing answer counts as the empty set. Passing is decided by the count of
// fully correct questions, independent of the point-weighted percentage.
func Score(session domain.Session) domain.ScoreResult {
	result := domain.ScoreResult{
		Details: make([]domain.QuestionDetail, 0, len(session.Questions)),
	}

	for _, q := range session.Questions {
		points := q.Points
		if points <= 0 {
			points = 1
		}
		answer, answered := session.Answers[q.ID]
		selected := normalizeOptionIDs(answer.OptionIDs)

		detail := domain.QuestionDetail{
			QuestionID:        q.ID,
			SelectedOptionIDs: selected,
			CorrectOptionIDs:  normalizeOptionIDs(q.CorrectOptionIDs),
			Points:            points,
		}
		if answered {
			detail.ElapsedSeconds = answer.ElapsedSeconds
		}
		if sameOptionSet(selected, detail.CorrectOptionIDs) {
			detail.Correct = true
			detail.Awarded = points
			result.Score += points
			result.CorrectCount++
		}

		result.MaxScore += points
		result.Details = append(result.Details, detail)
	}

	result.Percentage = percentage(result.Score, result.MaxScore)
	result.Passed = result.CorrectCount >= session.PassThreshold
	return result
}

// percentage returns score/max*100 rounded to one decimal.
func percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return math.Round(float64(score)/float64(maxScore)*1000) / 10
}

// sameOptionSet compares two normalized option lists. An empty correct set never matches.
func sameOptionSet(selected, correct []string) bool {
	if len(correct) == 0 || len(selected) != len(correct) {
		return false
	}
	for i := range selected {
		if selected[i] != correct[i] {
			return false
		}
	}
	return true
}

// normalizeOptionIDs sorts and dedupes option IDs, dropping blanks.
func normalizeOptionIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
