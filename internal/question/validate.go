package question

import (
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/model"
)

const (
	optionCount       = 4
	minQuestionLen    = 20
	maxQuestionLen    = 500
	minOptionLen      = 3
	minExplanationLen = 10
	minHintLen        = 10
)

// Validate checks a generated question against the quality rules. Failures
// are apperr.QualityRejected with the reason as message. An empty hint is
// treated as absent.
func Validate(q model.GeneratedQuestion) error {
	if len(q.Options) != optionCount {
		return apperr.Newf(apperr.QualityRejected, "expected %d options, got %d", optionCount, len(q.Options))
	}

	correct := 0
	seen := make(map[string]bool, len(q.Options))
	for i, o := range q.Options {
		if o.IsCorrect {
			correct++
		}
		if utf8.RuneCountInString(o.Text) < minOptionLen {
			return apperr.Newf(apperr.QualityRejected, "option %d text too short", i+1)
		}
		if utf8.RuneCountInString(o.Explanation) < minExplanationLen {
			return apperr.Newf(apperr.QualityRejected, "option %d explanation too short", i+1)
		}
		key := strings.ToLower(o.Text)
		if seen[key] {
			return apperr.Newf(apperr.QualityRejected, "duplicate option %q", o.Text)
		}
		seen[key] = true
	}
	if correct != 1 {
		return apperr.Newf(apperr.QualityRejected, "expected 1 correct option, got %d", correct)
	}

	if n := utf8.RuneCountInString(q.Text); n < minQuestionLen || n > maxQuestionLen {
		return apperr.Newf(apperr.QualityRejected, "question length %d outside [%d, %d]", n, minQuestionLen, maxQuestionLen)
	}

	if q.Hint != "" && utf8.RuneCountInString(q.Hint) < minHintLen {
		return apperr.New(apperr.QualityRejected, "hint too short")
	}
	return nil
}
