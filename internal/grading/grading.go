// Package grading normalizes heterogeneous answer encodings and scores exam
// attempts. It is pure: no I/O beyond diagnostic logging, and it never
// panics on malformed input; bad encodings degrade to "incorrect" with an
// empty display string.
//
// It is shared by the exam session (instant client-side feedback) and by the
// submit handler (authoritative re-score), so both sides agree on
// correctness by construction.
package grading

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/quizmate/internal/model"
)

// NotAnswered is the display string for a question the student skipped.
const NotAnswered = "(not answered)"

// IndexToLetter converts a 0-based option index to its letter ("A", "B", ...).
func IndexToLetter(i int) string {
	if i < 0 {
		return ""
	}
	return string(rune('A' + i))
}

// CanonicalLetter normalizes a single-choice correct-answer encoding to an
// uppercase letter. Numeric encodings are 0-based indices; string encodings
// may be a bare letter or a prefixed option like "C. Paris", of which only
// the first character matters.
func CanonicalLetter(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return IndexToLetter(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return ""
		}
		r, _ := utf8.DecodeRuneInString(s)
		return strings.ToUpper(string(r))
	}
	slog.Debug("unrecognized single-choice answer encoding", "raw", string(raw))
	return ""
}

// IndexList decodes a raw multi-choice answer array. Malformed input yields
// nil.
func IndexList(raw json.RawMessage) []int {
	if len(raw) == 0 {
		return nil
	}
	var indices []int
	if err := json.Unmarshal(raw, &indices); err != nil {
		slog.Debug("unrecognized multi-choice answer encoding", "raw", string(raw))
		return nil
	}
	return indices
}

// StringList decodes a raw fill-in-blanks answer array. Malformed input
// yields nil.
func StringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		slog.Debug("unrecognized fill-in-blanks answer encoding", "raw", string(raw))
		return nil
	}
	return values
}

// Letters renders an index set as a display string: [0, 2] -> "A, C".
func Letters(indices []int) string {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for _, i := range sorted {
		parts = append(parts, IndexToLetter(i))
	}
	return strings.Join(parts, ", ")
}

// EqualIndexSets reports order-insensitive equality of two index sets via
// sort-then-compare.
func EqualIndexSets(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	bs := append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// CheckBlanks reports whether every blank matches its expected value,
// case-insensitively after trimming surrounding whitespace. There is no
// partial credit: one wrong blank fails the question.
func CheckBlanks(candidate, correct []string) bool {
	if len(correct) == 0 || len(candidate) != len(correct) {
		return false
	}
	for i := range correct {
		if !strings.EqualFold(strings.TrimSpace(candidate[i]), strings.TrimSpace(correct[i])) {
			return false
		}
	}
	return true
}

// CountBlanks returns the number of blank positions in a question's text.
func CountBlanks(text string) int {
	return strings.Count(text, model.BlankDelimiter)
}

// Outcome is the graded result of one question.
type Outcome struct {
	IsCorrect      bool
	StudentDisplay string
	CorrectDisplay string
}

// Grade checks one answer against its question and produces canonical
// display strings for both sides. An unanswered question is always
// incorrect with StudentDisplay set to NotAnswered.
func Grade(q model.Question, ans model.Answer) Outcome {
	switch q.Kind() {
	case model.KindMultiChoice:
		correct := IndexList(firstRaw(q.CorrectAnswers, q.CorrectAnswer))
		out := Outcome{CorrectDisplay: Letters(correct)}
		if ans.Empty(model.KindMultiChoice) {
			out.StudentDisplay = NotAnswered
			return out
		}
		out.StudentDisplay = Letters(ans.Indices)
		out.IsCorrect = len(correct) > 0 && EqualIndexSets(ans.Indices, correct)
		return out

	case model.KindFillInBlanks:
		correct := StringList(firstRaw(q.CorrectAnswers, q.CorrectAnswer))
		out := Outcome{CorrectDisplay: strings.Join(correct, ", ")}
		if ans.Empty(model.KindFillInBlanks) {
			out.StudentDisplay = NotAnswered
			return out
		}
		out.StudentDisplay = strings.Join(ans.Blanks, ", ")
		out.IsCorrect = CheckBlanks(ans.Blanks, correct)
		return out

	default:
		letter := CanonicalLetter(firstRaw(q.CorrectAnswer, q.CorrectAnswers))
		out := Outcome{CorrectDisplay: letter}
		if ans.Empty(model.KindSingleChoice) {
			out.StudentDisplay = NotAnswered
			return out
		}
		candidate := strings.TrimSpace(ans.Letter)
		out.StudentDisplay = strings.ToUpper(candidate)
		out.IsCorrect = letter != "" && strings.EqualFold(candidate, letter)
		return out
	}
}

// Score grades a whole attempt, returning the raw correct count and the
// per-question detail map keyed by question identifier.
func Score(questions []model.Question, answers map[int]model.Answer) (int, map[string]model.AnswerDetail) {
	score := 0
	details := make(map[string]model.AnswerDetail, len(questions))
	for _, q := range questions {
		out := Grade(q, answers[q.ID])
		if out.IsCorrect {
			score++
		}
		details[strconv.Itoa(q.ID)] = model.AnswerDetail{
			StudentAnswer: out.StudentDisplay,
			CorrectAnswer: out.CorrectDisplay,
			IsCorrect:     out.IsCorrect,
			Explanation:   q.Explanation,
			QuestionText:  q.Text,
		}
	}
	return score, details
}

// Percentage converts a raw score to a percentage rounded to one decimal.
func Percentage(score, total int) float64 {
	if total == 0 {
		return 0
	}
	return Round1(float64(score) / float64(total) * 100)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Stats aggregates submission percentages: mean rounded to one decimal plus
// the extrema.
func Stats(results []model.StudentResult) model.Statistics {
	if len(results) == 0 {
		return model.Statistics{}
	}
	sum := 0.0
	highest := results[0].Percentage
	lowest := results[0].Percentage
	for _, r := range results {
		sum += r.Percentage
		if r.Percentage > highest {
			highest = r.Percentage
		}
		if r.Percentage < lowest {
			lowest = r.Percentage
		}
	}
	return model.Statistics{
		Average: Round1(sum / float64(len(results))),
		Highest: highest,
		Lowest:  lowest,
	}
}

// firstRaw returns the first non-empty raw encoding. Questions sourced from
// older exports carry the answer in the other field.
func firstRaw(primary, fallback json.RawMessage) json.RawMessage {
	if len(primary) > 0 && string(primary) != "null" {
		return primary
	}
	return fallback
}
