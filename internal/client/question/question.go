// Package question builds the render model for one exam question: lettered
// option rows, fill-in-blank segments, the word bank and media sources. It
// is pure view construction; answer state lives in the session.
package question

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/model"
)

// ViewMode selects who is looking at the question.
type ViewMode int

const (
	// ModeStudent hides correctness and shuffles the word bank.
	ModeStudent ViewMode = iota
	// ModeTeacher is read-only and reveals the correct answers.
	ModeTeacher
)

// minBlankWidth keeps empty fill-in inputs tappable.
const minBlankWidth = 6

// Option is one selectable answer row.
type Option struct {
	Index    int
	Letter   string
	Label    string
	Selected bool
	Correct  bool // only set in teacher mode
}

// Segment is one run of a fill-in-blanks question text: either literal text
// or the blank at BlankIndex.
type Segment struct {
	Text       string
	IsBlank    bool
	BlankIndex int
}

// Blank is one fill-in input with its current value and render width.
type Blank struct {
	Index int
	Value string
	Width int
}

// WordBankEntry is one candidate word below a fill-in-blanks question.
type WordBankEntry struct {
	Word  string
	Label string // numbered in teacher mode, same as Word for students
}

// View is the complete render model for one question.
type View struct {
	Question model.Question
	Kind     model.Kind
	Mode     ViewMode
	Multi    bool // render checkboxes instead of radios
	Options  []Option
	Segments []Segment
	Blanks   []Blank
	WordBank []WordBankEntry
	ImageSrc string
	AudioSrc string
	AudioKey string // stable per-question key so players do not bleed across questions
}

// Build constructs the render model for a question with the student's
// current answer.
func Build(q model.Question, ans model.Answer, mode ViewMode) View {
	kind := q.Kind()
	v := View{
		Question: q,
		Kind:     kind,
		Mode:     mode,
		Multi:    kind == model.KindMultiChoice,
		ImageSrc: imageSrc(q),
	}
	if q.HasAudio() {
		v.AudioSrc = q.AudioURL
		v.AudioKey = fmt.Sprintf("question-%d-audio", q.ID)
	}

	switch kind {
	case model.KindFillInBlanks:
		v.Segments = SplitSegments(q.Text)
		v.Blanks = buildBlanks(q, ans)
		v.WordBank = buildWordBank(q, mode)
	default:
		v.Options = buildOptions(q, ans, mode)
	}
	return v
}

func imageSrc(q model.Question) string {
	if q.ImageBase64 != "" {
		return "data:image/png;base64," + q.ImageBase64
	}
	return q.ImageURL
}

func buildOptions(q model.Question, ans model.Answer, mode ViewMode) []Option {
	correct := correctSet(q)
	options := make([]Option, len(q.Options))
	for i, label := range q.Options {
		letter := grading.IndexToLetter(i)
		options[i] = Option{
			Index:    i,
			Letter:   letter,
			Label:    label,
			Selected: isSelected(q.Kind(), ans, i, letter),
			Correct:  mode == ModeTeacher && correct[i],
		}
	}
	return options
}

func correctSet(q model.Question) map[int]bool {
	set := make(map[int]bool)
	switch q.Kind() {
	case model.KindMultiChoice:
		for _, i := range grading.IndexList(q.CorrectAnswers) {
			set[i] = true
		}
	case model.KindSingleChoice:
		if letter := grading.CanonicalLetter(q.CorrectAnswer); letter != "" {
			set[int(letter[0]-'A')] = true
		}
	}
	return set
}

func isSelected(kind model.Kind, ans model.Answer, index int, letter string) bool {
	if kind == model.KindMultiChoice {
		for _, i := range ans.Indices {
			if i == index {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(strings.TrimSpace(ans.Letter), letter)
}

// SplitSegments cuts a fill-in-blanks text into literal runs and blank
// positions, in order.
func SplitSegments(text string) []Segment {
	parts := strings.Split(text, model.BlankDelimiter)
	segments := make([]Segment, 0, 2*len(parts)-1)
	for i, part := range parts {
		if i > 0 {
			segments = append(segments, Segment{IsBlank: true, BlankIndex: i - 1})
		}
		if part != "" {
			segments = append(segments, Segment{Text: part})
		}
	}
	return segments
}

func buildBlanks(q model.Question, ans model.Answer) []Blank {
	count := q.BlanksCount
	if count == 0 {
		count = grading.CountBlanks(q.Text)
	}
	blanks := make([]Blank, count)
	for i := range blanks {
		value := ""
		if i < len(ans.Blanks) {
			value = ans.Blanks[i]
		}
		blanks[i] = Blank{Index: i, Value: value, Width: BlankWidth(value)}
	}
	return blanks
}

// BlankWidth grows a fill-in input with its content, never below the floor.
func BlankWidth(value string) int {
	if w := utf8.RuneCountInString(value) + 2; w > minBlankWidth {
		return w
	}
	return minBlankWidth
}

func buildWordBank(q model.Question, mode ViewMode) []WordBankEntry {
	words := grading.StringList(q.CorrectAnswers)
	if len(words) == 0 {
		return nil
	}
	entries := make([]WordBankEntry, len(words))
	if mode == ModeTeacher {
		// Teachers see the answers in blank order, numbered.
		for i, w := range words {
			entries[i] = WordBankEntry{Word: w, Label: fmt.Sprintf("%d. %s", i+1, w)}
		}
		return entries
	}
	// Students get the words shuffled so bank order leaks nothing.
	shuffled := append([]string(nil), words...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for i, w := range shuffled {
		entries[i] = WordBankEntry{Word: w, Label: w}
	}
	return entries
}

// Toggle flips one option index in a multi-choice selection, keeping the
// result sorted ascending.
func Toggle(indices []int, index int) []int {
	out := make([]int, 0, len(indices)+1)
	found := false
	for _, i := range indices {
		if i == index {
			found = true
			continue
		}
		out = append(out, i)
	}
	if !found {
		out = append(out, index)
		sort.Ints(out)
	}
	return out
}
