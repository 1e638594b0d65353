// Package prompts builds the LLM prompt texts from embedded templates.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/pavelanni/quizmate/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var templateNames = []string{
	"single_choice",
	"multi_choice",
	"fill_in_blanks",
	"type_selector",
	"tutor",
	"analysis",
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// Load parses the embedded prompt templates. It uses sync.Once so repeated
// calls are cheap.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template, len(templateNames))
		for _, name := range templateNames {
			file := "templates/" + name + ".txt"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func execute(name string, data any) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[name]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("unknown prompt template: " + name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// QuestionData holds template data for question-generation prompts.
type QuestionData struct {
	Topic      string
	Context    string // text extracted from uploaded reference files
	QuestionID int
	Existing   string // texts of already-generated questions, to avoid repeats
}

// BuildQuestion builds the generation prompt for the structural kind.
func BuildQuestion(kind model.Kind, data QuestionData) (string, error) {
	switch kind {
	case model.KindMultiChoice:
		return execute("multi_choice", data)
	case model.KindFillInBlanks:
		return execute("fill_in_blanks", data)
	default:
		return execute("single_choice", data)
	}
}

// SelectorData holds template data for the question-type selection prompt.
type SelectorData struct {
	Topic     string
	Count     int
	Types     string // comma-joined list of allowed type tags
	WithMedia bool
}

// BuildTypeSelector builds the prompt that asks the LLM to pick a varied mix
// of question types for the exam.
func BuildTypeSelector(data SelectorData) (string, error) {
	return execute("type_selector", data)
}

// Tutor answer scenarios.
const (
	ScenarioUnanswered = "unanswered"
	ScenarioCorrect    = "correct"
	ScenarioIncorrect  = "incorrect"
)

// TutorData holds template data for the tutor system prompt. Scenario is one
// of the Scenario constants and selects the coaching stance; AttemptCount
// lets the prompt escalate hints as tries accumulate.
type TutorData struct {
	StudentName    string
	QuestionText   string
	Options        string // lettered options block, empty for fill-in-blanks
	CorrectDisplay string
	StudentDisplay string
	Scenario       string
	AttemptCount   int
}

// BuildTutor builds the tutor system prompt for the current question state.
func BuildTutor(data TutorData) (string, error) {
	return execute("tutor", data)
}

// AnalysisData holds template data for the post-submission analysis prompt.
type AnalysisData struct {
	StudentName string
	Score       int
	Total       int
	Percentage  float64
	Details     string
	Chat        string
}

// BuildAnalysis builds the performance-analysis prompt.
func BuildAnalysis(data AnalysisData) (string, error) {
	return execute("analysis", data)
}

// OptionsBlock renders options as lettered lines for prompt embedding.
func OptionsBlock(options []string) string {
	var sb strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&sb, "%c. %s\n", rune('A'+i), opt)
	}
	return sb.String()
}
