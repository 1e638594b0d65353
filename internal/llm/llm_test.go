package llm

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/pavelanni/quizmate/internal/llm/prompts"
	"github.com/pavelanni/quizmate/internal/model"
)

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name    string
		q       model.Question
		wantErr bool
	}{
		{
			name: "valid single choice",
			q: model.Question{
				Type:          "single_choice",
				Text:          "Capital of France?",
				Options:       []string{"London", "Berlin", "Paris", "Madrid"},
				CorrectAnswer: json.RawMessage(`2`),
			},
		},
		{
			name: "single choice index out of range",
			q: model.Question{
				Type:          "single_choice",
				Options:       []string{"A", "B"},
				CorrectAnswer: json.RawMessage(`5`),
			},
			wantErr: true,
		},
		{
			name: "single choice missing answer",
			q: model.Question{
				Type:    "single_choice",
				Options: []string{"A", "B", "C", "D"},
			},
			wantErr: true,
		},
		{
			name: "valid multi choice",
			q: model.Question{
				Type:           "multi_choice",
				Options:        []string{"a", "b", "c", "d"},
				CorrectAnswers: json.RawMessage(`[0, 2]`),
			},
		},
		{
			name: "multi choice index out of range",
			q: model.Question{
				Type:           "multi_choice",
				Options:        []string{"a", "b"},
				CorrectAnswers: json.RawMessage(`[0, 4]`),
			},
			wantErr: true,
		},
		{
			name: "valid fill in blanks",
			q: model.Question{
				Type:           "fill_in_blanks",
				Text:           "The ___ orbits the ___.",
				CorrectAnswers: json.RawMessage(`["Moon", "Earth"]`),
				BlanksCount:    2,
			},
		},
		{
			name: "blank marker count mismatch",
			q: model.Question{
				Type:           "fill_in_blanks",
				Text:           "Only one ___ here.",
				CorrectAnswers: json.RawMessage(`["a", "b"]`),
			},
			wantErr: true,
		},
		{
			name: "media variant dispatches structurally",
			q: model.Question{
				Type:          "image_single_choice",
				Options:       []string{"cat", "dog", "bird", "fish"},
				CorrectAnswer: json.RawMessage(`"A"`),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateQuestion(tt.q)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateQuestion() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFallbackTypes(t *testing.T) {
	got := fallbackTypes(5)
	want := []string{"single_choice", "multi_choice", "fill_in_blanks", "single_choice", "multi_choice"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fallbackTypes(5) = %v, want %v", got, want)
	}
}

func TestNormalizeTypes(t *testing.T) {
	allowed := allowedTypes(false)

	t.Run("unknown tags replaced", func(t *testing.T) {
		got := normalizeTypes([]string{"single_choice", "essay", "multi_choice"}, allowed, 3)
		want := []string{"single_choice", "multi_choice", "multi_choice"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("normalizeTypes = %v, want %v", got, want)
		}
	})

	t.Run("short proposal padded", func(t *testing.T) {
		got := normalizeTypes([]string{"fill_in_blanks"}, allowed, 3)
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
	})

	t.Run("uniform mix broken up", func(t *testing.T) {
		got := normalizeTypes([]string{"multi_choice", "multi_choice", "multi_choice"}, allowed, 3)
		uniform := got[0] == got[1] && got[1] == got[2]
		if uniform {
			t.Errorf("normalizeTypes left a uniform mix: %v", got)
		}
	})

	t.Run("media tags need media mode", func(t *testing.T) {
		got := normalizeTypes([]string{"image_single_choice"}, allowed, 1)
		if got[0] != "single_choice" {
			t.Errorf("media tag accepted without media mode: %v", got)
		}
		gotMedia := normalizeTypes([]string{"image_single_choice"}, allowedTypes(true), 1)
		if gotMedia[0] != "image_single_choice" {
			t.Errorf("media tag rejected in media mode: %v", gotMedia)
		}
	})
}

func TestPadSuggestions(t *testing.T) {
	defaults := []string{"d1", "d2", "d3", "d4"}

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"exact four", []string{"a", "b", "c", "d"}, []string{"a", "b", "c", "d"}},
		{"truncates extras", []string{"a", "b", "c", "d", "e"}, []string{"a", "b", "c", "d"}},
		{"pads short list", []string{"a"}, []string{"a", "d1", "d2", "d3"}},
		{"drops blanks", []string{"a", " ", "b"}, []string{"a", "b", "d1", "d2"}},
		{"all defaults when empty", nil, defaults},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PadSuggestions(tt.got, defaults)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PadSuggestions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPromptsLoad(t *testing.T) {
	if err := prompts.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	p, err := prompts.BuildQuestion(model.KindFillInBlanks, prompts.QuestionData{Topic: "rivers"})
	if err != nil {
		t.Fatalf("BuildQuestion: %v", err)
	}
	if p == "" {
		t.Error("empty fill-in-blanks prompt")
	}

	tutor, err := prompts.BuildTutor(prompts.TutorData{
		StudentName:    "Alice",
		QuestionText:   "2+2?",
		Options:        prompts.OptionsBlock([]string{"3", "4"}),
		CorrectDisplay: "B",
		StudentDisplay: "A",
		Scenario:       prompts.ScenarioIncorrect,
		AttemptCount:   3,
	})
	if err != nil {
		t.Fatalf("BuildTutor: %v", err)
	}
	for _, want := range []string{"Alice", "INCORRECT", "B. 4", "Attempts so far: 3"} {
		if !strings.Contains(tutor, want) {
			t.Errorf("tutor prompt missing %q", want)
		}
	}
}
