package model

import (
	"encoding/json"
	"testing"
)

func TestClassifyType(t *testing.T) {
	tests := []struct {
		tag  string
		want Kind
	}{
		{"single_choice", KindSingleChoice},
		{"multi_choice", KindMultiChoice},
		{"fill_in_blanks", KindFillInBlanks},
		{"image_single_choice", KindSingleChoice},
		{"image_multi_choice", KindMultiChoice},
		{"audio_fill_in_blanks", KindFillInBlanks},
		{"", KindSingleChoice},
		{"something_new", KindSingleChoice},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := ClassifyType(tt.tag); got != tt.want {
				t.Errorf("ClassifyType(%q) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestAnswerEmpty(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ans  Answer
		want bool
	}{
		{"zero value single", KindSingleChoice, Answer{}, true},
		{"whitespace letter", KindSingleChoice, Answer{Letter: "  "}, true},
		{"letter set", KindSingleChoice, Answer{Letter: "B"}, false},
		{"no indices", KindMultiChoice, Answer{}, true},
		{"one index", KindMultiChoice, Answer{Indices: []int{0}}, false},
		{"no blanks", KindFillInBlanks, Answer{}, true},
		{"all blanks whitespace", KindFillInBlanks, Answer{Blanks: []string{"", "  "}}, true},
		{"one blank filled", KindFillInBlanks, Answer{Blanks: []string{"", "Rome"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ans.Empty(tt.kind); got != tt.want {
				t.Errorf("Empty(%v) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestAnswerEqual(t *testing.T) {
	a := Answer{Indices: []int{0, 2}}
	if !a.Equal(Answer{Indices: []int{0, 2}}) {
		t.Error("identical index answers not equal")
	}
	if a.Equal(Answer{Indices: []int{0}}) {
		t.Error("different index answers equal")
	}
	if (Answer{Blanks: []string{"8", "5"}}).Equal(Answer{Blanks: []string{"8", "4"}}) {
		t.Error("different blank answers equal")
	}
	if (Answer{Letter: "a"}).Equal(Answer{Letter: "A"}) {
		t.Error("Equal is structural; case normalization belongs to grading")
	}
}

func TestAnswerMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		ans  Answer
		want string
	}{
		{"letter", Answer{Letter: "C"}, `"C"`},
		{"indices", Answer{Indices: []int{2, 0}}, `[2,0]`},
		{"blanks", Answer{Blanks: []string{"8", "5"}}, `["8","5"]`},
		{"zero value", Answer{}, `""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ans)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalJSON = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeAnswer(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		raw  string
		want Answer
	}{
		{"letter", KindSingleChoice, `"C"`, Answer{Letter: "C"}},
		{"indices", KindMultiChoice, `[0, 2]`, Answer{Indices: []int{0, 2}}},
		{"blanks", KindFillInBlanks, `["8", "5"]`, Answer{Blanks: []string{"8", "5"}}},
		{"null", KindSingleChoice, `null`, Answer{}},
		{"empty", KindMultiChoice, ``, Answer{}},
		{"wrong shape for kind", KindMultiChoice, `"C"`, Answer{}},
		{"malformed", KindFillInBlanks, `{"oops"`, Answer{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeAnswer(tt.kind, json.RawMessage(tt.raw))
			if !got.Equal(tt.want) {
				t.Errorf("DecodeAnswer = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeMarshalAgree(t *testing.T) {
	// Whatever the client sends, the server decodes back to the same answer.
	tests := []struct {
		kind Kind
		ans  Answer
	}{
		{KindSingleChoice, Answer{Letter: "D"}},
		{KindMultiChoice, Answer{Indices: []int{1, 3}}},
		{KindFillInBlanks, Answer{Blanks: []string{"Hà Nội", "Việt Nam"}}},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(tt.ans)
		if err != nil {
			t.Fatal(err)
		}
		if got := DecodeAnswer(tt.kind, raw); !got.Equal(tt.ans) {
			t.Errorf("round trip for %v: got %+v, want %+v", tt.kind, got, tt.ans)
		}
	}
}

func TestQuestionMedia(t *testing.T) {
	if (Question{}).HasImage() || (Question{}).HasAudio() {
		t.Error("bare question reports media")
	}
	if !(Question{ImageBase64: "abc"}).HasImage() {
		t.Error("base64 image not detected")
	}
	if !(Question{ImageURL: "/uploads/x.png"}).HasImage() {
		t.Error("image URL not detected")
	}
	if !(Question{AudioURL: "/uploads/x.mp3"}).HasAudio() {
		t.Error("audio URL not detected")
	}
}

func TestKindString(t *testing.T) {
	if KindSingleChoice.String() != "single_choice" ||
		KindMultiChoice.String() != "multi_choice" ||
		KindFillInBlanks.String() != "fill_in_blanks" {
		t.Error("Kind string names drifted from wire tags")
	}
}
