package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Kind is the structural classification of a question. Media (image, audio)
// is an orthogonal decoration carried by the question fields, not a kind.
type Kind int

const (
	KindSingleChoice Kind = iota
	KindMultiChoice
	KindFillInBlanks
)

func (k Kind) String() string {
	switch k {
	case KindMultiChoice:
		return "multi_choice"
	case KindFillInBlanks:
		return "fill_in_blanks"
	default:
		return "single_choice"
	}
}

// BlankDelimiter marks a fill-in position inside a question's text.
const BlankDelimiter = "___"

// ClassifyType maps a raw question type tag to its structural kind. Upstream
// tags are compound ("image_single_choice", "audio_fill_in_blanks"), so the
// match is by substring containment: anything containing "fill_in" is a
// fill-in-blanks question, anything containing "multi" is multi-choice, and
// everything else, including an empty tag, is single-choice.
func ClassifyType(tag string) Kind {
	switch {
	case strings.Contains(tag, "fill_in"):
		return KindFillInBlanks
	case strings.Contains(tag, "multi"):
		return KindMultiChoice
	default:
		return KindSingleChoice
	}
}

// Question is one exam question. The correct-answer encoding is
// variant-dependent and kept raw: single-choice questions carry a letter or
// a 0-based index in CorrectAnswer, multi-choice an index array and
// fill-in-blanks an ordered string array in CorrectAnswers. The grading
// package owns decoding.
type Question struct {
	ID             int             `json:"id"`
	Type           string          `json:"type,omitempty"`
	Text           string          `json:"text"`
	Options        []string        `json:"options,omitempty"`
	CorrectAnswer  json.RawMessage `json:"correct_answer,omitempty"`
	CorrectAnswers json.RawMessage `json:"correct_answers,omitempty"`
	Explanation    string          `json:"explanation,omitempty"`
	BlanksCount    int             `json:"blanks_count,omitempty"`
	ImageBase64    string          `json:"image_base64,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	AudioURL       string          `json:"audio_url,omitempty"`
}

func (q Question) Kind() Kind { return ClassifyType(q.Type) }

func (q Question) HasImage() bool { return q.ImageBase64 != "" || q.ImageURL != "" }

func (q Question) HasAudio() bool { return q.AudioURL != "" }

// Answer is a student's client-local answer to one question. Exactly one
// field is meaningful, determined by the question's kind: Letter for
// single-choice, Indices (sorted ascending) for multi-choice and Blanks (one
// entry per blank) for fill-in-blanks.
type Answer struct {
	Letter  string
	Indices []int
	Blanks  []string
}

// Empty reports whether the answer counts as unanswered for the given kind.
// A fill-in-blanks answer is empty until at least one blank holds text.
func (a Answer) Empty(k Kind) bool {
	switch k {
	case KindMultiChoice:
		return len(a.Indices) == 0
	case KindFillInBlanks:
		for _, b := range a.Blanks {
			if strings.TrimSpace(b) != "" {
				return false
			}
		}
		return true
	default:
		return strings.TrimSpace(a.Letter) == ""
	}
}

// Equal is a structural comparison. Attempt counting relies on it: two
// answers reached through different toggle sequences but holding the same
// values are the same answer.
func (a Answer) Equal(b Answer) bool {
	if a.Letter != b.Letter || len(a.Indices) != len(b.Indices) || len(a.Blanks) != len(b.Blanks) {
		return false
	}
	for i, v := range a.Indices {
		if b.Indices[i] != v {
			return false
		}
	}
	for i, v := range a.Blanks {
		if b.Blanks[i] != v {
			return false
		}
	}
	return true
}

// MarshalJSON emits the wire shape the backend expects: a bare string for
// single-choice, an index array for multi-choice, a string array for
// fill-in-blanks.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Indices != nil:
		return json.Marshal(a.Indices)
	case a.Blanks != nil:
		return json.Marshal(a.Blanks)
	default:
		return json.Marshal(a.Letter)
	}
}

// DecodeAnswer parses a wire-encoded answer for a question of the given
// kind. Malformed payloads yield a zero Answer rather than an error; the
// grading rules score those as incorrect.
func DecodeAnswer(k Kind, raw json.RawMessage) Answer {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Answer{}
	}
	switch k {
	case KindMultiChoice:
		var indices []int
		if err := json.Unmarshal(raw, &indices); err != nil {
			return Answer{}
		}
		return Answer{Indices: indices}
	case KindFillInBlanks:
		var blanks []string
		if err := json.Unmarshal(raw, &blanks); err != nil {
			return Answer{}
		}
		return Answer{Blanks: blanks}
	default:
		var letter string
		if err := json.Unmarshal(raw, &letter); err != nil {
			return Answer{}
		}
		return Answer{Letter: letter}
	}
}

// Exam groups the generated questions under a shareable identifier.
type Exam struct {
	ID          string     `json:"exam_id"`
	TeacherID   string     `json:"teacher_id"`
	TeacherName string     `json:"teacher_name"`
	Prompt      string     `json:"prompt"`
	Questions   []Question `json:"questions"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Teacher is a registered exam author. There is no authentication; the ID is
// a deterministic hash of the normalized name, so the same name always maps
// to the same dashboard.
type Teacher struct {
	ID        string    `json:"teacher_id"`
	Name      string    `json:"teacher_name"`
	CreatedAt time.Time `json:"created_at"`
}

// TeacherExamSummary is one row of the teacher dashboard's exam list. The
// dashboard mutates QuestionCount and StudentCount live from push events.
type TeacherExamSummary struct {
	ExamID        string    `json:"exam_id"`
	Prompt        string    `json:"prompt"`
	QuestionCount int       `json:"question_count"`
	StudentCount  int       `json:"student_count"`
	StudentURL    string    `json:"student_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChatRole tags a tutor transcript entry.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry in the tutor transcript.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// AnswerDetail is the per-question record inside an exam result. Both answer
// fields are canonical display strings, not wire encodings.
type AnswerDetail struct {
	StudentAnswer string `json:"student_answer"`
	CorrectAnswer string `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
	Explanation   string `json:"explanation"`
	QuestionText  string `json:"question_text"`
}

// Analysis is the LLM's qualitative assessment of a submission, attached to
// an already-displayed result after the background sync completes.
type Analysis struct {
	Score   int    `json:"score"`
	Summary string `json:"summary"`
}

// StudentResult is one student's scored submission.
type StudentResult struct {
	StudentName string                  `json:"student_name"`
	Score       int                     `json:"score"`
	Total       int                     `json:"total"`
	Percentage  float64                 `json:"percentage"`
	Answers     map[string]AnswerDetail `json:"answers"`
	SubmittedAt time.Time               `json:"submitted_at"`
	Analysis    *Analysis               `json:"analysis,omitempty"`
}

// Statistics aggregates submission percentages for the teacher views.
type Statistics struct {
	Average float64 `json:"average_score"`
	Highest float64 `json:"highest_score"`
	Lowest  float64 `json:"lowest_score"`
}

// UploadedFile records a reference file a teacher attached to an exam
// prompt, keyed by the upload session so files can be gathered before the
// exam itself exists.
type UploadedFile struct {
	ID          string    `json:"file_id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Path        string    `json:"-"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExamExport is the portable JSON archive of one exam: the questions, every
// submission and the per-student tutor transcripts.
type ExamExport struct {
	Exam        Exam                     `json:"exam"`
	Results     []StudentResult          `json:"results"`
	Statistics  Statistics               `json:"statistics"`
	Transcripts map[string][]ChatMessage `json:"transcripts,omitempty"`
	ExportedAt  time.Time                `json:"exported_at"`
}

// Config holds runtime server parameters set via CLI flags.
type Config struct {
	Addr      string
	DBPath    string
	UploadDir string
	BaseURL   string // public base URL used in shareable student/teacher links
	Media     bool   // generate image/audio media for media question types
}
