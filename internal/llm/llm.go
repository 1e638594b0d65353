// Package llm talks to an OpenAI-compatible API for question generation,
// tutoring, media and post-submission analysis.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/llm/prompts"
	"github.com/pavelanni/quizmate/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Question type tags. Media variants decorate the three structural kinds.
var baseTypes = []string{"single_choice", "multi_choice", "fill_in_blanks"}

var mediaTypes = []string{
	"image_single_choice", "image_multi_choice", "image_fill_in_blanks",
	"audio_single_choice", "audio_multi_choice", "audio_fill_in_blanks",
}

const defaultTemperature = 0.7

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// SelectTypes asks the LLM to plan a varied mix of question types for an
// exam. It never fails: invalid or unreachable responses fall back to a
// round-robin mix.
func (c *Client) SelectTypes(ctx context.Context, topic string, count int, withMedia bool) []string {
	allowed := allowedTypes(withMedia)
	prompt, err := prompts.BuildTypeSelector(prompts.SelectorData{
		Topic:     topic,
		Count:     count,
		Types:     strings.Join(allowed, ", "),
		WithMedia: withMedia,
	})
	if err != nil {
		slog.Error("build type selector prompt", "error", err)
		return fallbackTypes(count)
	}

	raw, err := c.completeJSON(ctx, prompt, nil, 0.5)
	if err != nil {
		slog.Warn("type selection failed, using round-robin mix", "error", err)
		return fallbackTypes(count)
	}

	var parsed struct {
		Types []string `json:"types"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed.Types) == 0 {
		slog.Warn("unparseable type selection, using round-robin mix", "raw", raw)
		return fallbackTypes(count)
	}
	return normalizeTypes(parsed.Types, allowed, count)
}

func allowedTypes(withMedia bool) []string {
	if !withMedia {
		return baseTypes
	}
	return append(append([]string(nil), baseTypes...), mediaTypes...)
}

// fallbackTypes cycles through the structural kinds, starting with
// single-choice so short exams stay mostly single-choice.
func fallbackTypes(count int) []string {
	types := make([]string, count)
	for i := range types {
		types[i] = baseTypes[i%len(baseTypes)]
	}
	return types
}

// normalizeTypes fits an LLM-proposed type list to the requested count,
// replaces unknown tags and breaks up an all-identical mix.
func normalizeTypes(proposed, allowed []string, count int) []string {
	ok := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		ok[t] = true
	}

	types := make([]string, count)
	for i := range types {
		if i < len(proposed) && ok[proposed[i]] {
			types[i] = proposed[i]
		} else {
			types[i] = baseTypes[i%len(baseTypes)]
		}
	}

	if count > 1 {
		uniform := true
		for _, t := range types[1:] {
			if t != types[0] {
				uniform = false
				break
			}
		}
		if uniform {
			return fallbackTypes(count)
		}
	}
	return types
}

// QuestionSpec describes one question to generate.
type QuestionSpec struct {
	ID          int
	TypeTag     string
	Topic       string
	Context     string // extracted text from uploaded reference files
	Existing    []string
	Temperature float32
	MediaDir    string // where generated audio files are written
}

// GenerateQuestion produces one validated question. Media generation failures
// degrade the question to its text-only form rather than failing it.
func (c *Client) GenerateQuestion(ctx context.Context, spec QuestionSpec) (model.Question, error) {
	kind := model.ClassifyType(spec.TypeTag)
	prompt, err := prompts.BuildQuestion(kind, prompts.QuestionData{
		Topic:      spec.Topic,
		Context:    spec.Context,
		QuestionID: spec.ID,
		Existing:   strings.Join(spec.Existing, "\n"),
	})
	if err != nil {
		return model.Question{}, fmt.Errorf("build question prompt: %w", err)
	}

	temp := spec.Temperature
	if temp == 0 {
		temp = defaultTemperature
	}
	raw, err := c.completeJSON(ctx, prompt, nil, temp)
	if err != nil {
		return model.Question{}, err
	}

	var q model.Question
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return model.Question{}, fmt.Errorf("parse generated question: %w (raw: %s)", err, raw)
	}
	q.ID = spec.ID
	q.Type = spec.TypeTag

	if err := validateQuestion(q); err != nil {
		return model.Question{}, fmt.Errorf("generated question invalid: %w (raw: %s)", err, raw)
	}

	c.attachMedia(ctx, &q, spec)
	return q, nil
}

// validateQuestion enforces the structural contract of a generated question.
func validateQuestion(q model.Question) error {
	switch q.Kind() {
	case model.KindFillInBlanks:
		answers := grading.StringList(q.CorrectAnswers)
		if len(answers) == 0 {
			return fmt.Errorf("no blank answers")
		}
		marks := grading.CountBlanks(q.Text)
		if marks != len(answers) {
			return fmt.Errorf("%d blank markers but %d answers", marks, len(answers))
		}
		if q.BlanksCount != 0 && q.BlanksCount != marks {
			return fmt.Errorf("blanks_count %d does not match %d markers", q.BlanksCount, marks)
		}
		return nil

	case model.KindMultiChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("%d options", len(q.Options))
		}
		indices := grading.IndexList(q.CorrectAnswers)
		if len(indices) == 0 {
			return fmt.Errorf("no correct indices")
		}
		for _, i := range indices {
			if i < 0 || i >= len(q.Options) {
				return fmt.Errorf("correct index %d out of range", i)
			}
		}
		return nil

	default:
		if len(q.Options) < 2 {
			return fmt.Errorf("%d options", len(q.Options))
		}
		letter := grading.CanonicalLetter(q.CorrectAnswer)
		if letter == "" {
			return fmt.Errorf("no correct answer")
		}
		if idx := int(letter[0] - 'A'); idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("correct answer %q out of range", letter)
		}
		return nil
	}
}

// TutorRequest carries the full question context for one tutor turn.
type TutorRequest struct {
	StudentName    string
	Question       model.Question
	StudentDisplay string // canonical display of the current answer, "" if none
	AnswerCorrect  bool
	Answered       bool
	AttemptCount   int // distinct answers tried so far; escalates hint strength
	History        []model.ChatMessage
	Message        string // the user message, or a silent context push
}

// TutorReply produces the tutor's next reply plus its proposed follow-up
// prompts. Callers pad the prompts to exactly four with PadSuggestions.
func (c *Client) TutorReply(ctx context.Context, req TutorRequest) (string, []string, error) {
	scenario := prompts.ScenarioUnanswered
	if req.Answered {
		scenario = prompts.ScenarioIncorrect
		if req.AnswerCorrect {
			scenario = prompts.ScenarioCorrect
		}
	}
	out := grading.Grade(req.Question, model.Answer{})
	system, err := prompts.BuildTutor(prompts.TutorData{
		StudentName:    req.StudentName,
		QuestionText:   req.Question.Text,
		Options:        prompts.OptionsBlock(req.Question.Options),
		CorrectDisplay: out.CorrectDisplay,
		StudentDisplay: req.StudentDisplay,
		Scenario:       scenario,
		AttemptCount:   req.AttemptCount,
	})
	if err != nil {
		return "", nil, fmt.Errorf("build tutor prompt: %w", err)
	}

	history := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		history = append(history, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	history = append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	raw, err := c.completeJSON(ctx, system, history, 0.8)
	if err != nil {
		return "", nil, err
	}

	var parsed struct {
		Reply            string   `json:"reply"`
		SuggestedPrompts []string `json:"suggested_prompts"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", nil, fmt.Errorf("parse tutor response: %w (raw: %s)", err, raw)
	}
	if strings.TrimSpace(parsed.Reply) == "" {
		return "", nil, fmt.Errorf("tutor returned empty reply (raw: %s)", raw)
	}
	return parsed.Reply, parsed.SuggestedPrompts, nil
}

// SuggestedPromptCount is the fixed number of tap-to-send prompts shown
// under the tutor chat.
const SuggestedPromptCount = 4

// PadSuggestions fits a suggestion list to exactly SuggestedPromptCount
// entries, dropping blanks, truncating extras and padding from defaults.
func PadSuggestions(got, defaults []string) []string {
	out := make([]string, 0, SuggestedPromptCount)
	for _, s := range got {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
		if len(out) == SuggestedPromptCount {
			return out
		}
	}
	for _, s := range defaults {
		if len(out) == SuggestedPromptCount {
			break
		}
		out = append(out, s)
	}
	return out
}

// AnalysisInput carries a scored submission for qualitative review.
type AnalysisInput struct {
	StudentName string
	Score       int
	Total       int
	Percentage  float64
	Details     map[string]model.AnswerDetail
	Chat        []model.ChatMessage
}

// AnalyzePerformance produces the teacher-facing qualitative assessment of a
// submission. The returned score is clamped to 0-10.
func (c *Client) AnalyzePerformance(ctx context.Context, in AnalysisInput) (*model.Analysis, error) {
	prompt, err := prompts.BuildAnalysis(prompts.AnalysisData{
		StudentName: in.StudentName,
		Score:       in.Score,
		Total:       in.Total,
		Percentage:  in.Percentage,
		Details:     detailsBlock(in.Details),
		Chat:        chatBlock(in.Chat),
	})
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}

	raw, err := c.completeJSON(ctx, prompt, nil, 0.3)
	if err != nil {
		return nil, err
	}

	var analysis model.Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis response: %w (raw: %s)", err, raw)
	}
	if analysis.Score < 0 {
		analysis.Score = 0
	}
	if analysis.Score > 10 {
		analysis.Score = 10
	}
	return &analysis, nil
}

func detailsBlock(details map[string]model.AnswerDetail) string {
	var sb strings.Builder
	for id, d := range details {
		verdict := "WRONG"
		if d.IsCorrect {
			verdict = "CORRECT"
		}
		fmt.Fprintf(&sb, "Q%s: %s, answered %q (correct: %q)\n", id, verdict, d.StudentAnswer, d.CorrectAnswer)
	}
	return sb.String()
}

func chatBlock(chat []model.ChatMessage) string {
	var sb strings.Builder
	for _, m := range chat {
		role := "Student"
		if m.Role == model.RoleAssistant {
			role = "Tutor"
		}
		sb.WriteString(role + ": " + m.Content + "\n")
	}
	return sb.String()
}

// completeJSON runs one chat completion with a system prompt, optional
// conversation history and JSON-object response format.
func (c *Client) completeJSON(ctx context.Context, system string, history []openai.ChatCompletionMessage, temperature float32) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	msgs = append(msgs, history...)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}
