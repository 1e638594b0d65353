// Package api is the typed HTTP client for the quiz backend contract. All
// methods take a context and return decoded structs; transport and decoding
// details stay behind this boundary.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/quizmate/internal/events"
	"github.com/pavelanni/quizmate/internal/model"
)

// ErrNotFound reports a 404 from the backend; callers branch on it to tell
// a dead link from a transport failure.
var ErrNotFound = errors.New("not found")

const streamReconnectDelay = 500 * time.Millisecond

// Client talks to one quiz backend.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the backend at baseURL. A nil httpClient uses a
// default with a sane timeout; the SSE stream manages its own lifetime.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ExamView is the student-facing exam payload.
type ExamView struct {
	ExamID      string           `json:"exam_id"`
	Prompt      string           `json:"prompt"`
	TeacherName string           `json:"teacher_name"`
	Questions   []model.Question `json:"questions"`
}

// FetchExam loads an exam by its shareable ID.
func (c *Client) FetchExam(ctx context.Context, examID string) (*ExamView, error) {
	var view ExamView
	if err := c.doJSON(ctx, http.MethodGet, "/exam/"+examID, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ExamFull is the teacher-facing exam payload.
type ExamFull struct {
	ExamID       string           `json:"exam_id"`
	TeacherID    string           `json:"teacher_id"`
	TeacherName  string           `json:"teacher_name"`
	Prompt       string           `json:"prompt"`
	Questions    []model.Question `json:"questions"`
	StudentURL   string           `json:"student_url"`
	StudentCount int              `json:"student_count"`
}

// FetchExamFull loads the teacher view of an exam.
func (c *Client) FetchExamFull(ctx context.Context, examID string) (*ExamFull, error) {
	var view ExamFull
	if err := c.doJSON(ctx, http.MethodGet, "/exam/"+examID+"/full", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ResultsView pairs an exam's submissions with their aggregate statistics.
type ResultsView struct {
	ExamID     string                `json:"exam_id"`
	Results    []model.StudentResult `json:"results"`
	Statistics model.Statistics      `json:"statistics"`
}

// FetchResults loads all submissions for an exam.
func (c *Client) FetchResults(ctx context.Context, examID string) (*ResultsView, error) {
	var view ResultsView
	if err := c.doJSON(ctx, http.MethodGet, "/exam/"+examID+"/results", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// TeacherBoard is the teacher dashboard's exam list payload.
type TeacherBoard struct {
	TeacherID   string                     `json:"teacher_id"`
	TeacherName string                     `json:"teacher_name"`
	Exams       []model.TeacherExamSummary `json:"exams"`
}

// TeacherExams loads the summaries for every exam a teacher owns.
func (c *Client) TeacherExams(ctx context.Context, teacherID string) (*TeacherBoard, error) {
	var board TeacherBoard
	if err := c.doJSON(ctx, http.MethodGet, "/exam/teacher/"+teacherID, nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// RegisterTeacher resolves a teacher name to its deterministic dashboard ID.
func (c *Client) RegisterTeacher(ctx context.Context, name string) (string, error) {
	var resp struct {
		TeacherID string `json:"teacher_id"`
	}
	body := map[string]string{"teacher_name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/register-teacher", body, &resp); err != nil {
		return "", err
	}
	return resp.TeacherID, nil
}

// CreateExamRequest are the teacher's exam parameters.
type CreateExamRequest struct {
	TeacherName   string  `json:"teacher_name"`
	Prompt        string  `json:"prompt"`
	QuestionCount int     `json:"question_count"`
	SessionID     string  `json:"session_id,omitempty"`
	Temperature   float32 `json:"temperature,omitempty"`
}

// CreateExamResponse carries the new exam's links and the questions
// generated so far; the rest arrive on the event stream.
type CreateExamResponse struct {
	ExamID        string           `json:"exam_id"`
	TeacherID     string           `json:"teacher_id"`
	StudentURL    string           `json:"student_url"`
	TeacherURL    string           `json:"teacher_url"`
	QuestionCount int              `json:"question_count"`
	Questions     []model.Question `json:"questions"`
}

// CreateExam starts exam generation.
func (c *Client) CreateExam(ctx context.Context, req CreateExamRequest) (*CreateExamResponse, error) {
	var resp CreateExamResponse
	if err := c.doJSON(ctx, http.MethodPost, "/create-exam", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TutorChatRequest is one tutor turn: either a visible student message or a
// silent answer-selection push.
type TutorChatRequest struct {
	ExamID       string              `json:"exam_id"`
	QuestionID   int                 `json:"question_id"`
	StudentName  string              `json:"student_name"`
	Message      string              `json:"message"`
	History      []model.ChatMessage `json:"history,omitempty"`
	Answer       json.RawMessage     `json:"student_answer,omitempty"`
	AttemptCount int                 `json:"attempt_count"`
}

// TutorChatResponse is the tutor's reply with its four follow-up prompts.
type TutorChatResponse struct {
	Reply            string   `json:"reply"`
	SuggestedPrompts []string `json:"suggested_prompts"`
}

// TutorChat sends one tutor turn. The context governs cancellation: a
// superseded silent push is abandoned by cancelling its context.
func (c *Client) TutorChat(ctx context.Context, req TutorChatRequest) (*TutorChatResponse, error) {
	var resp TutorChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tutor/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TutorHistory loads a student's stored tutor conversation.
func (c *Client) TutorHistory(ctx context.Context, examID, studentName string) ([]model.ChatMessage, error) {
	var resp struct {
		History []model.ChatMessage `json:"history"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/tutor/history/"+examID+"/"+studentName, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// SubmitRequest is a completed attempt: wire-encoded answers keyed by
// question ID plus the visible tutor transcript.
type SubmitRequest struct {
	StudentName string                     `json:"student_name"`
	Answers     map[string]json.RawMessage `json:"answers"`
	ChatHistory []model.ChatMessage        `json:"chat_history,omitempty"`
}

// SubmitResult is the server's authoritative scoring of an attempt.
type SubmitResult struct {
	StudentName   string                        `json:"student_name"`
	Score         int                           `json:"score"`
	Total         int                           `json:"total_questions"`
	Percentage    float64                       `json:"percentage"`
	AnswerDetails map[string]model.AnswerDetail `json:"answer_details"`
	Analysis      *model.Analysis               `json:"analysis"`
}

// SubmitExam submits a completed attempt for authoritative scoring.
func (c *Client) SubmitExam(ctx context.Context, examID string, req SubmitRequest) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/exam/"+examID+"/submit", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteQuestion removes a question and returns the remaining count.
func (c *Client) DeleteQuestion(ctx context.Context, examID string, questionID int) (int, error) {
	var resp struct {
		Remaining int `json:"remaining_questions"`
	}
	path := "/exam/" + examID + "/question/" + strconv.Itoa(questionID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Remaining, nil
}

// UpdateQuestion overwrites a question's editable fields.
func (c *Client) UpdateQuestion(ctx context.Context, examID string, q model.Question) error {
	path := "/exam/" + examID + "/question/" + strconv.Itoa(q.ID)
	return c.doJSON(ctx, http.MethodPut, path, q, nil)
}

// Upload attaches a reference file to an upload session.
func (c *Client) Upload(ctx context.Context, sessionID, name string, r io.Reader) (*model.UploadedFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var uploaded model.UploadedFile
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &uploaded, nil
}

// StreamEvents subscribes to an exam's live event stream. Frames arrive on
// the returned channel in server order; dropped connections reconnect
// transparently until the context is cancelled, at which point the channel
// closes. The channel is unbuffered so consumers see arrival order.
func (c *Client) StreamEvents(ctx context.Context, examID string) <-chan events.Event {
	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		for {
			if err := c.streamOnce(ctx, examID, ch); err != nil && ctx.Err() == nil {
				slog.Warn("event stream dropped, reconnecting", "exam_id", examID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(streamReconnectDelay):
			}
		}
	}()
	return ch
}

func (c *Client) streamOnce(ctx context.Context, examID string, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events/"+examID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// The stream outlives any client timeout; rely on context cancellation.
	resp, err := (&http.Client{Transport: c.http.Transport}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			slog.Warn("malformed event frame", "exam_id", examID, "error", err)
			continue
		}
		select {
		case ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// doJSON runs one request with an optional JSON body, decoding the response
// into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}
	return nil
}
