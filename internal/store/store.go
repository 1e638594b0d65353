package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/quizmate/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS teachers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL,
		teacher_name TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		exam_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT 'single_choice',
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		correct_answers TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		blanks_count INTEGER NOT NULL DEFAULT 0,
		image_base64 TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (exam_id, id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		percentage REAL NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		chat_history TEXT NOT NULL DEFAULT '[]',
		analysis TEXT,
		submitted_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS chat_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		question_id INTEGER NOT NULL DEFAULT 0,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertTeacher records a teacher, keeping the original-case name from the
// first registration.
func (s *Store) UpsertTeacher(t model.Teacher) error {
	_, err := s.db.Exec(
		`INSERT INTO teachers (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Name, time.Now(),
	)
	return err
}

// GetTeacher returns a teacher by ID, or nil if unknown.
func (s *Store) GetTeacher(id string) (*model.Teacher, error) {
	var t model.Teacher
	err := s.db.QueryRow(
		`SELECT id, name, created_at FROM teachers WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateExam inserts an exam together with its initial questions.
func (s *Store) CreateExam(exam model.Exam) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO exams (id, teacher_id, teacher_name, prompt, created_at) VALUES (?, ?, ?, ?, ?)`,
		exam.ID, exam.TeacherID, exam.TeacherName, exam.Prompt, exam.CreatedAt,
	)
	if err != nil {
		return err
	}
	for _, q := range exam.Questions {
		if err := insertQuestion(tx, exam.ID, q); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertQuestion(e execer, examID string, q model.Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = e.Exec(
		`INSERT INTO questions (exam_id, id, type, text, options, correct_answer, correct_answers,
		                        explanation, blanks_count, image_base64, image_url, audio_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		examID, q.ID, q.Type, q.Text, string(options), string(q.CorrectAnswer), string(q.CorrectAnswers),
		q.Explanation, q.BlanksCount, q.ImageBase64, q.ImageURL, q.AudioURL,
	)
	return err
}

// AddQuestion appends a question to an existing exam.
func (s *Store) AddQuestion(examID string, q model.Question) error {
	return insertQuestion(s.db, examID, q)
}

// UpdateQuestion overwrites the editable fields of a question. It returns
// sql.ErrNoRows when the question does not exist.
func (s *Store) UpdateQuestion(examID string, q model.Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE questions SET text = ?, options = ?, correct_answer = ?, correct_answers = ?, explanation = ?
		 WHERE exam_id = ? AND id = ?`,
		q.Text, string(options), string(q.CorrectAnswer), string(q.CorrectAnswers), q.Explanation,
		examID, q.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteQuestion removes a question from an exam and returns the remaining
// question count. It returns sql.ErrNoRows when the question does not exist.
func (s *Store) DeleteQuestion(examID string, questionID int) (int, error) {
	res, err := s.db.Exec(`DELETE FROM questions WHERE exam_id = ? AND id = ?`, examID, questionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, sql.ErrNoRows
	}
	var remaining int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE exam_id = ?`, examID).Scan(&remaining)
	return remaining, err
}

// GetExam returns an exam with its questions ordered by question ID, or nil
// if unknown.
func (s *Store) GetExam(id string) (*model.Exam, error) {
	var exam model.Exam
	err := s.db.QueryRow(
		`SELECT id, teacher_id, teacher_name, prompt, created_at FROM exams WHERE id = ?`, id,
	).Scan(&exam.ID, &exam.TeacherID, &exam.TeacherName, &exam.Prompt, &exam.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, type, text, options, correct_answer, correct_answers, explanation,
		        blanks_count, image_base64, image_url, audio_url
		 FROM questions WHERE exam_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var q model.Question
		var options, correctAnswer, correctAnswers string
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &options, &correctAnswer, &correctAnswers,
			&q.Explanation, &q.BlanksCount, &q.ImageBase64, &q.ImageURL, &q.AudioURL); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %d: %w", q.ID, err)
		}
		if correctAnswer != "" {
			q.CorrectAnswer = json.RawMessage(correctAnswer)
		}
		if correctAnswers != "" {
			q.CorrectAnswers = json.RawMessage(correctAnswers)
		}
		exam.Questions = append(exam.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &exam, nil
}

// InsertSubmission stores a scored submission together with the tutor chat
// transcript it was produced with.
func (s *Store) InsertSubmission(examID string, result model.StudentResult, chat []model.ChatMessage) error {
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return err
	}
	history, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	var analysis any
	if result.Analysis != nil {
		data, err := json.Marshal(result.Analysis)
		if err != nil {
			return err
		}
		analysis = string(data)
	}
	_, err = s.db.Exec(
		`INSERT INTO submissions (exam_id, student_name, score, total, percentage, answers, chat_history, analysis, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		examID, result.StudentName, result.Score, result.Total, result.Percentage,
		string(answers), string(history), analysis, result.SubmittedAt,
	)
	return err
}

// ListSubmissions returns all submissions for an exam, oldest first.
func (s *Store) ListSubmissions(examID string) ([]model.StudentResult, error) {
	rows, err := s.db.Query(
		`SELECT student_name, score, total, percentage, answers, analysis, submitted_at
		 FROM submissions WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.StudentResult
	for rows.Next() {
		var r model.StudentResult
		var answers string
		var analysis sql.NullString
		if err := rows.Scan(&r.StudentName, &r.Score, &r.Total, &r.Percentage, &answers, &analysis, &r.SubmittedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for %q: %w", r.StudentName, err)
		}
		if analysis.Valid && analysis.String != "" {
			var a model.Analysis
			if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
				return nil, fmt.Errorf("decode analysis for %q: %w", r.StudentName, err)
			}
			r.Analysis = &a
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SubmissionCount returns the number of submissions for an exam.
func (s *Store) SubmissionCount(examID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE exam_id = ?`, examID).Scan(&count)
	return count, err
}

// ListTeacherExams returns dashboard summaries for every exam a teacher
// owns, newest first. StudentURL is left for the handler to fill in since it
// depends on the deployment base URL.
func (s *Store) ListTeacherExams(teacherID string) ([]model.TeacherExamSummary, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.prompt, e.created_at,
		        (SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id),
		        (SELECT COUNT(*) FROM submissions sub WHERE sub.exam_id = e.id)
		 FROM exams e WHERE e.teacher_id = ? ORDER BY e.created_at DESC`, teacherID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var summaries []model.TeacherExamSummary
	for rows.Next() {
		var sum model.TeacherExamSummary
		if err := rows.Scan(&sum.ExamID, &sum.Prompt, &sum.CreatedAt, &sum.QuestionCount, &sum.StudentCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// RecordUpload stores the metadata of an uploaded reference file.
func (s *Store) RecordUpload(f model.UploadedFile) error {
	_, err := s.db.Exec(
		`INSERT INTO uploads (id, session_id, name, path, content_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, f.Name, f.Path, f.ContentType, f.Size, f.CreatedAt,
	)
	return err
}

// GetUpload returns one uploaded file's metadata, or nil if unknown.
func (s *Store) GetUpload(id string) (*model.UploadedFile, error) {
	var f model.UploadedFile
	err := s.db.QueryRow(
		`SELECT id, session_id, name, path, content_type, size, created_at FROM uploads WHERE id = ?`, id,
	).Scan(&f.ID, &f.SessionID, &f.Name, &f.Path, &f.ContentType, &f.Size, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteUpload removes an upload record. The caller removes the file itself.
func (s *Store) DeleteUpload(id string) error {
	_, err := s.db.Exec(`DELETE FROM uploads WHERE id = ?`, id)
	return err
}

// ListUploads returns the files attached to an upload session, oldest first.
func (s *Store) ListUploads(sessionID string) ([]model.UploadedFile, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, name, path, content_type, size, created_at
		 FROM uploads WHERE session_id = ? ORDER BY created_at`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []model.UploadedFile
	for rows.Next() {
		var f model.UploadedFile
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Name, &f.Path, &f.ContentType, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// AppendChatMessage records one tutor conversation turn.
func (s *Store) AppendChatMessage(examID, studentName string, questionID int, msg model.ChatMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_logs (exam_id, student_name, question_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		examID, studentName, questionID, msg.Role, msg.Content, time.Now(),
	)
	return err
}

// GetChatHistory returns a student's tutor conversation for an exam in
// insertion order.
func (s *Store) GetChatHistory(examID, studentName string) ([]model.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM chat_logs WHERE exam_id = ? AND student_name = ? ORDER BY id`,
		examID, studentName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
