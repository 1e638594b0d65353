package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/model"
)

// ExportExam builds the portable archive of one exam: questions, every
// submission with its scoring, and each student's tutor transcript.
func (s *Store) ExportExam(examID string) (*model.ExamExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, fmt.Errorf("exam %q not found", examID)
	}

	results, err := s.ListSubmissions(examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	transcripts := make(map[string][]model.ChatMessage)
	for _, r := range results {
		if _, seen := transcripts[r.StudentName]; seen {
			continue
		}
		history, err := s.GetChatHistory(examID, r.StudentName)
		if err != nil {
			return nil, fmt.Errorf("chat history for %q: %w", r.StudentName, err)
		}
		if len(history) > 0 {
			transcripts[r.StudentName] = history
		}
	}

	return &model.ExamExport{
		Exam:        *exam,
		Results:     results,
		Statistics:  grading.Stats(results),
		Transcripts: transcripts,
		ExportedAt:  time.Now().UTC(),
	}, nil
}
