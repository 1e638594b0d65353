package llm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/quizmate/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// attachMedia fills in the image or audio decoration for media question
// variants. Failures are logged and the question keeps its text-only form.
func (c *Client) attachMedia(ctx context.Context, q *model.Question, spec QuestionSpec) {
	switch {
	case strings.HasPrefix(spec.TypeTag, "image_"):
		b64, err := c.GenerateImage(ctx, imagePrompt(spec.Topic, q.Text))
		if err != nil {
			slog.Warn("image generation failed, keeping text-only question",
				"question_id", q.ID, "error", err)
			return
		}
		q.ImageBase64 = b64

	case strings.HasPrefix(spec.TypeTag, "audio_"):
		url, err := c.GenerateAudio(ctx, q.Text, spec.MediaDir)
		if err != nil {
			slog.Warn("audio generation failed, keeping text-only question",
				"question_id", q.ID, "error", err)
			return
		}
		q.AudioURL = url
	}
}

func imagePrompt(topic, questionText string) string {
	return fmt.Sprintf(
		"A clear, simple illustration for an exam question about %s. The question: %s. No text in the image.",
		topic, questionText)
}

// GenerateImage renders an illustration via the Images API and returns it as
// base64 PNG data.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE2,
		N:              1,
		Size:           openai.CreateImageSize512x512,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("image API call: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("image API returned no data")
	}
	return resp.Data[0].B64JSON, nil
}

// GenerateAudio synthesizes the question text via the TTS API, writes the MP3
// under dir and returns the public URL path it is served from.
func (c *Client) GenerateAudio(ctx context.Context, text, dir string) (string, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.TTSModel1,
		Input: text,
		Voice: openai.VoiceAlloy,
	})
	if err != nil {
		return "", fmt.Errorf("speech API call: %w", err)
	}
	defer resp.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	name := "audio-" + randomHex(8) + ".mp3"
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return "/uploads/" + name, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
