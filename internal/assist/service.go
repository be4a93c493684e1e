package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"quizkit/internal/grader"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDelegateUnavailable = errors.New("delegate unavailable")
)

const delegateTries = 2

type ServiceConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Service wraps the Gemini generateContent API for the judgment tasks the
// core does not implement itself: free-text grading, hints, explanations,
// document analysis, and question extraction.
type Service struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewService(cfg ServiceConfig) *Service {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 18 * time.Second}
	}
	return &Service{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Configured reports whether remote delegate calls are possible at all.
func (s *Service) Configured() bool {
	return s.apiKey != ""
}

type gradePayload struct {
	Score     int    `json:"score"`
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}

// GradeAnswer satisfies grader.Delegate. The rubric lives in the prompt; the
// caller re-derives is_correct from the score boundary, so only score and
// feedback are returned.
func (s *Service) GradeAnswer(ctx context.Context, in grader.DelegateInput) (grader.DelegateResult, error) {
	if !s.Configured() {
		return grader.DelegateResult{}, ErrDelegateUnavailable
	}

	raw, err := s.generate(ctx, "grade", gradingSystemPrompt, buildGradingPrompt(in), 256)
	if err != nil {
		return grader.DelegateResult{}, err
	}

	var out gradePayload
	if err := decodeDelegateJSON(raw, &out); err != nil {
		return grader.DelegateResult{}, err
	}
	return grader.DelegateResult{Score: out.Score, Feedback: strings.TrimSpace(out.Feedback)}, nil
}

type HintInput struct {
	QuestionText  string
	CorrectAnswer string
	StudentAnswer string
}

type Hint struct {
	Hint   string `json:"hint"`
	Source string `json:"source"`
}

// GenerateHint returns one short encouraging sentence. The remote prompt
// forbids restating the answer; the local fallback never sees it.
func (s *Service) GenerateHint(ctx context.Context, in HintInput) (Hint, error) {
	if strings.TrimSpace(in.QuestionText) == "" || strings.TrimSpace(in.CorrectAnswer) == "" {
		return Hint{}, ErrInvalidInput
	}

	if !s.Configured() {
		return Hint{Hint: localHint(in), Source: "local"}, nil
	}

	raw, err := s.generate(ctx, "hint", hintSystemPrompt, buildHintPrompt(in), 128)
	if err != nil {
		return Hint{Hint: localHint(in), Source: "local_fallback"}, nil
	}
	var out struct {
		Hint string `json:"hint"`
	}
	if err := decodeDelegateJSON(raw, &out); err != nil || strings.TrimSpace(out.Hint) == "" {
		return Hint{Hint: localHint(in), Source: "local_fallback"}, nil
	}
	return Hint{Hint: strings.TrimSpace(out.Hint), Source: "delegate"}, nil
}

type ExplanationInput struct {
	QuestionText    string
	CorrectAnswer   string
	StudentQuestion string
}

type Explanation struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// GenerateExplanation returns a short remedial explanation, at most four
// sentences.
func (s *Service) GenerateExplanation(ctx context.Context, in ExplanationInput) (Explanation, error) {
	if strings.TrimSpace(in.QuestionText) == "" || strings.TrimSpace(in.CorrectAnswer) == "" {
		return Explanation{}, ErrInvalidInput
	}

	if !s.Configured() {
		return Explanation{Content: localExplanation(in), Source: "local"}, nil
	}

	raw, err := s.generate(ctx, "explain", explanationSystemPrompt, buildExplanationPrompt(in), 320)
	if err != nil {
		return Explanation{Content: localExplanation(in), Source: "local_fallback"}, nil
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := decodeDelegateJSON(raw, &out); err != nil || strings.TrimSpace(out.Content) == "" {
		return Explanation{Content: localExplanation(in), Source: "local_fallback"}, nil
	}
	return Explanation{Content: clampSentences(out.Content, 4), Source: "delegate"}, nil
}

type DocumentAnalysisInput struct {
	Text          string
	Clarification string
}

type DocumentAnalysis struct {
	Type                   string   `json:"type"`
	Greeting               string   `json:"greeting"`
	Analysis               string   `json:"analysis"`
	Topics                 []string `json:"topics"`
	SuggestedQuestionCount int      `json:"suggested_question_count"`
	Clarification          string   `json:"clarification,omitempty"`
}

// AnalyzeDocument inspects extracted document text and proposes quiz topics.
// There is no useful local fallback, so delegate failures surface to the
// caller as retryable.
func (s *Service) AnalyzeDocument(ctx context.Context, in DocumentAnalysisInput) (*DocumentAnalysis, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrInvalidInput
	}
	if !s.Configured() {
		return nil, ErrDelegateUnavailable
	}

	raw, err := s.generate(ctx, "analyze", documentSystemPrompt, buildDocumentPrompt(in), 1024)
	if err != nil {
		return nil, err
	}
	var out DocumentAnalysis
	if err := decodeDelegateJSON(raw, &out); err != nil {
		return nil, err
	}
	if out.SuggestedQuestionCount <= 0 {
		out.SuggestedQuestionCount = 5
	}
	return &out, nil
}

type LockedField struct {
	Order  int      `json:"order"`
	Fields []string `json:"fields"`
}

type ExtractQuestionsInput struct {
	Text  string
	Count int
	// Locked lists fields the caller has hand-edited; the prompt instructs
	// the model to regenerate around them. Compliance is the model's burden,
	// only the request construction is verifiable here.
	Locked []LockedField
}

type ExtractedQuestion struct {
	QuestionText  string   `json:"question_text"`
	CorrectAnswer string   `json:"correct_answer"`
	Hints         []string `json:"hints"`
	MicroLearning string   `json:"micro_learning"`
	Order         int      `json:"order"`
}

// ExtractQuestions turns extracted document text into an ordered question
// list sized for young students.
func (s *Service) ExtractQuestions(ctx context.Context, in ExtractQuestionsInput) ([]ExtractedQuestion, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrInvalidInput
	}
	if in.Count <= 0 || in.Count > 20 {
		return nil, ErrInvalidInput
	}
	if !s.Configured() {
		return nil, ErrDelegateUnavailable
	}

	raw, err := s.generate(ctx, "extract", extractionSystemPrompt, buildExtractionPrompt(in), 4096)
	if err != nil {
		return nil, err
	}
	var out struct {
		Questions []ExtractedQuestion `json:"questions"`
	}
	if err := decodeDelegateJSON(raw, &out); err != nil {
		return nil, err
	}
	if len(out.Questions) == 0 {
		return nil, fmt.Errorf("%w: empty question list", ErrDelegateUnavailable)
	}
	for i := range out.Questions {
		out.Questions[i].Order = i + 1
		if len(out.Questions[i].Hints) > 3 {
			out.Questions[i].Hints = out.Questions[i].Hints[:3]
		}
	}
	return out.Questions, nil
}

// generate performs one delegate round trip, retrying once with the same
// payload before reporting the delegate unavailable.
func (s *Service) generate(ctx context.Context, task, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(buildGenerateRequest(systemPrompt, userPrompt, maxTokens))
	if err != nil {
		return "", err
	}

	correlationID := uuid.NewString()
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", s.baseURL, s.model, s.apiKey)

	var lastErr error
	for try := 0; try < delegateTries; try++ {
		reply, err := s.doGenerate(ctx, url, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		log.Printf(`{"msg":"delegate call failed","task":%q,"correlation_id":%q,"try":%d,"error":%q}`,
			task, correlationID, try+1, err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrDelegateUnavailable, lastErr)
}

func (s *Service) doGenerate(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(out.firstText())
	if reply == "" {
		return "", errors.New("empty gemini response")
	}
	return reply, nil
}

func buildGenerateRequest(systemPrompt, userPrompt string, maxTokens int) map[string]any {
	return map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]string{
					{"text": userPrompt},
				},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]string{
				{"text": systemPrompt},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.4,
			"maxOutputTokens": maxTokens,
		},
	}
}

// decodeDelegateJSON extracts the outermost JSON object from a model reply
// and unmarshals it. Models wrap JSON in prose or fences often enough that
// a plain Unmarshal is not an option.
func decodeDelegateJSON(reply string, v any) error {
	obj := extractJSON(reply)
	if obj == "" {
		return fmt.Errorf("%w: no JSON object in reply", ErrDelegateUnavailable)
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: %v", ErrDelegateUnavailable, err)
	}
	return nil
}

// extractJSON finds the outermost JSON object in a string, skipping braces
// inside quoted strings.
func extractJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) firstText() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text
			}
		}
	}
	return ""
}
