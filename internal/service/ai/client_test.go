package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"
)

type stubGenerator struct {
	text   string
	err    error
	delay  time.Duration
	prompt string
	doc    Document
	calls  int
}

func (s *stubGenerator) Generate(ctx context.Context, doc Document, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	s.doc = doc
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.text, s.err
}

func (s *stubGenerator) Provider() string { return "stub" }
func (s *stubGenerator) Model() string    { return "stub-model" }

func testRequest() Request {
	return Request{
		Document: Document{
			Name:     "cv.pdf",
			MIMEType: "application/pdf",
			Base64:   base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
		},
		JobTitle:     "Backend Engineer",
		Requirements: "Go, PostgreSQL",
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gen := &stubGenerator{text: "```json\n{\"recommendation\":\"INTERVIEW\",\"matchScore\":91}\n```"}
	client := NewClient(gen, zap.New(core))

	res, err := client.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if res.MatchScore != 91 {
		t.Fatalf("unexpected score %d", res.MatchScore)
	}
	if !strings.Contains(gen.prompt, "Vaga: Backend Engineer") || !strings.Contains(gen.prompt, "Go, PostgreSQL") {
		t.Fatalf("prompt missing job profile: %s", gen.prompt)
	}
	if gen.doc.MIMEType != "application/pdf" {
		t.Fatalf("document not forwarded: %+v", gen.doc)
	}
	if logs.FilterMessage("document screened").Len() != 1 {
		t.Fatalf("expected completion log")
	}
	entry := logs.FilterMessage("document screened").All()[0]
	if entry.ContextMap()["ai_provider"] != "stub" {
		t.Fatalf("missing provider field: %#v", entry.ContextMap())
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	gen := &stubGenerator{text: `{"recommendation":"INTERVIEW"}`, delay: 200 * time.Millisecond}
	client := NewClient(gen, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := client.Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "Tempo limite") || !strings.Contains(err.Error(), "(20ms)") {
		t.Fatalf("timeout message must name the configured deadline: %q", err.Error())
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout did not race the slow call")
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		message string
	}{
		{
			name:    "api 400",
			err:     fmt.Errorf("generate content: %w", genai.APIError{Code: http.StatusBadRequest, Message: "bad blob", Status: "INVALID_ARGUMENT"}),
			want:    ErrInvalidDocument,
			message: MsgInvalidDocument,
		},
		{
			name:    "api 429",
			err:     genai.APIError{Code: http.StatusTooManyRequests, Message: "quota", Status: "RESOURCE_EXHAUSTED"},
			want:    ErrRateLimited,
			message: MsgRateLimited,
		},
		{
			name:    "text 429",
			err:     errors.New("error, status code: 429, message: slow down"),
			want:    ErrRateLimited,
			message: MsgRateLimited,
		},
		{
			name:    "other",
			err:     errors.New("connection reset by peer"),
			want:    ErrUpstream,
			message: "connection reset by peer",
		},
		{
			name:    "deadline from generator",
			err:     fmt.Errorf("generate content: %w", context.DeadlineExceeded),
			want:    ErrTimeout,
			message: MsgTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{err: tt.err}
			_, err := NewClient(gen, nil).Analyze(context.Background(), testRequest())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if err.Error() != tt.message {
				t.Fatalf("message = %q, want %q", err.Error(), tt.message)
			}
			if gen.calls != 1 {
				t.Fatalf("expected a single attempt, got %d", gen.calls)
			}
		})
	}
}

func TestAnalyzeEmptyAndMalformed(t *testing.T) {
	_, err := NewClient(&stubGenerator{text: ""}, nil).Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected empty response error, got %v", err)
	}
	_, err = NewClient(&stubGenerator{text: "sem json"}, nil).Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestAnalyzeRejectsEmptyDocument(t *testing.T) {
	gen := &stubGenerator{}
	req := testRequest()
	req.Document.Base64 = ""
	_, err := NewClient(gen, nil).Analyze(context.Background(), req)
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not be called for empty documents")
	}
}

func TestGeminiGeneratorRejectsBadBase64(t *testing.T) {
	var g GeminiGenerator
	_, err := g.Generate(context.Background(), Document{Base64: "%%%"}, "prompt")
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
}

func TestDocumentMessage(t *testing.T) {
	msg := documentMessage(Document{MIMEType: "image/png", Base64: "aGk="}, "avalie")
	if len(msg.UserInputMultiContent) != 2 {
		t.Fatalf("expected attachment and text parts, got %d", len(msg.UserInputMultiContent))
	}
	if msg.UserInputMultiContent[0].Image == nil {
		t.Fatalf("png should be sent as image part")
	}
	pdf := documentMessage(Document{MIMEType: "application/pdf", Base64: "aGk="}, "avalie")
	if pdf.UserInputMultiContent[0].File == nil {
		t.Fatalf("pdf should be sent as file part")
	}
	if pdf.UserInputMultiContent[1].Text != "avalie" {
		t.Fatalf("prompt not attached")
	}
}

func TestTimeoutMessage(t *testing.T) {
	if got := TimeoutMessage(DefaultTimeout); got != MsgTimeout {
		t.Fatalf("default timeout text drifted: %q", got)
	}
	if got := TimeoutMessage(90 * time.Second); !strings.Contains(got, "(90s)") {
		t.Fatalf("expected 90s in %q", got)
	}
	if got := TimeoutMessage(1500 * time.Millisecond); !strings.Contains(got, "(1.5s)") {
		t.Fatalf("expected 1.5s in %q", got)
	}
}

func TestBuildPromptKeepsPlaceholderTextInFields(t *testing.T) {
	p := BuildPrompt("Dev {{JOB_REQUIREMENTS}}", "Go")
	if !strings.Contains(p, "Vaga: Dev {{JOB_REQUIREMENTS}}\n") {
		t.Fatalf("title text was substituted: %s", p)
	}
	if strings.Count(p, "{{JOB_REQUIREMENTS}}") != 1 {
		t.Fatalf("expected placeholder text from the title only: %s", p)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("  Dev Go ", "Kubernetes")
	if !strings.Contains(p, "Vaga: Dev Go\n") {
		t.Fatalf("title not rendered: %s", p)
	}
	if strings.Contains(p, "{{") {
		t.Fatalf("placeholders left in prompt: %s", p)
	}
	if !strings.Contains(p, "PORTUGUÊS") {
		t.Fatalf("language instruction missing")
	}
}
