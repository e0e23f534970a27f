package ai

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"cvtriage/internal/logger"
	"cvtriage/internal/models"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultTimeout      = 60 * time.Second
	defaultMaxLogLength = 200
)

// Document is an encoded resume ready to be attached inline.
type Document struct {
	Name     string
	MIMEType string
	Base64   string
}

// Request is one screening call.
type Request struct {
	Document     Document
	JobTitle     string
	Requirements string
}

// Generator sends one multimodal prompt to a model and returns its text.
type Generator interface {
	Generate(ctx context.Context, doc Document, prompt string) (string, error)
	Provider() string
	Model() string
}

// Client is the inference client: prompt construction, a hard timeout,
// failure classification and response normalization. It never retries.
type Client struct {
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
	maxLogLen int
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxLogLength bounds prompt and response previews in debug logs.
func WithMaxLogLength(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxLogLen = n
		}
	}
}

// NewClient wraps a generator.
func NewClient(generator Generator, log *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		generator: generator,
		timeout:   DefaultTimeout,
		maxLogLen: defaultMaxLogLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.WithFields(log, logger.CommonFields(generator.Provider(), generator.Model())...)
	return c
}

type generation struct {
	text string
	err  error
}

// Analyze screens one document against the job profile.
func (c *Client) Analyze(ctx context.Context, req Request) (*models.AnalysisResult, error) {
	if strings.TrimSpace(req.Document.Base64) == "" {
		return nil, &Error{Kind: KindInvalidDocument, Message: MsgInvalidDocument, Err: errors.New("empty document")}
	}

	prompt := BuildPrompt(req.JobTitle, req.Requirements)
	log := c.logger.With(zap.String("document", req.Document.Name), zap.String("mime_type", req.Document.MIMEType))
	log.Debug("sending screening prompt",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, c.maxLogLen)),
	)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Buffered so the generator goroutine can always finish after a timeout.
	results := make(chan generation, 1)
	go func() {
		text, err := c.generator.Generate(callCtx, req.Document, prompt)
		results <- generation{text: text, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	start := time.Now()
	var out generation
	select {
	case out = <-results:
	case <-timer.C:
		log.Warn("screening call timed out", zap.Duration("timeout", c.timeout))
		return nil, &Error{Kind: KindTimeout, Message: TimeoutMessage(c.timeout), Err: context.DeadlineExceeded}
	case <-ctx.Done():
		return nil, &Error{Kind: KindUpstream, Message: ctx.Err().Error(), Err: ctx.Err()}
	}

	if out.err != nil {
		mapped := classify(out.err)
		if mapped.Kind == KindTimeout {
			mapped = &Error{Kind: KindTimeout, Message: TimeoutMessage(c.timeout), Err: mapped.Err}
		}
		log.Warn("screening call failed", zap.String("kind", string(mapped.Kind)), zap.Error(out.err))
		return nil, mapped
	}

	log.Debug("received screening response",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("response_preview", logger.TruncateForLog(out.text, c.maxLogLen)),
	)

	result, err := Normalize(out.text)
	if err != nil {
		log.Warn("screening response rejected",
			zap.Error(err),
			zap.String("response_preview", logger.TruncateForLog(out.text, c.maxLogLen)),
		)
		return nil, err
	}
	log.Info("document screened",
		zap.String("recommendation", string(result.Recommendation)),
		zap.Int("match_score", result.MatchScore),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// classify maps upstream failures onto the error taxonomy. Typed API errors
// are preferred; status codes embedded in messages are the fallback for
// providers that only surface text.
func classify(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: MsgTimeout, Err: err}
	}

	switch statusCode(err) {
	case 400:
		return &Error{Kind: KindInvalidDocument, Message: MsgInvalidDocument, Err: err}
	case 429:
		return &Error{Kind: KindRateLimited, Message: MsgRateLimited, Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "400"):
		return &Error{Kind: KindInvalidDocument, Message: MsgInvalidDocument, Err: err}
	case strings.Contains(msg, "429"):
		return &Error{Kind: KindRateLimited, Message: MsgRateLimited, Err: err}
	}
	if strings.TrimSpace(msg) == "" {
		msg = MsgUnknown
	}
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
