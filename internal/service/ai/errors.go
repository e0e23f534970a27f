package ai

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies inference failures.
type Kind string

const (
	KindTimeout         Kind = "AnalysisTimeout"
	KindInvalidDocument Kind = "InvalidDocument"
	KindRateLimited     Kind = "RateLimited"
	KindUpstream        Kind = "UpstreamError"
	KindMalformed       Kind = "MalformedResponse"
	KindEmpty           Kind = "EmptyResponse"
)

// User-facing messages. MsgTimeout is the text for DefaultTimeout; clients
// with another deadline report it through TimeoutMessage.
const (
	MsgTimeout         = "Tempo limite de análise excedido (60s). O arquivo pode ser muito grande ou complexo."
	MsgInvalidDocument = "Erro 400: Arquivo inválido ou corrompido."
	MsgRateLimited     = "Muitas requisições. Tente novamente em instantes."
	MsgMalformed       = "Erro ao ler resposta da IA. Formato inválido."
	MsgEmpty           = "Resposta vazia da IA. O documento pode estar ilegível."
	MsgUnknown         = "Erro desconhecido"
)

// Error is a classified inference failure. Message is safe to show to users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// TimeoutMessage is the timeout text for deadline d.
func TimeoutMessage(d time.Duration) string {
	limit := d.String()
	if d >= time.Second && d%time.Second == 0 {
		limit = fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return fmt.Sprintf("Tempo limite de análise excedido (%s). O arquivo pode ser muito grande ou complexo.", limit)
}

var (
	ErrTimeout         = &Error{Kind: KindTimeout, Message: MsgTimeout}
	ErrInvalidDocument = &Error{Kind: KindInvalidDocument, Message: MsgInvalidDocument}
	ErrRateLimited     = &Error{Kind: KindRateLimited, Message: MsgRateLimited}
	ErrUpstream        = &Error{Kind: KindUpstream, Message: MsgUnknown}
	ErrMalformed       = &Error{Kind: KindMalformed, Message: MsgMalformed}
	ErrEmpty           = &Error{Kind: KindEmpty, Message: MsgEmpty}
)

// KindOf returns the Kind of err, or "" when err is not an inference error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
