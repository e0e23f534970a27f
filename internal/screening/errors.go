package screening

import "errors"

var (
	// ErrValidation matches every run precondition failure.
	ErrValidation = errors.New("validation error")
	// ErrQuotaExceeded is returned when a run starts with no credits left.
	ErrQuotaExceeded = errors.New("Limite de créditos atingido. Contate o administrador.")
	// ErrRunInProgress rejects changes that would disturb an active run.
	ErrRunInProgress = errors.New("analysis already running")
	// ErrUnsupportedType rejects uploads outside PDF, PNG and JPEG.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// ValidationError is a rejected run precondition. Message is user facing.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrJobIncomplete  = &ValidationError{Message: "Preencha o título e os requisitos da vaga."}
	ErrNoFiles        = &ValidationError{Message: "Adicione currículos para analisar."}
	ErrNothingPending = &ValidationError{Message: "Todos os arquivos já foram processados."}
)

// NoticeCreditsExhausted is shown when a run stops early for lack of credits.
const NoticeCreditsExhausted = "Créditos esgotados durante o processamento."
