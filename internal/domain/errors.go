package domain

import "errors"

// Error taxonomy shared by adapters and use cases. Adapters wrap these with
// fmt.Errorf("...: %w", ...) and callers classify with errors.Is.
var (
	ErrTransient          = errors.New("transient failure")
	ErrBudgetExhausted    = errors.New("daily api budget exhausted")
	ErrParse              = errors.New("parse failure")
	ErrValidation         = errors.New("validation failure")
	ErrPersistence        = errors.New("persistence failure")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSetup              = errors.New("setup failure")
)
