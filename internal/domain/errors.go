package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ExecErrorKind classifies execution venue failures.
type ExecErrorKind string

const (
	ExecErrTimeout      ExecErrorKind = "timeout"
	ExecErrRateLimited  ExecErrorKind = "rate_limited"
	ExecErrConnectivity ExecErrorKind = "connectivity"
	ExecErrValidation   ExecErrorKind = "validation"
	ExecErrRejected     ExecErrorKind = "rejected"
)

// ExecError represents a failure returned by the execution venue.
// Timeouts, rate limits and connectivity failures are retriable;
// validation failures and outright rejections are terminal.
type ExecError struct {
	Kind ExecErrorKind
	Op   string // operation that failed (e.g. "submit", "balance")
	Err  error
}

func (e *ExecError) Error() string {
	return e.Op + " [" + string(e.Kind) + "]: " + e.Err.Error()
}

func (e *ExecError) IsRetriable() bool {
	switch e.Kind {
	case ExecErrTimeout, ExecErrRateLimited, ExecErrConnectivity:
		return true
	}
	return false
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewExecError creates an execution error of the given kind.
func NewExecError(kind ExecErrorKind, op string, err error) *ExecError {
	return &ExecError{Kind: kind, Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrWalletExists is returned when adding a wallet that is already tracked.
	ErrWalletExists = errors.New("wallet already tracked")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrShuttingDown is returned when an event is submitted after shutdown began.
	ErrShuttingDown = errors.New("pipeline shutting down")

	// ErrConfigNotFound is returned when the configuration file is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)
