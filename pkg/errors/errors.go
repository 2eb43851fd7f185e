// Package errors provides structured error handling for noncer.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess     = 0 // Successful execution
	ExitGeneral     = 1 // General/unknown error
	ExitInput       = 2 // Invalid input
	ExitAuth        = 3 // Key decryption failed
	ExitNotFound    = 4 // Resource not found
	ExitUnavailable = 5 // A remote dependency (store or chain) is unreachable
)

// NoncerError is the structured error type for noncer.
type NoncerError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *NoncerError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *NoncerError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for NoncerError. Two errors match when their codes match.
func (e *NoncerError) Is(target error) bool {
	var t *NoncerError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &NoncerError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &NoncerError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrNotFound = &NoncerError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	// Allocator errors.
	ErrStoreUnavailable = &NoncerError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "remote counter store is unavailable",
		Suggestion: "check the redis address in config.yaml or NONCER_REDIS_ADDR",
		ExitCode:   ExitUnavailable,
	}

	ErrChainSourceUnavailable = &NoncerError{
		Code:       "CHAIN_SOURCE_UNAVAILABLE",
		Message:    "chain nonce source is unavailable",
		Suggestion: "check the RPC endpoint in config.yaml or NONCER_RPC",
		ExitCode:   ExitUnavailable,
	}

	ErrCorruptCounter = &NoncerError{
		Code:       "CORRUPT_COUNTER",
		Message:    "remote nonce delta holds an invalid value",
		Suggestion: "run 'noncer nonce set <n>' with the correct next nonce",
		ExitCode:   ExitGeneral,
	}

	ErrInvalidNonce = &NoncerError{
		Code:     "INVALID_NONCE",
		Message:  "invalid nonce",
		ExitCode: ExitInput,
	}

	ErrInvalidTag = &NoncerError{
		Code:     "INVALID_TAG",
		Message:  "invalid block tag, expected pending or confirmed",
		ExitCode: ExitInput,
	}

	ErrInvalidCount = &NoncerError{
		Code:     "INVALID_COUNT",
		Message:  "increment count must be at least 1",
		ExitCode: ExitInput,
	}

	// Chain-specific errors.
	ErrInvalidAddress = &NoncerError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	ErrTxRejected = &NoncerError{
		Code:     "TX_REJECTED",
		Message:  "transaction rejected by network",
		ExitCode: ExitGeneral,
	}

	ErrInvalidTransaction = &NoncerError{
		Code:     "INVALID_TRANSACTION",
		Message:  "invalid transaction",
		ExitCode: ExitInput,
	}

	ErrInvalidGasPrice = &NoncerError{
		Code:     "INVALID_GAS_PRICE",
		Message:  "gas price or fee cap is required",
		ExitCode: ExitInput,
	}

	ErrInvalidGasLimit = &NoncerError{
		Code:     "INVALID_GAS_LIMIT",
		Message:  "gas limit cannot be zero",
		ExitCode: ExitInput,
	}

	ErrInvalidChainID = &NoncerError{
		Code:     "INVALID_CHAIN_ID",
		Message:  "invalid chain ID",
		ExitCode: ExitInput,
	}

	// Key errors.
	ErrInvalidKey = &NoncerError{
		Code:     "INVALID_KEY",
		Message:  "invalid private key",
		ExitCode: ExitInput,
	}

	ErrKeyRequired = &NoncerError{
		Code:       "KEY_REQUIRED",
		Message:    "no signing key configured",
		Suggestion: "set signer.key_file in config.yaml or export NONCER_KEY",
		ExitCode:   ExitInput,
	}

	ErrInvalidMnemonic = &NoncerError{
		Code:     "INVALID_MNEMONIC",
		Message:  "invalid mnemonic phrase",
		ExitCode: ExitInput,
	}

	ErrDecryptionFailed = &NoncerError{
		Code:     "DECRYPTION_FAILED",
		Message:  "decryption failed - wrong passphrase or corrupted file",
		ExitCode: ExitAuth,
	}

	// Config-specific errors.
	ErrConfigNotFound = &NoncerError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &NoncerError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}
)

// New creates a new NoncerError with the given code and message.
func New(code, message string) *NoncerError {
	return &NoncerError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var ne *NoncerError
	if errors.As(err, &ne) {
		return &NoncerError{
			Code:       ne.Code,
			Message:    fmt.Sprintf("%s: %s", msg, ne.Message),
			Details:    ne.Details,
			Suggestion: ne.Suggestion,
			Cause:      err,
			ExitCode:   ne.ExitCode,
		}
	}

	return &NoncerError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause returns a copy of the sentinel carrying cause as its underlying error.
// The result matches the sentinel with errors.Is and unwraps to cause.
func WithCause(sentinel *NoncerError, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &NoncerError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		Details:    sentinel.Details,
		Suggestion: sentinel.Suggestion,
		Cause:      cause,
		ExitCode:   sentinel.ExitCode,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var ne *NoncerError
	if errors.As(err, &ne) {
		return &NoncerError{
			Code:       ne.Code,
			Message:    ne.Message,
			Details:    details,
			Suggestion: ne.Suggestion,
			Cause:      ne.Cause,
			ExitCode:   ne.ExitCode,
		}
	}

	return &NoncerError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var ne *NoncerError
	if errors.As(err, &ne) {
		return &NoncerError{
			Code:       ne.Code,
			Message:    ne.Message,
			Details:    ne.Details,
			Suggestion: suggestion,
			Cause:      ne.Cause,
			ExitCode:   ne.ExitCode,
		}
	}

	return &NoncerError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ne *NoncerError
	if errors.As(err, &ne) {
		return ne.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var ne *NoncerError
	if errors.As(err, &ne) {
		return ne.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
