package errors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

var (
	errInner     = errors.New("inner")
	errRootCause = errors.New("connection refused")
	errPlain     = errors.New("plain error")
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, noncererr.ExitSuccess},
		{"general error", noncererr.ErrGeneral, noncererr.ExitGeneral},
		{"input error", noncererr.ErrInvalidInput, noncererr.ExitInput},
		{"not found error", noncererr.ErrNotFound, noncererr.ExitNotFound},
		{"store unavailable", noncererr.ErrStoreUnavailable, noncererr.ExitUnavailable},
		{"chain unavailable", noncererr.ErrChainSourceUnavailable, noncererr.ExitUnavailable},
		{"decryption failed", noncererr.ErrDecryptionFailed, noncererr.ExitAuth},
		{"plain error", errPlain, noncererr.ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, noncererr.ExitCode(tt.err))
		})
	}
}

func TestWrap_PreservesIdentity(t *testing.T) {
	t.Parallel()
	wrapped := noncererr.Wrap(noncererr.ErrStoreUnavailable, "reading delta")
	require.ErrorIs(t, wrapped, noncererr.ErrStoreUnavailable)
	assert.Equal(t, noncererr.ExitUnavailable, noncererr.ExitCode(wrapped))
	assert.Contains(t, wrapped.Error(), "reading delta")
}

func TestWrap_Nil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, noncererr.Wrap(nil, "ignored"))
	assert.NoError(t, noncererr.WithDetails(nil, map[string]string{"a": "b"}))
	assert.NoError(t, noncererr.WithSuggestion(nil, "ignored"))
}

func TestWrap_PlainError(t *testing.T) {
	t.Parallel()
	wrapped := noncererr.Wrap(errInner, "context %d", 7)
	require.ErrorIs(t, wrapped, errInner)
	assert.Equal(t, "GENERAL_ERROR", noncererr.Code(wrapped))
	assert.Equal(t, "context 7: inner", wrapped.Error())
}

func TestWithCause(t *testing.T) {
	t.Parallel()
	err := noncererr.WithCause(noncererr.ErrStoreUnavailable, errRootCause)

	require.ErrorIs(t, err, noncererr.ErrStoreUnavailable)
	require.ErrorIs(t, err, errRootCause)
	assert.NotErrorIs(t, err, noncererr.ErrChainSourceUnavailable)
	assert.Equal(t, "STORE_UNAVAILABLE", noncererr.Code(err))
	assert.Contains(t, err.Error(), "connection refused")

	// Sentinel itself is untouched
	assert.NoError(t, noncererr.ErrStoreUnavailable.Cause)
}

func TestWithCause_NilCause(t *testing.T) {
	t.Parallel()
	err := noncererr.WithCause(noncererr.ErrInvalidNonce, nil)
	assert.Same(t, noncererr.ErrInvalidNonce, err)
}

func TestWithDetails_SortedOutput(t *testing.T) {
	t.Parallel()
	err := noncererr.WithDetails(noncererr.ErrInvalidAddress, map[string]string{
		"field":   "to",
		"address": "0xnope",
	})
	assert.Equal(t, "invalid address format (address: 0xnope) (field: to)", err.Error())
	require.ErrorIs(t, err, noncererr.ErrInvalidAddress)
}

func TestWithSuggestion(t *testing.T) {
	t.Parallel()
	err := noncererr.WithSuggestion(noncererr.ErrKeyRequired, "pass --key-file")

	var ne *noncererr.NoncerError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "pass --key-file", ne.Suggestion)
	assert.Equal(t, "KEY_REQUIRED", ne.Code)

	plain := noncererr.WithSuggestion(errPlain, "try again")
	require.ErrorAs(t, plain, &ne)
	assert.Equal(t, "try again", ne.Suggestion)
	assert.Equal(t, "GENERAL_ERROR", ne.Code)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err      error
		expected string
	}{
		{noncererr.ErrGeneral, "GENERAL_ERROR"},
		{noncererr.ErrStoreUnavailable, "STORE_UNAVAILABLE"},
		{noncererr.ErrChainSourceUnavailable, "CHAIN_SOURCE_UNAVAILABLE"},
		{noncererr.ErrCorruptCounter, "CORRUPT_COUNTER"},
		{noncererr.ErrInvalidTag, "INVALID_TAG"},
		{errPlain, "GENERAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, noncererr.Code(tt.err))
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	err := noncererr.New("CUSTOM", "custom failure")
	assert.Equal(t, "CUSTOM", err.Code)
	assert.Equal(t, noncererr.ExitGeneral, err.ExitCode)
	assert.Equal(t, "custom failure", err.Error())
}
