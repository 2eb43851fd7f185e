// Package api exposes a nonce allocator over HTTP so that a long-running
// process keeps one baseline for every client it serves.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mrz1836/noncer/internal/chain"
	"github.com/mrz1836/noncer/internal/chain/eth"
	"github.com/mrz1836/noncer/internal/nonce"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// maxBodyBytes bounds request bodies. Call data is the only large field.
const maxBodyBytes = 1 << 20

// Allocator is the nonce allocator behind the API. *nonce.Allocator satisfies it.
type Allocator interface {
	chain.Identity
	State() nonce.State
	SetTransactionCount(ctx context.Context, nonce uint64) error
	IncrementTransactionCount(ctx context.Context, count int64) (int64, error)
	Resync(ctx context.Context) (uint64, error)
}

// Compile-time interface check
var _ Allocator = (*nonce.Allocator)(nil)

// LogWriter is the logging the handlers need. *config.Logger satisfies it.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// AddressResponse is returned by GET /v1/address.
type AddressResponse struct {
	Address string `json:"address"`
}

// NonceResponse is returned by the nonce endpoints.
type NonceResponse struct {
	Address string `json:"address"`
	Tag     string `json:"tag,omitempty"`
	Nonce   uint64 `json:"nonce"`
	State   string `json:"state"`
}

// SetNonceRequest is the body of PUT /v1/nonce.
type SetNonceRequest struct {
	Nonce *uint64 `json:"nonce"`
}

// IncrementRequest is the body of POST /v1/nonce/increment.
type IncrementRequest struct {
	Count int64 `json:"count"`
}

// IncrementResponse is returned by POST /v1/nonce/increment.
type IncrementResponse struct {
	Address string `json:"address"`
	Delta   int64  `json:"delta"`
}

// SignRequest is the body of POST /v1/sign.
type SignRequest struct {
	Message string `json:"message"`
}

// SignResponse is returned by POST /v1/sign.
type SignResponse struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// TxRequest is the body of POST /v1/transactions. Amounts are decimal wei.
type TxRequest struct {
	To                   string  `json:"to,omitempty"`
	Value                string  `json:"value,omitempty"`
	Gas                  uint64  `json:"gas"`
	GasPrice             string  `json:"gasPrice,omitempty"`
	MaxFeePerGas         string  `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string  `json:"maxPriorityFeePerGas,omitempty"`
	Data                 string  `json:"data,omitempty"`
	Nonce                *uint64 `json:"nonce,omitempty"`
	DryRun               bool    `json:"dryRun,omitempty"`
}

// TxResponse is returned by POST /v1/transactions.
type TxResponse struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	Nonce uint64 `json:"nonce"`
	Raw   string `json:"raw,omitempty"`
	Sent  bool   `json:"sent"`
}

func addressHandler(a Allocator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, AddressResponse{Address: a.Address().Hex()})
	})
}

func getNonceHandler(a Allocator, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := chain.TagPending
		if v := r.URL.Query().Get("tag"); v != "" {
			var err error
			if tag, err = chain.ParseTag(v); err != nil {
				respondError(w, logger, err)
				return
			}
		}

		n, err := a.TransactionCount(r.Context(), tag)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, NonceResponse{
			Address: a.Address().Hex(),
			Tag:     tag.String(),
			Nonce:   n,
			State:   a.State().String(),
		})
	})
}

func setNonceHandler(a Allocator, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SetNonceRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		if req.Nonce == nil {
			respondError(w, logger, noncererr.WithDetails(noncererr.ErrInvalidNonce, map[string]string{"nonce": "required"}))
			return
		}

		if err := a.SetTransactionCount(r.Context(), *req.Nonce); err != nil {
			respondError(w, logger, err)
			return
		}
		logger.Debug("nonce for %s set to %d", a.Address().Hex(), *req.Nonce)
		respondJSON(w, http.StatusOK, NonceResponse{
			Address: a.Address().Hex(),
			Nonce:   *req.Nonce,
			State:   a.State().String(),
		})
	})
}

func incrementHandler(a Allocator, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := IncrementRequest{Count: 1}
		if err := decodeBody(r, &req); err != nil {
			respondError(w, logger, err)
			return
		}

		delta, err := a.IncrementTransactionCount(r.Context(), req.Count)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, IncrementResponse{Address: a.Address().Hex(), Delta: delta})
	})
}

func resyncHandler(a Allocator, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := a.Resync(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		logger.Debug("nonce for %s resynchronized to %d", a.Address().Hex(), n)
		respondJSON(w, http.StatusOK, NonceResponse{
			Address: a.Address().Hex(),
			Tag:     chain.TagPending.String(),
			Nonce:   n,
			State:   a.State().String(),
		})
	})
}

func signHandler(a Allocator, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SignRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, logger, err)
			return
		}

		sig, err := a.SignMessage([]byte(req.Message))
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, SignResponse{Address: a.Address().Hex(), Signature: hexutil.Encode(sig)})
	})
}

func sendHandler(a Allocator, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body TxRequest
		if err := decodeBody(r, &body); err != nil {
			respondError(w, logger, err)
			return
		}
		req, err := body.toChain()
		if err != nil {
			respondError(w, logger, err)
			return
		}

		if body.DryRun {
			raw, err := a.SignTransaction(r.Context(), req)
			if err != nil {
				respondError(w, logger, err)
				return
			}
			tx := new(types.Transaction)
			if err := tx.UnmarshalBinary(raw); err != nil {
				respondError(w, logger, err)
				return
			}
			respondJSON(w, http.StatusOK, TxResponse{
				Hash:  tx.Hash().Hex(),
				From:  a.Address().Hex(),
				Nonce: tx.Nonce(),
				Raw:   hexutil.Encode(raw),
			})
			return
		}

		handle, err := a.SendTransaction(r.Context(), req)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, TxResponse{
			Hash:  handle.Hash.Hex(),
			From:  handle.From.Hex(),
			Nonce: handle.Nonce,
			Raw:   hexutil.Encode(handle.Raw),
			Sent:  true,
		})
	})
}

func healthHandler(a Allocator, check func(context.Context) error, logger LogWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				respondError(w, logger, err)
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"state": a.State().String()})
	})
}

func (t *TxRequest) toChain() (*chain.TxRequest, error) {
	req := &chain.TxRequest{Gas: t.Gas, Nonce: t.Nonce}

	if t.To != "" {
		to, err := eth.ParseAddress(t.To)
		if err != nil {
			return nil, err
		}
		req.To = &to
	}

	var err error
	if req.Value, err = parseWei("value", t.Value); err != nil {
		return nil, err
	}
	if req.GasPrice, err = parseWei("gasPrice", t.GasPrice); err != nil {
		return nil, err
	}
	if req.GasFeeCap, err = parseWei("maxFeePerGas", t.MaxFeePerGas); err != nil {
		return nil, err
	}
	if req.GasTipCap, err = parseWei("maxPriorityFeePerGas", t.MaxPriorityFeePerGas); err != nil {
		return nil, err
	}

	if t.Data != "" {
		if req.Data, err = hexutil.Decode(t.Data); err != nil {
			return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidInput, err), map[string]string{"data": t.Data})
		}
	}
	return req, nil
}

func parseWei(field, v string) (*big.Int, error) {
	if v == "" {
		return nil, nil //nolint:nilnil // unset field
	}
	n, err := chain.ParseAmount(v, chain.DecimalsWei)
	if err != nil {
		return nil, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{field: v})
	}
	return n, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidInput, err), map[string]string{"body": "invalid JSON"})
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, logger LogWriter, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
	}
	respondJSON(w, status, output.ErrorOutput{Error: output.NewErrorDetail(err)})
}

// statusCode maps an error to an HTTP status by its exit code.
func statusCode(err error) int {
	if noncererr.Is(err, noncererr.ErrTxRejected) {
		return http.StatusBadGateway
	}
	switch noncererr.ExitCode(err) {
	case noncererr.ExitInput:
		return http.StatusBadRequest
	case noncererr.ExitNotFound:
		return http.StatusNotFound
	case noncererr.ExitUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
