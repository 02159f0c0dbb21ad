// Package service contains HTTP handler implementations for the coin market API endpoints.
// It orchestrates request parsing, calls the underlying business logic in the app package,
// maps business outcomes to status codes, and writes JSON responses.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"coin_market/internal/app"
	"coin_market/internal/models"
	"coin_market/internal/pkg/auth"
	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/storage"

	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// handlers aggregates dependencies needed by HTTP handlers,
// including the application business logic, the session authority and logger.
type handlers struct {
	app          *app.App
	sessions     *auth.Authority
	secureCookie bool
	log          *logger.Logger
}

// newHandlers initializes a new handlers instance with the provided dependencies.
func newHandlers(app *app.App, sessions *auth.Authority, secureCookie bool, l *logger.Logger) *handlers {
	return &handlers{app: app, sessions: sessions, secureCookie: secureCookie, log: l}
}

// signupHandler registers a new account and returns it.
func (handlers *handlers) signupHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	var signupRequest models.SignupRequest
	if !decodeRequest(res, req, &signupRequest) {
		return
	}

	account, err := handlers.app.Signup(ctx, signupRequest)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeErrorResponse(res, validationErr.Message, http.StatusBadRequest)
		case errors.Is(err, storage.ErrEmailExists):
			writeErrorResponse(res, "account with provided email already exists", http.StatusConflict)
		default:
			handlers.internalError(res, req, err)
		}
		return
	}

	handlers.writeJSON(res, req, account)
}

// loginHandler verifies the credentials and starts a session.
// The token travels only in the HTTP-only session cookie; the body carries the account ID.
func (handlers *handlers) loginHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	var loginRequest models.LoginRequest
	if !decodeRequest(res, req, &loginRequest) {
		return
	}

	account, token, err := handlers.app.Login(ctx, loginRequest)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeErrorResponse(res, validationErr.Message, http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotFound):
			writeErrorResponse(res, "account not found", http.StatusNotFound)
		case errors.Is(err, app.ErrIncorrectPassword):
			writeErrorResponse(res, "incorrect password", http.StatusUnauthorized)
		default:
			handlers.internalError(res, req, err)
		}
		return
	}

	auth.SetSessionCookie(res, token, handlers.sessions.TTL(), handlers.secureCookie)
	handlers.writeJSON(res, req, models.LoginResponse{AccountID: account.ID})
}

// logoutHandler clears the session cookie. Tokens are stateless, so there is nothing to revoke.
func (handlers *handlers) logoutHandler(res http.ResponseWriter, req *http.Request) {
	auth.ClearSessionCookie(res, handlers.secureCookie)
	res.WriteHeader(http.StatusOK)
}

// profileHandler returns the caller's account, holdings and transaction history.
func (handlers *handlers) profileHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	accountID, ok := auth.AccountIDFromContext(req.Context())
	if !ok {
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
		return
	}

	profile, err := handlers.app.Profile(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorResponse(res, "invalid session", http.StatusUnauthorized)
			return
		}
		handlers.internalError(res, req, err)
		return
	}

	handlers.writeJSON(res, req, profile)
}

// listCoinsHandler returns every coin with its owner and fingerprint.
func (handlers *handlers) listCoinsHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	coins, err := handlers.app.ListCoins(ctx)
	if err != nil {
		handlers.internalError(res, req, err)
		return
	}

	handlers.writeJSON(res, req, coins)
}

// issueCoinHandler mints a new system-held coin.
func (handlers *handlers) issueCoinHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	var issueRequest models.IssueCoinRequest
	if !decodeRequest(res, req, &issueRequest) {
		return
	}

	coin, err := handlers.app.IssueCoin(ctx, issueRequest)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeErrorResponse(res, validationErr.Message, http.StatusBadRequest)
		case errors.Is(err, combination.ErrExhausted):
			writeErrorResponse(res, "EXHAUSTED: all coin combinations are in use", http.StatusConflict)
		default:
			handlers.internalError(res, req, err)
		}
		return
	}

	handlers.writeJSON(res, req, coin)
}

// buyCoinHandler transfers a coin to the caller and returns the recorded transaction.
func (handlers *handlers) buyCoinHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	accountID, ok := auth.AccountIDFromContext(req.Context())
	if !ok {
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
		return
	}

	var buyRequest models.BuyCoinRequest
	if !decodeRequest(res, req, &buyRequest) {
		return
	}

	transaction, err := handlers.app.BuyCoin(ctx, accountID, buyRequest)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeErrorResponse(res, validationErr.Message, http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotFound):
			writeErrorResponse(res, "coin not found", http.StatusNotFound)
		default:
			handlers.internalError(res, req, err)
		}
		return
	}

	handlers.writeJSON(res, req, transaction)
}

// listTransactionsHandler returns the ledger, optionally filtered by accountId and coinId.
func (handlers *handlers) listTransactionsHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	var filter models.TransactionFilter
	var err error
	query := req.URL.Query()
	if filter.AccountID, err = parseIDParam(query.Get("accountId")); err != nil {
		writeErrorResponse(res, "accountId must be a positive integer", http.StatusBadRequest)
		return
	}
	if filter.CoinID, err = parseIDParam(query.Get("coinId")); err != nil {
		writeErrorResponse(res, "coinId must be a positive integer", http.StatusBadRequest)
		return
	}

	transactions, err := handlers.app.ListTransactions(ctx, filter)
	if err != nil {
		handlers.internalError(res, req, err)
		return
	}

	handlers.writeJSON(res, req, transactions)
}

func (handlers *handlers) healthHandler(res http.ResponseWriter, req *http.Request) {
	handlers.writeJSON(res, req, map[string]string{"status": "ok"})
}

// parseIDParam parses an optional positive ID. An empty value means no filter.
func parseIDParam(value string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, strconv.ErrRange
	}
	return &id, nil
}

// decodeRequest unmarshals the request body into dst.
// On failure it writes a 400 response and returns false.
func decodeRequest(res http.ResponseWriter, req *http.Request, dst interface{}) bool {
	requestBody, err := io.ReadAll(req.Body)
	if err != nil {
		writeErrorResponse(res, err.Error(), http.StatusBadRequest)
		return false
	}

	if err = json.Unmarshal(requestBody, dst); err != nil {
		writeErrorResponse(res, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// internalError logs err and answers 500 without exposing any detail to the caller.
func (handlers *handlers) internalError(res http.ResponseWriter, req *http.Request, err error) {
	handlers.log.Error("request failed",
		zap.String("method", req.Method),
		zap.String("uri", req.URL.Path),
		zap.Error(err))
	writeErrorResponse(res, "internal server error", http.StatusInternalServerError)
}

func (handlers *handlers) writeJSON(res http.ResponseWriter, req *http.Request, payload interface{}) {
	result, err := json.Marshal(payload)
	if err != nil {
		handlers.internalError(res, req, err)
		return
	}

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusOK)
	res.Write(result)
}

func writeErrorResponse(res http.ResponseWriter, errorInfo string, statusCode int) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	json.NewEncoder(res).Encode(models.ErrorResponse{Errors: errorInfo})
}
