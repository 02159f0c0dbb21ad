// Package app provides the core business logic of the coin market.
// It handles registration, login, coin issuance, coin purchases and ledger queries.
// The package integrates with the storage layer for persistence, the auth package for
// session tokens and the fingerprint package to decorate coins for display.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"coin_market/internal/models"
	"coin_market/internal/pkg/auth"
	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/fingerprint"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/pkg/metrics"
	"coin_market/internal/pkg/security"
	"coin_market/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrIncorrectPassword indicates that the password does not match the account.
var ErrIncorrectPassword = errors.New("app: incorrect password")

// maxCoinValue is the first value that no longer fits the stored NUMERIC(14,2).
var maxCoinValue = decimal.New(1, 12)

// ValidationError reports missing or malformed request input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "app: " + e.Message
}

// App encapsulates the application logic and dependencies required to process requests.
type App struct {
	db           storage.Storage     // Ledger store.
	sessions     *auth.Authority     // Session token issuer.
	fingerprints *fingerprint.Cache  // Memoised coin fingerprints.
	combinations combination.Range   // Space new coin triples are drawn from.
	validate     *validator.Validate // Request payload validation.
	log          *logger.Logger
}

// NewApp creates and returns a new instance of App.
func NewApp(db storage.Storage, sessions *auth.Authority, fingerprints *fingerprint.Cache, combinations combination.Range, log *logger.Logger) *App {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)

	return &App{
		db:           db,
		sessions:     sessions,
		fingerprints: fingerprints,
		combinations: combinations,
		validate:     validate,
		log:          log,
	}
}

// Signup registers a new account. A taken email is reported as storage.ErrEmailExists.
func (app *App) Signup(ctx context.Context, req models.SignupRequest) (*models.Account, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	if err := app.validateStruct(req); err != nil {
		return nil, err
	}
	if len(req.Password) > security.MaxPasswordBytes {
		return nil, &ValidationError{Message: fmt.Sprintf("password must be at most %d bytes", security.MaxPasswordBytes)}
	}

	account, err := app.db.CreateAccount(ctx, &models.Account{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address,
		Password: req.Password,
	})
	if err != nil {
		return nil, err
	}

	app.log.Info("account created", zap.Int64("account_id", account.ID))
	return account, nil
}

// Login checks the credentials and returns the account with a fresh session token.
// An unknown email is reported as storage.ErrNotFound, a wrong password as ErrIncorrectPassword.
func (app *App) Login(ctx context.Context, req models.LoginRequest) (*models.Account, string, error) {
	req.Email = normalizeEmail(req.Email)
	if err := app.validateStruct(req); err != nil {
		return nil, "", err
	}

	account, err := app.db.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, "", err
	}

	if err := security.CheckPassword(account.PasswordHash, req.Password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, "", ErrIncorrectPassword
		}
		return nil, "", fmt.Errorf("app: check password: %w", err)
	}

	token, err := app.sessions.Issue(account.ID)
	if err != nil {
		return nil, "", err
	}

	return account, token, nil
}

// Profile collects the account, its current holdings and its transaction history.
func (app *App) Profile(ctx context.Context, accountID int64) (*models.ProfileResponse, error) {
	account, err := app.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	holdings, err := app.db.AccountHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	transactions, err := app.ListTransactions(ctx, models.TransactionFilter{AccountID: &accountID})
	if err != nil {
		return nil, err
	}

	return &models.ProfileResponse{
		Account:           account,
		TotalTransactions: len(transactions),
		Holdings:          *holdings,
		Transactions:      transactions,
	}, nil
}

// ListCoins returns every coin with its owner's name and fingerprint.
func (app *App) ListCoins(ctx context.Context) ([]models.CoinView, error) {
	coins, err := app.db.ListCoins(ctx)
	if err != nil {
		return nil, err
	}

	triples := make([]combination.Triple, 0, len(coins))
	for _, coin := range coins {
		triples = append(triples, coin.Triple)
	}

	fingerprints, err := app.fingerprints.Batch(ctx, triples)
	if err != nil {
		return nil, err
	}

	views := make([]models.CoinView, 0, len(coins))
	for _, coin := range coins {
		views = append(views, models.CoinView{Coin: coin, Fingerprint: fingerprints[coin.Triple]})
	}
	return views, nil
}

// IssueCoin mints a new system-held coin. When no triple is left it returns
// combination.ErrExhausted; the condition is final and is not retried.
func (app *App) IssueCoin(ctx context.Context, req models.IssueCoinRequest) (*models.CoinView, error) {
	value := req.Value.Round(2)
	if !value.IsPositive() {
		return nil, &ValidationError{Message: "value must be at least 0.01"}
	}
	if value.GreaterThanOrEqual(maxCoinValue) {
		return nil, &ValidationError{Message: "value must be less than " + maxCoinValue.String()}
	}

	coin, err := app.db.IssueCoin(ctx, value, app.combinations)
	if errors.Is(err, combination.ErrExhausted) {
		metrics.IssuanceExhaustedTotal.Inc()
		app.log.Warn("coin issuance rejected: combination space exhausted",
			zap.Int("min", app.combinations.Min), zap.Int("max", app.combinations.Max))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	metrics.CoinsIssuedTotal.Inc()
	app.log.Info("coin issued", zap.Int64("coin_id", coin.ID), zap.String("triple", coin.Triple.String()))

	return &models.CoinView{Coin: *coin, Fingerprint: app.fingerprints.Get(ctx, coin.Triple)}, nil
}

// BuyCoin transfers the coin to buyerID at the coin's fixed value.
// Buying a coin the buyer already owns is recorded like any other transfer.
func (app *App) BuyCoin(ctx context.Context, buyerID int64, req models.BuyCoinRequest) (*models.TransactionView, error) {
	if err := app.validateStruct(req); err != nil {
		return nil, err
	}

	transaction, err := app.db.TransferOwnership(ctx, req.CoinID, buyerID)
	if err != nil {
		return nil, err
	}

	origin := "account"
	if transaction.SellerID == nil {
		origin = "system"
	}
	metrics.TransfersTotal.WithLabelValues(origin).Inc()
	app.log.Info("coin transferred",
		zap.Int64("transaction_id", transaction.ID),
		zap.Int64("coin_id", transaction.CoinID),
		zap.Int64("buyer_id", transaction.BuyerID))

	return &models.TransactionView{
		Transaction: *transaction,
		Fingerprint: app.fingerprints.Get(ctx, transaction.Triple),
	}, nil
}

// ListTransactions returns the ledger newest first with coin fingerprints.
func (app *App) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error) {
	transactions, err := app.db.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}

	triples := make([]combination.Triple, 0, len(transactions))
	for _, transaction := range transactions {
		triples = append(triples, transaction.Triple)
	}

	fingerprints, err := app.fingerprints.Batch(ctx, triples)
	if err != nil {
		return nil, err
	}

	views := make([]models.TransactionView, 0, len(transactions))
	for _, transaction := range transactions {
		views = append(views, models.TransactionView{Transaction: transaction, Fingerprint: fingerprints[transaction.Triple]})
	}
	return views, nil
}

// validateStruct runs the struct tags of req and flattens the failures into one ValidationError.
func (app *App) validateStruct(req interface{}) error {
	err := app.validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &ValidationError{Message: err.Error()}
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fieldError(fieldErr))
	}
	return &ValidationError{Message: strings.Join(messages, "; ")}
}

// fieldError converts a single validation failure into a human-readable message.
func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return "missing " + field
	case "email":
		return field + " must be a valid email"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}

// jsonFieldName reports validation failures under the payload's JSON names.
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
