// Package models defines the data structures used throughout the application.
// It includes the ledger entities (accounts, coins, transactions) and the
// request and response payloads of the HTTP API.
package models

import (
	"time"

	"coin_market/internal/pkg/combination"

	"github.com/shopspring/decimal"
)

func init() {
	// Monetary values are rendered as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Account is a registered market participant.
// Password holds the plaintext only on its way into the store; neither it nor
// PasswordHash is ever serialized.
type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	Password     string    `json:"-"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Coin is an issued coin. A nil OwnerID means the coin is still held by the system.
type Coin struct {
	ID int64 `json:"coinId"`
	combination.Triple
	Value     decimal.Decimal `json:"value"`
	OwnerID   *int64          `json:"ownerId"`
	OwnerName *string         `json:"ownerName"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CoinView is a coin decorated with its fingerprint.
type CoinView struct {
	Coin
	Fingerprint string `json:"fingerprint"`
}

// Transaction is one immutable ownership change of a coin.
// SellerID is nil for the first transfer out of the system.
type Transaction struct {
	ID         int64           `json:"id"`
	CoinID     int64           `json:"coinId"`
	SellerID   *int64          `json:"sellerId"`
	SellerName *string         `json:"sellerName"`
	BuyerID    int64           `json:"buyerId"`
	BuyerName  string          `json:"buyerName"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"transactionDate"`
	combination.Triple
	CoinValue decimal.Decimal `json:"value"`
}

// TransactionView is a transaction decorated with the fingerprint of its coin.
type TransactionView struct {
	Transaction
	Fingerprint string `json:"fingerprint"`
}

// TransactionFilter narrows a transaction listing. Nil fields do not filter.
type TransactionFilter struct {
	// AccountID matches transactions where the account is buyer or seller.
	AccountID *int64
	CoinID    *int64
}

// Holdings aggregates the coins currently owned by an account.
type Holdings struct {
	Count      int64           `json:"totalCoins"`
	TotalValue decimal.Decimal `json:"totalValue"`
}

// SignupRequest represents the registration payload.
type SignupRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
	Address  string `json:"address" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the login payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned alongside the session cookie.
type LoginResponse struct {
	AccountID int64 `json:"accountId"`
}

// IssueCoinRequest asks the system to mint a new coin worth Value.
type IssueCoinRequest struct {
	Value decimal.Decimal `json:"value"`
}

// BuyCoinRequest asks to transfer the coin to the calling account.
type BuyCoinRequest struct {
	CoinID int64 `json:"coinId" validate:"required,gt=0"`
}

// ProfileResponse represents the response payload for the profile endpoint.
type ProfileResponse struct {
	Account           *Account          `json:"user"`
	TotalTransactions int               `json:"totalTransactions"`
	Holdings
	Transactions []TransactionView `json:"transactions"`
}

// ErrorResponse represents a generic error response payload.
type ErrorResponse struct {
	Errors string `json:"errors"`
}
