// Package storage provides the ledger store of the coin market.
// It defines the Storage interface along with a PostgreSQL implementation that owns
// accounts, coins and the append-only transaction ledger, and keeps every coin's
// owner pointer consistent with the ledger.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coin_market/internal/models"
	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/pkg/security"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/storage_mock.go -package=mocks coin_market/internal/storage Storage

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound indicates that a referenced account or coin does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrEmailExists indicates that an account with the same email is already registered.
	ErrEmailExists = errors.New("storage: email already registered")
)

// issuanceLockKey identifies the transaction-scoped advisory lock serialising coin issuance
// across processes sharing the database.
const issuanceLockKey int64 = 0x636f696e

const (
	createAccountQuery      = `INSERT INTO content.accounts (name, email, phone, address, password_hash) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at;`
	getAccountByEmailQuery  = `SELECT id, name, email, phone, address, password_hash, created_at FROM content.accounts WHERE email = $1;`
	getAccountQuery         = `SELECT id, name, email, phone, address, password_hash, created_at FROM content.accounts WHERE id = $1;`
	getAccountNameQuery     = `SELECT name FROM content.accounts WHERE id = $1;`
	lockIssuanceQuery       = `SELECT pg_advisory_xact_lock($1);`
	getUsedTriplesQuery     = `SELECT bit1, bit2, bit3 FROM content.coins;`
	insertCoinQuery         = `INSERT INTO content.coins (bit1, bit2, bit3, value) VALUES ($1, $2, $3, $4) RETURNING id, created_at;`
	lockCoinQuery           = `SELECT c.owner_id, a.name, c.value, c.bit1, c.bit2, c.bit3 FROM content.coins c LEFT JOIN content.accounts a ON a.id = c.owner_id WHERE c.id = $1 FOR UPDATE OF c;`
	insertTransactionQuery  = `INSERT INTO content.transactions (coin_id, seller_id, buyer_id, amount, created_at) VALUES ($1, $2, $3, $4, clock_timestamp()) RETURNING id, created_at;`
	updateCoinOwnerQuery    = `UPDATE content.coins SET owner_id = $1 WHERE id = $2;`
	listCoinsQuery          = `SELECT c.id, c.bit1, c.bit2, c.bit3, c.value, c.owner_id, a.name, c.created_at FROM content.coins c LEFT JOIN content.accounts a ON a.id = c.owner_id ORDER BY c.id;`
	listTransactionsQuery   = `SELECT t.id, t.coin_id, t.seller_id, s.name, t.buyer_id, b.name, t.amount, t.created_at, c.bit1, c.bit2, c.bit3, c.value FROM content.transactions t LEFT JOIN content.accounts s ON s.id = t.seller_id JOIN content.accounts b ON b.id = t.buyer_id JOIN content.coins c ON c.id = t.coin_id WHERE ($1::BIGINT IS NULL OR t.seller_id = $1 OR t.buyer_id = $1) AND ($2::BIGINT IS NULL OR t.coin_id = $2) ORDER BY t.created_at DESC, t.id DESC;`
	getAccountHoldingsQuery = `SELECT COUNT(*), COALESCE(SUM(value), 0) FROM content.coins WHERE owner_id = $1;`
)

// Storage defines the methods required for ledger storage operations.
type Storage interface {
	// Close closes the database connection.
	Close()
	// EnsureSchema creates the ledger relations when they are missing.
	EnsureSchema(ctx context.Context) error

	// Account methods.
	CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)

	// Ledger mutations.
	IssueCoin(ctx context.Context, value decimal.Decimal, r combination.Range) (*models.Coin, error)
	TransferOwnership(ctx context.Context, coinID, buyerID int64) (*models.Transaction, error)

	// Ledger queries.
	ListCoins(ctx context.Context) ([]models.Coin, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
	AccountHoldings(ctx context.Context, accountID int64) (*models.Holdings, error)
}

// PostgreSQL implements the Storage interface using a PostgreSQL database.
type PostgreSQL struct {
	db  *sql.DB        // Connection to the database.
	log *logger.Logger // Logger for recording events and errors.

	// issueMu serialises issuance within this process; the advisory lock covers other processes.
	issueMu sync.Mutex
}

// NewPostgreSQL creates a new PostgreSQL instance with the provided connection string and logger.
// It opens the connection and pings the database to ensure connectivity.
func NewPostgreSQL(configDBString string, l *logger.Logger) (*PostgreSQL, error) {
	db, err := sql.Open("pgx", configDBString)
	if err != nil {
		l.Sugar().Errorf("Failed to open a database: %s", err)
		return nil, err
	}

	const defaultTimeout = 10 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		l.Sugar().Errorf("Database ping failed: %s", err)
		db.Close()
		return nil, err
	}

	return NewPostgreSQLFromDB(db, l), nil
}

// NewPostgreSQLFromDB wraps an already opened database handle.
func NewPostgreSQLFromDB(db *sql.DB, l *logger.Logger) *PostgreSQL {
	return &PostgreSQL{db: db, log: l}
}

// Close closes the database connection if it is open.
func (postgresql *PostgreSQL) Close() {
	if postgresql.db != nil {
		postgresql.db.Close()
	}
}

// EnsureSchema applies the embedded schema statement by statement. Every statement is idempotent.
func (postgresql *PostgreSQL) EnsureSchema(ctx context.Context) error {
	for _, statement := range strings.Split(schemaSQL, ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if _, err := postgresql.db.ExecContext(ctx, statement); err != nil {
			postgresql.log.Sugar().Errorf("Failed to apply schema statement: %s", err)
			return fmt.Errorf("storage: apply schema: %w", err)
		}
	}
	return nil
}

// CreateAccount registers a new account, storing only the bcrypt hash of its password.
// A duplicate email is reported as ErrEmailExists.
func (postgresql *PostgreSQL) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	passwordHash, err := security.HashPassword(account.Password)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to hash a password: %s", err)
		return nil, err
	}

	created := *account
	created.Password = ""
	created.PasswordHash = passwordHash

	err = postgresql.db.QueryRowContext(ctx, createAccountQuery,
		created.Name, created.Email, created.Phone, created.Address, passwordHash,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == pgerrcode.UniqueViolation {
			return nil, ErrEmailExists
		}
		postgresql.log.Sugar().Errorf("Failed to execute a query createAccountQuery: %s", err)
		return nil, err
	}

	return &created, nil
}

// GetAccountByEmail loads the account registered with email, including its password hash.
func (postgresql *PostgreSQL) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return postgresql.getAccount(ctx, "getAccountByEmailQuery", getAccountByEmailQuery, email)
}

// GetAccount loads the account with the given ID.
func (postgresql *PostgreSQL) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	return postgresql.getAccount(ctx, "getAccountQuery", getAccountQuery, accountID)
}

func (postgresql *PostgreSQL) getAccount(ctx context.Context, name, query string, arg interface{}) (*models.Account, error) {
	account := &models.Account{}
	err := postgresql.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID, &account.Name, &account.Email, &account.Phone, &account.Address,
		&account.PasswordHash, &account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query %s: %s", name, err)
		return nil, err
	}
	return account, nil
}

// IssueCoin mints a system-held coin worth value with the first unused triple of r.
// The scan of historical triples and the insert run in one transaction under both an
// in-process mutex and a database advisory lock, so concurrent issuers never share a triple.
// combination.ErrExhausted is returned unchanged when the space is full.
func (postgresql *PostgreSQL) IssueCoin(ctx context.Context, value decimal.Decimal, r combination.Range) (*models.Coin, error) {
	postgresql.issueMu.Lock()
	defer postgresql.issueMu.Unlock()

	tx, err := postgresql.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, lockIssuanceQuery, issuanceLockKey); err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query lockIssuanceQuery: %s", err)
		return nil, err
	}

	used, err := postgresql.getUsedTriples(ctx, tx)
	if err != nil {
		return nil, err
	}

	triple, err := combination.Allocate(used, r)
	if err != nil {
		return nil, err
	}

	coin := &models.Coin{Triple: triple, Value: value}
	err = tx.QueryRowContext(ctx, insertCoinQuery, triple.A, triple.B, triple.C, value).Scan(&coin.ID, &coin.CreatedAt)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query insertCoinQuery: %s", err)
		return nil, fmt.Errorf("storage: insert coin %s: %w", triple, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return coin, nil
}

// getUsedTriples returns every triple ever issued.
func (postgresql *PostgreSQL) getUsedTriples(ctx context.Context, tx *sql.Tx) (map[combination.Triple]struct{}, error) {
	rows, err := tx.QueryContext(ctx, getUsedTriplesQuery)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query getUsedTriplesQuery: %s", err)
		return nil, err
	}
	defer rows.Close()

	used := make(map[combination.Triple]struct{})
	for rows.Next() {
		var triple combination.Triple
		if err := rows.Scan(&triple.A, &triple.B, &triple.C); err != nil {
			postgresql.log.Sugar().Errorf("Failed to scan a triple in getUsedTriples method: %s", err)
			return nil, err
		}
		used[triple] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		postgresql.log.Sugar().Errorf("The last error encountered by Rows.Scan in getUsedTriples method: %s", err)
		return nil, err
	}

	return used, nil
}

// TransferOwnership moves the coin to buyerID and appends the matching ledger row.
// The coin row is locked for the duration of the transaction, so concurrent transfers of
// one coin are recorded in lock order and each seller is the owner at the time of its transfer.
func (postgresql *PostgreSQL) TransferOwnership(ctx context.Context, coinID, buyerID int64) (*models.Transaction, error) {
	tx, err := postgresql.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	transaction := &models.Transaction{CoinID: coinID, BuyerID: buyerID}

	var sellerID sql.NullInt64
	var sellerName sql.NullString
	err = tx.QueryRowContext(ctx, lockCoinQuery, coinID).Scan(
		&sellerID, &sellerName, &transaction.CoinValue,
		&transaction.A, &transaction.B, &transaction.C,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query lockCoinQuery: %s", err)
		return nil, err
	}
	transaction.SellerID = nullableID(sellerID)
	transaction.SellerName = nullableName(sellerName)
	transaction.Amount = transaction.CoinValue

	err = tx.QueryRowContext(ctx, getAccountNameQuery, buyerID).Scan(&transaction.BuyerName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query getAccountNameQuery: %s", err)
		return nil, err
	}

	err = tx.QueryRowContext(ctx, insertTransactionQuery, coinID, sellerID, buyerID, transaction.Amount).
		Scan(&transaction.ID, &transaction.CreatedAt)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrNotFound
		}
		postgresql.log.Sugar().Errorf("Failed to execute a query insertTransactionQuery: %s", err)
		return nil, err
	}

	result, err := tx.ExecContext(ctx, updateCoinOwnerQuery, buyerID, coinID)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query updateCoinOwnerQuery: %s", err)
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute RowsAffected in updateCoinOwnerQuery: %s", err)
		return nil, err
	}
	if rows != 1 {
		return nil, fmt.Errorf("storage: owner update of coin %d affected %d rows", coinID, rows)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return transaction, nil
}

// ListCoins returns every coin ordered by ID together with its owner's name.
func (postgresql *PostgreSQL) ListCoins(ctx context.Context) ([]models.Coin, error) {
	rows, err := postgresql.db.QueryContext(ctx, listCoinsQuery)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query listCoinsQuery: %s", err)
		return nil, err
	}
	defer rows.Close()

	coins := make([]models.Coin, 0)
	for rows.Next() {
		var coin models.Coin
		var ownerID sql.NullInt64
		var ownerName sql.NullString
		if err := rows.Scan(&coin.ID, &coin.A, &coin.B, &coin.C, &coin.Value, &ownerID, &ownerName, &coin.CreatedAt); err != nil {
			postgresql.log.Sugar().Errorf("Failed to scan a coin in ListCoins method: %s", err)
			return nil, err
		}
		coin.OwnerID = nullableID(ownerID)
		coin.OwnerName = nullableName(ownerName)
		coins = append(coins, coin)
	}

	if err := rows.Err(); err != nil {
		postgresql.log.Sugar().Errorf("The last error encountered by Rows.Scan in ListCoins method: %s", err)
		return nil, err
	}

	return coins, nil
}

// ListTransactions returns the ledger newest first, optionally narrowed by filter.
func (postgresql *PostgreSQL) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	rows, err := postgresql.db.QueryContext(ctx, listTransactionsQuery, nullInt64(filter.AccountID), nullInt64(filter.CoinID))
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query listTransactionsQuery: %s", err)
		return nil, err
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0)
	for rows.Next() {
		var transaction models.Transaction
		var sellerID sql.NullInt64
		var sellerName sql.NullString
		if err := rows.Scan(
			&transaction.ID, &transaction.CoinID, &sellerID, &sellerName,
			&transaction.BuyerID, &transaction.BuyerName, &transaction.Amount, &transaction.CreatedAt,
			&transaction.A, &transaction.B, &transaction.C, &transaction.CoinValue,
		); err != nil {
			postgresql.log.Sugar().Errorf("Failed to scan a transaction in ListTransactions method: %s", err)
			return nil, err
		}
		transaction.SellerID = nullableID(sellerID)
		transaction.SellerName = nullableName(sellerName)
		transactions = append(transactions, transaction)
	}

	if err := rows.Err(); err != nil {
		postgresql.log.Sugar().Errorf("The last error encountered by Rows.Scan in ListTransactions method: %s", err)
		return nil, err
	}

	return transactions, nil
}

// AccountHoldings counts the coins currently owned by the account and sums their value.
func (postgresql *PostgreSQL) AccountHoldings(ctx context.Context, accountID int64) (*models.Holdings, error) {
	holdings := &models.Holdings{}
	err := postgresql.db.QueryRowContext(ctx, getAccountHoldingsQuery, accountID).Scan(&holdings.Count, &holdings.TotalValue)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query getAccountHoldingsQuery: %s", err)
		return nil, err
	}
	return holdings, nil
}

func nullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func nullableID(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	id := value.Int64
	return &id
}

func nullableName(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	name := value.String
	return &name
}
