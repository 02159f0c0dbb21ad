package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"coin_market/internal/app"
	"coin_market/internal/models"
	"coin_market/internal/pkg/auth"
	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/fingerprint"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/service"
	"coin_market/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var testDatabaseURI, testServerPort string

func init() {
	if err := godotenv.Load("../integration/.env"); err != nil {
		log.Println("No .env file found, using default values")
	}

	testDatabaseURI = os.Getenv("TEST_DATABASE_URI")
	testServerPort = os.Getenv("TEST_SERVER_PORT")
}

var marketRange = combination.Range{Min: 1, Max: 10}

type IntegrationTestSuite struct {
	suite.Suite
	server *httptest.Server
	db     *storage.PostgreSQL
}

func (s *IntegrationTestSuite) SetupSuite() {
	var l *logger.Logger
	var err error
	if l, err = logger.CreateLogger("info"); err != nil {
		log.Fatal("Failed to create logger:", err)
	}

	s.db, err = storage.NewPostgreSQL(testDatabaseURI, l)
	s.Require().NoError(err, "Error connecting to test database")
	s.Require().NoError(s.db.EnsureSchema(context.Background()), "Error applying schema")

	sessions := auth.NewAuthority([]byte("integration-secret"), time.Hour)
	appInstance := app.NewApp(s.db, sessions, fingerprint.NewCache(nil, l), marketRange, l)
	serviceInstance := service.NewService(appInstance, sessions, "localhost:"+testServerPort, l)

	s.server = httptest.NewServer(serviceInstance.NewRouter())
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.server.Close()
	s.db.Close()
}

// newClient returns a client with its own cookie jar, i.e. its own session.
func (s *IntegrationTestSuite) newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	s.Require().NoError(err)
	client := s.server.Client()
	return &http.Client{Transport: client.Transport, Jar: jar}
}

func (s *IntegrationTestSuite) do(client *http.Client, method, path string, payload interface{}, out interface{}) int {
	var body bytes.Buffer
	if payload != nil {
		s.Require().NoError(json.NewEncoder(&body).Encode(payload), "Error marshaling request")
	}

	req, err := http.NewRequest(method, s.server.URL+path, &body)
	s.Require().NoError(err, "Error creating request")
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	s.Require().NoError(err, "Error executing request")
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out), "Error decoding response")
	}
	return resp.StatusCode
}

// signupAndLogin registers a fresh account and returns a client carrying its session.
func (s *IntegrationTestSuite) signupAndLogin(name string) (*http.Client, int64) {
	client := s.newClient()
	email := name + "-" + uuid.NewString() + "@example.com"

	status := s.do(client, http.MethodPost, "/api/signup", models.SignupRequest{
		Name:     name,
		Email:    email,
		Phone:    "555-0100",
		Address:  "1 Main St",
		Password: "password",
	}, nil)
	s.Require().Equal(http.StatusOK, status, "Expected status 200 for signup")

	var loginResp models.LoginResponse
	status = s.do(client, http.MethodPost, "/api/login", models.LoginRequest{Email: email, Password: "password"}, &loginResp)
	s.Require().Equal(http.StatusOK, status, "Expected status 200 for login")
	s.Require().NotZero(loginResp.AccountID)

	return client, loginResp.AccountID
}

func (s *IntegrationTestSuite) TestResaleScenario() {
	clientA, accountA := s.signupAndLogin("alice")
	clientB, accountB := s.signupAndLogin("bob")

	var coin models.CoinView
	status := s.do(clientA, http.MethodPost, "/api/coins", models.IssueCoinRequest{Value: decimal.NewFromInt(40)}, &coin)
	if status == http.StatusConflict {
		s.T().Skip("combination space of the test database is exhausted")
	}
	s.Require().Equal(http.StatusOK, status, "Expected status 200 for issuance")
	s.Require().Nil(coin.OwnerID, "A new coin is held by the system")
	s.Require().Len(coin.Fingerprint, 32)

	var first models.TransactionView
	status = s.do(clientA, http.MethodPost, "/api/buy-coin", models.BuyCoinRequest{CoinID: coin.ID}, &first)
	s.Require().Equal(http.StatusOK, status, "Expected status 200 for the first purchase")
	s.Nil(first.SellerID)
	s.Equal(accountA, first.BuyerID)

	var second models.TransactionView
	status = s.do(clientB, http.MethodPost, "/api/buy-coin", models.BuyCoinRequest{CoinID: coin.ID}, &second)
	s.Require().Equal(http.StatusOK, status, "Expected status 200 for the resale")
	s.Require().NotNil(second.SellerID)
	s.Equal(accountA, *second.SellerID)
	s.Equal(accountB, second.BuyerID)
	s.True(second.Amount.Equal(decimal.NewFromInt(40)))

	var history []models.TransactionView
	status = s.do(s.newClient(), http.MethodGet, "/api/transactions?coinId="+strconv.FormatInt(coin.ID, 10), nil, &history)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Len(history, 2)
	s.Equal(second.ID, history[0].ID, "History is newest first")
	s.Equal(first.ID, history[1].ID)
	s.Equal(coin.Fingerprint, history[0].Fingerprint)

	var coins []models.CoinView
	status = s.do(clientB, http.MethodGet, "/api/coins", nil, &coins)
	s.Require().Equal(http.StatusOK, status)
	for _, listed := range coins {
		if listed.ID == coin.ID {
			s.Require().NotNil(listed.OwnerID)
			s.Equal(accountB, *listed.OwnerID, "Owner pointer follows the latest transaction")
		}
	}

	var profile models.ProfileResponse
	status = s.do(clientB, http.MethodGet, "/api/profile", nil, &profile)
	s.Require().Equal(http.StatusOK, status)
	s.Equal(int64(1), profile.Count)
	s.Equal(1, profile.TotalTransactions)
}

func (s *IntegrationTestSuite) TestBuyUnknownCoin() {
	client, _ := s.signupAndLogin("carol")

	status := s.do(client, http.MethodPost, "/api/buy-coin", models.BuyCoinRequest{CoinID: 1 << 50}, nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestDuplicateSignup() {
	client := s.newClient()
	request := models.SignupRequest{
		Name:     "dave",
		Email:    "dave-" + uuid.NewString() + "@example.com",
		Phone:    "555-0100",
		Address:  "1 Main St",
		Password: "password",
	}

	s.Require().Equal(http.StatusOK, s.do(client, http.MethodPost, "/api/signup", request, nil))
	s.Equal(http.StatusConflict, s.do(client, http.MethodPost, "/api/signup", request, nil))

	_, err := s.db.GetAccountByEmail(context.Background(), request.Email)
	s.NoError(err, "The first account is still there")
}

func (s *IntegrationTestSuite) TestLogoutEndsSession() {
	client, _ := s.signupAndLogin("erin")

	s.Require().Equal(http.StatusOK, s.do(client, http.MethodGet, "/api/profile", nil, nil))
	s.Require().Equal(http.StatusOK, s.do(client, http.MethodPost, "/api/logout", nil, nil))
	s.Equal(http.StatusUnauthorized, s.do(client, http.MethodGet, "/api/profile", nil, nil))
}

func (s *IntegrationTestSuite) TestConcurrentIssuanceNeverRepeatsTriples() {
	const workers = 10
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	issued := make([]*models.Coin, 0, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coin, err := s.db.IssueCoin(ctx, decimal.NewFromInt(1), marketRange)
			if errors.Is(err, combination.ErrExhausted) {
				return
			}
			s.NoError(err)
			if coin != nil {
				mu.Lock()
				issued = append(issued, coin)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := make(map[combination.Triple]int64, len(issued))
	for _, coin := range issued {
		if other, dup := seen[coin.Triple]; dup {
			s.Failf("duplicate triple", "coins %d and %d share %s", other, coin.ID, coin.Triple)
		}
		seen[coin.Triple] = coin.ID
	}
}

func (s *IntegrationTestSuite) TestSmallRangeExhausts() {
	ctx := context.Background()
	small := combination.Range{Min: 1, Max: 2}

	issued := 0
	for ; issued <= small.Size(); issued++ {
		_, err := s.db.IssueCoin(ctx, decimal.NewFromInt(1), small)
		if errors.Is(err, combination.ErrExhausted) {
			break
		}
		s.Require().NoError(err)
	}
	s.LessOrEqual(issued, small.Size(), "At most every triple of the range can be issued")

	_, err := s.db.IssueCoin(ctx, decimal.NewFromInt(1), small)
	s.ErrorIs(err, combination.ErrExhausted, "Exhaustion is terminal")
}

func TestIntegrationTestSuite(t *testing.T) {
	if testDatabaseURI == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
