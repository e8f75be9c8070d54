package main

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/alcher96/AccountService/internal/config"
	"github.com/alcher96/AccountService/internal/events"
	"github.com/alcher96/AccountService/internal/server"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// outboxInterval is kept short so delivery and dead-letter assertions
// complete in seconds instead of minutes.
const outboxInterval = 200 * time.Millisecond

type IntegrationTestSuite struct {
	suite.Suite
	pgContainer    *postgres.PostgresContainer
	redisContainer testcontainers.Container
	serverInstance *server.Server
	baseURL        string
	client         *http.Client
	db             *sql.DB
	rdb            *redis.Client
	bus            *events.Publisher
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("account_service"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.pgContainer = pgContainer

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		suite.T().Fatalf("Failed to start redis container: %s", err)
	}
	suite.redisContainer = redisContainer

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get postgres host: %s", err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		suite.T().Fatalf("Failed to get postgres port: %s", err)
	}

	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get redis host: %s", err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		suite.T().Fatalf("Failed to get redis port: %s", err)
	}

	cfg := &config.Config{
		DBHost:          pgHost,
		DBPort:          pgPort.Port(),
		DBUser:          "postgres",
		DBPassword:      "password",
		DBName:          "account_service",
		DBSSLMode:       "disable",
		ServerPort:      "0",
		RedisAddr:       redisHost + ":" + redisPort.Port(),
		OutboxInterval:  outboxInterval,
		OutboxBatchSize: 100,
	}

	suite.db, err = sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		suite.T().Fatalf("Failed to open database: %s", err)
	}
	if err := suite.runMigrations(); err != nil {
		suite.T().Fatalf("Failed to run migrations: %s", err)
	}

	suite.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	suite.bus = events.NewPublisher(suite.rdb)

	serverInstance, port, err := server.StartServer(cfg)
	if err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}
	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + port

	suite.client = &http.Client{Timeout: 30 * time.Second}

	if err := suite.waitForServerReady(); err != nil {
		suite.T().Fatalf("Server never became ready: %s", err)
	}
}

func (suite *IntegrationTestSuite) runMigrations() error {
	migrationFiles, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	sort.Slice(migrationFiles, func(i, j int) bool {
		return migrationFiles[i].Name() < migrationFiles[j].Name()
	})

	for _, file := range migrationFiles {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		migrationSQL, err := migrationsFS.ReadFile(filepath.Join("migrations", file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
		}
		if _, err := suite.db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file.Name(), err)
		}
	}
	return nil
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}
	if suite.db != nil {
		suite.db.Close()
	}
	if suite.rdb != nil {
		suite.rdb.Close()
	}
	if suite.pgContainer != nil {
		suite.pgContainer.Terminate(ctx)
	}
	if suite.redisContainer != nil {
		suite.redisContainer.Terminate(ctx)
	}
}

// ------------------------------------------------------------------
// HTTP helpers
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) doRequest(method, path string, body any) (int, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(suite.T(), err)

	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			suite.T().Logf("Failed to parse response: %s", respBody)
		}
	}
	return resp.StatusCode, parsed
}

func (suite *IntegrationTestSuite) createAccount(ownerID uuid.UUID, accountType, currency, initialBalance string, interestRate *string) map[string]interface{} {
	req := map[string]interface{}{
		"owner_id":        ownerID.String(),
		"account_type":    accountType,
		"currency":        currency,
		"initial_balance": initialBalance,
	}
	if interestRate != nil {
		req["interest_rate"] = *interestRate
	}

	status, resp := suite.doRequest(http.MethodPost, "/accounts", req)
	require.Equal(suite.T(), http.StatusCreated, status, "create account: %v", resp)
	return resp["data"].(map[string]interface{})
}

func (suite *IntegrationTestSuite) getAccount(accountID string) (int, map[string]interface{}) {
	return suite.doRequest(http.MethodGet, "/accounts/"+accountID, nil)
}

func (suite *IntegrationTestSuite) postTransaction(accountID, txType, amount, currency, description string) (int, map[string]interface{}) {
	return suite.doRequest(http.MethodPost, "/accounts/"+accountID+"/transactions", map[string]interface{}{
		"type":        txType,
		"amount":      amount,
		"currency":    currency,
		"description": description,
	})
}

func (suite *IntegrationTestSuite) transfer(fromID, toID, amount, currency string) (int, map[string]interface{}) {
	return suite.doRequest(http.MethodPost, "/transfers", map[string]interface{}{
		"from_account_id": fromID,
		"to_account_id":   toID,
		"amount":          amount,
		"currency":        currency,
		"description":     "integration transfer",
	})
}

func (suite *IntegrationTestSuite) accountBalance(accountID string) decimal.Decimal {
	status, resp := suite.getAccount(accountID)
	require.Equal(suite.T(), http.StatusOK, status)
	data := resp["data"].(map[string]interface{})

	balance, err := decimal.NewFromString(data["balance"].(string))
	require.NoError(suite.T(), err)
	return balance
}

func (suite *IntegrationTestSuite) assertDecimalEqual(expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	expectedDec, err := decimal.NewFromString(expected)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), expectedDec.Equal(actual),
		"Decimal values not equal: expected %s, got %s", expected, actual)
}

// waitUntil polls cond until it reports true or the timeout expires.
func (suite *IntegrationTestSuite) waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func (suite *IntegrationTestSuite) outboxCount(accountID, eventType string, sent bool) int {
	query := `SELECT COUNT(*) FROM outbox_messages WHERE event_type = $1 AND payload->>'accountId' = $2`
	if sent {
		query += " AND sent_at IS NOT NULL"
	} else {
		query += " AND sent_at IS NULL"
	}
	var count int
	require.NoError(suite.T(), suite.db.QueryRow(query, eventType, accountID).Scan(&count))
	return count
}

func (suite *IntegrationTestSuite) publishClientEvent(eventType string, clientID uuid.UUID) uuid.UUID {
	var event any
	var routingKey string
	base := events.NewBase()

	switch eventType {
	case events.TypeClientBlocked:
		event = events.ClientBlocked{Base: base, ClientID: clientID}
		routingKey = "client.blocked"
	case events.TypeClientUnblocked:
		event = events.ClientUnblocked{Base: base, ClientID: clientID}
		routingKey = "client.unblocked"
	default:
		suite.T().Fatalf("unexpected event type %s", eventType)
	}

	payload, err := json.Marshal(event)
	require.NoError(suite.T(), err)

	err = suite.bus.Publish(context.Background(), events.StreamClientEvents, events.Message{
		RoutingKey:    routingKey,
		CorrelationID: uuid.New().String(),
		CausationID:   uuid.New().String(),
		Payload:       payload,
	})
	require.NoError(suite.T(), err)
	return base.EventID
}

// ------------------------------------------------------------------
// Steps below are helpers (non-test methods) invoked by TestFlow in a
// deterministic order.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	status, resp := suite.doRequest(http.MethodGet, "/health", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "healthy", resp["status"])
}

func (suite *IntegrationTestSuite) stepSampleScenario() {
	rate := "0.05"
	a := suite.createAccount(uuid.New(), "Deposit", "USD", "1000", &rate)
	b := suite.createAccount(uuid.New(), "Checking", "USD", "0", nil)
	accountA := a["account_id"].(string)
	accountB := b["account_id"].(string)

	// A posted debit increases the balance.
	status, resp := suite.postTransaction(accountA, "Debit", "500", "USD", "payroll")
	require.Equal(suite.T(), http.StatusCreated, status, "post transaction: %v", resp)
	suite.assertDecimalEqual("1500", suite.accountBalance(accountA))

	// The posted debit leaves a durable MoneyDebited record.
	assert.Equal(suite.T(), 1, suite.outboxCount(accountA, events.TypeMoneyDebited, false)+
		suite.outboxCount(accountA, events.TypeMoneyDebited, true))

	// A transfer moves money from A to B atomically.
	status, resp = suite.transfer(accountA, accountB, "200", "USD")
	require.Equal(suite.T(), http.StatusCreated, status, "transfer: %v", resp)

	data := resp["data"].(map[string]interface{})
	debit := data["debit"].(map[string]interface{})
	credit := data["credit"].(map[string]interface{})
	assert.Equal(suite.T(), accountA, debit["account_id"])
	assert.Equal(suite.T(), accountB, credit["account_id"])
	assert.Equal(suite.T(), accountB, debit["counterparty_account_id"])
	assert.Equal(suite.T(), accountA, credit["counterparty_account_id"])
	assert.Equal(suite.T(), debit["date_time"], credit["date_time"])

	suite.assertDecimalEqual("1300", suite.accountBalance(accountA))
	suite.assertDecimalEqual("200", suite.accountBalance(accountB))

	// Both movement records appear in the account history.
	status, resp = suite.doRequest(http.MethodGet, "/accounts/"+accountA+"/transactions", nil)
	require.Equal(suite.T(), http.StatusOK, status)
	history := resp["data"].([]interface{})
	assert.Len(suite.T(), history, 2)
}

func (suite *IntegrationTestSuite) stepConservationUnderContention() {
	a := suite.createAccount(uuid.New(), "Checking", "USD", "1000", nil)
	b := suite.createAccount(uuid.New(), "Checking", "USD", "0", nil)
	accountA := a["account_id"].(string)
	accountB := b["account_id"].(string)

	const workers = 20
	var succeeded, conflicted atomic.Int64
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			status, resp := suite.transfer(accountA, accountB, "10", "USD")
			switch status {
			case http.StatusCreated:
				succeeded.Add(1)
			case http.StatusConflict:
				conflicted.Add(1)
			default:
				suite.T().Errorf("unexpected transfer status %d: %v", status, resp)
			}
		}()
	}
	wg.Wait()

	assert.Equal(suite.T(), int64(workers), succeeded.Load()+conflicted.Load())

	balanceA := suite.accountBalance(accountA)
	balanceB := suite.accountBalance(accountB)

	moved := decimal.NewFromInt(succeeded.Load() * 10)
	suite.assertDecimalEqual("1000", balanceA.Add(balanceB))
	assert.True(suite.T(), balanceB.Equal(moved),
		"destination balance %s does not match %d successful transfers", balanceB, succeeded.Load())
}

func (suite *IntegrationTestSuite) stepFreezeAndUnfreeze() {
	ownerID := uuid.New()
	a := suite.createAccount(ownerID, "Checking", "USD", "1000", nil)
	accountID := a["account_id"].(string)

	suite.publishClientEvent(events.TypeClientBlocked, ownerID)

	frozen := suite.waitUntil(10*time.Second, func() bool {
		_, resp := suite.getAccount(accountID)
		data := resp["data"].(map[string]interface{})
		return data["is_frozen"].(bool)
	})
	require.True(suite.T(), frozen, "account never froze")

	// Debits are rejected while frozen; credits still land.
	status, resp := suite.postTransaction(accountID, "Debit", "100", "USD", "blocked debit")
	assert.Equal(suite.T(), http.StatusConflict, status)
	errInfo := resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "account_frozen", errInfo["code"])

	// The rejected debit leaves no durable event record behind.
	assert.Equal(suite.T(), 0, suite.outboxCount(accountID, events.TypeMoneyDebited, false)+
		suite.outboxCount(accountID, events.TypeMoneyDebited, true))

	status, _ = suite.postTransaction(accountID, "Credit", "100", "USD", "allowed credit")
	assert.Equal(suite.T(), http.StatusCreated, status)

	// Transfers out of a frozen account are rejected too.
	b := suite.createAccount(uuid.New(), "Checking", "USD", "0", nil)
	status, resp = suite.transfer(accountID, b["account_id"].(string), "50", "USD")
	assert.Equal(suite.T(), http.StatusConflict, status, "transfer from frozen: %v", resp)

	// Unfreezing twice with the same event id applies exactly once.
	eventID := suite.publishClientEvent(events.TypeClientUnblocked, ownerID)

	unfrozen := suite.waitUntil(10*time.Second, func() bool {
		_, resp := suite.getAccount(accountID)
		data := resp["data"].(map[string]interface{})
		return !data["is_frozen"].(bool)
	})
	require.True(suite.T(), unfrozen, "account never unfroze")

	raw, err := json.Marshal(events.ClientUnblocked{
		Base:     events.Base{EventID: eventID, OccurredAt: time.Now().UTC(), Meta: events.Meta{Version: events.SchemaVersion, Source: "client-service"}},
		ClientID: ownerID,
	})
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.bus.Publish(context.Background(), events.StreamClientEvents, events.Message{
		RoutingKey:    "client.unblocked",
		CorrelationID: uuid.New().String(),
		CausationID:   uuid.New().String(),
		Payload:       raw,
	}))

	consumedOnce := suite.waitUntil(10*time.Second, func() bool {
		var count int
		suite.db.QueryRow(`SELECT COUNT(*) FROM inbox_consumed WHERE message_id = $1`, eventID).Scan(&count)
		return count == 1
	})
	assert.True(suite.T(), consumedOnce, "duplicate event was not deduplicated")

	// Debits work again after the unfreeze.
	status, _ = suite.postTransaction(accountID, "Debit", "100", "USD", "post-unfreeze debit")
	assert.Equal(suite.T(), http.StatusCreated, status)
}

func (suite *IntegrationTestSuite) stepSubscriberRedeliversUnacked() {
	const (
		stream = "redelivery.test"
		group  = "redelivery-group"
	)
	var attempts atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := events.NewSubscriber(suite.rdb, events.SubscriberConfig{
		Stream:         stream,
		Group:          group,
		Consumer:       "redelivery-consumer-1",
		BlockDuration:  200 * time.Millisecond,
		RedeliveryIdle: 200 * time.Millisecond,
		Handler: func(ctx context.Context, msg events.Message) error {
			if attempts.Add(1) == 1 {
				return fmt.Errorf("transient failure")
			}
			return nil
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go sub.Start(ctx)

	require.NoError(suite.T(), suite.bus.Publish(context.Background(), stream, events.Message{
		RoutingKey:    "client.blocked",
		CorrelationID: uuid.New().String(),
		CausationID:   uuid.New().String(),
		Payload:       json.RawMessage(`{}`),
	}))

	// The first attempt fails and goes unacked; the entry must come back.
	redelivered := suite.waitUntil(10*time.Second, func() bool {
		return attempts.Load() >= 2
	})
	require.True(suite.T(), redelivered, "failed entry was never redelivered")

	acked := suite.waitUntil(10*time.Second, func() bool {
		pending, err := suite.rdb.XPending(context.Background(), stream, group).Result()
		return err == nil && pending.Count == 0
	})
	assert.True(suite.T(), acked, "redelivered entry was never acked")
}

func (suite *IntegrationTestSuite) stepUnsupportedEventVersionQuarantined() {
	ownerID := uuid.New()
	eventID := uuid.New()

	raw, err := json.Marshal(events.ClientBlocked{
		Base: events.Base{
			EventID:    eventID,
			OccurredAt: time.Now().UTC(),
			Meta:       events.Meta{Version: "v2", Source: "client-service"},
		},
		ClientID: ownerID,
	})
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.bus.Publish(context.Background(), events.StreamClientEvents, events.Message{
		RoutingKey:    "client.blocked",
		CorrelationID: uuid.New().String(),
		CausationID:   uuid.New().String(),
		Payload:       raw,
	}))

	quarantined := suite.waitUntil(10*time.Second, func() bool {
		var count int
		suite.db.QueryRow(`SELECT COUNT(*) FROM dead_letters WHERE message_id = $1`, eventID).Scan(&count)
		return count == 1
	})
	assert.True(suite.T(), quarantined, "unsupported version event was not quarantined")
}

func (suite *IntegrationTestSuite) stepCurrencyImmutableAfterTransactions() {
	a := suite.createAccount(uuid.New(), "Checking", "USD", "100", nil)
	accountID := a["account_id"].(string)

	// Without transactions the currency may still change.
	status, resp := suite.doRequest(http.MethodPatch, "/accounts/"+accountID,
		map[string]interface{}{"currency": "EUR"})
	require.Equal(suite.T(), http.StatusOK, status, "patch currency: %v", resp)
	data := resp["data"].(map[string]interface{})
	assert.Equal(suite.T(), "EUR", data["currency"])

	status, _ = suite.postTransaction(accountID, "Credit", "10", "EUR", "lock currency")
	require.Equal(suite.T(), http.StatusCreated, status)

	status, resp = suite.doRequest(http.MethodPatch, "/accounts/"+accountID,
		map[string]interface{}{"currency": "RUB"})
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	errInfo := resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "validation_failed", errInfo["code"])
}

func (suite *IntegrationTestSuite) stepOutboxDelivery() {
	publisher := suite.serverInstance.OutboxPublisher()
	publisher.Disable()
	defer publisher.Enable()

	a := suite.createAccount(uuid.New(), "Checking", "USD", "0", nil)
	accountID := a["account_id"].(string)

	// While the publisher is paused, the record stays durable and unsent.
	time.Sleep(3 * outboxInterval)
	assert.Equal(suite.T(), 1, suite.outboxCount(accountID, events.TypeAccountOpened, false))
	assert.Equal(suite.T(), 0, suite.outboxCount(accountID, events.TypeAccountOpened, true))

	publisher.Enable()

	delivered := suite.waitUntil(10*time.Second, func() bool {
		return suite.outboxCount(accountID, events.TypeAccountOpened, true) == 1
	})
	assert.True(suite.T(), delivered, "outbox message was never delivered")

	// The published envelope is on the stream with its routing key.
	entries, err := suite.rdb.XRange(context.Background(), events.StreamAccountEvents, "-", "+").Result()
	require.NoError(suite.T(), err)

	found := false
	for _, entry := range entries {
		var msg events.Message
		require.NoError(suite.T(), json.Unmarshal([]byte(entry.Values["message"].(string)), &msg))
		if msg.RoutingKey != "account.opened" {
			continue
		}
		var event events.AccountOpened
		require.NoError(suite.T(), json.Unmarshal(msg.Payload, &event))
		if event.AccountID.String() == accountID {
			found = true
			break
		}
	}
	assert.True(suite.T(), found, "published AccountOpened envelope not found on stream")
}

func (suite *IntegrationTestSuite) stepUnpublishableMessageDeadLettered() {
	messageID := uuid.New()
	_, err := suite.db.Exec(
		`INSERT INTO outbox_messages (id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		messageID, "UnknownEvent", `{"bogus":true}`, time.Now().UTC())
	require.NoError(suite.T(), err)

	deadLettered := suite.waitUntil(20*time.Second, func() bool {
		var count int
		suite.db.QueryRow(`SELECT COUNT(*) FROM dead_letters WHERE message_id = $1`, messageID).Scan(&count)
		return count == 1
	})
	assert.True(suite.T(), deadLettered, "unpublishable message never reached dead_letters")

	var remaining int
	require.NoError(suite.T(),
		suite.db.QueryRow(`SELECT COUNT(*) FROM outbox_messages WHERE id = $1`, messageID).Scan(&remaining))
	assert.Equal(suite.T(), 0, remaining)
}

func (suite *IntegrationTestSuite) stepInterestAccrual() {
	rate := "0.05"
	a := suite.createAccount(uuid.New(), "Deposit", "USD", "10000.00", &rate)
	accountID := a["account_id"].(string)

	status, resp := suite.doRequest(http.MethodPost, "/interest/accruals",
		map[string]interface{}{"account_id": accountID})
	require.Equal(suite.T(), http.StatusOK, status, "accrue interest: %v", resp)

	results := resp["data"].([]interface{})
	require.Len(suite.T(), results, 1)
	accrual := results[0].(map[string]interface{})
	assert.Equal(suite.T(), accountID, accrual["account_id"])
	// 10000 * 0.05 / 365 = 1.3698..., rounded to cents.
	suite.assertDecimalEqual("1.37", decimal.RequireFromString(accrual["amount"].(string)))

	suite.assertDecimalEqual("10001.37", suite.accountBalance(accountID))

	status, resp = suite.doRequest(http.MethodGet, "/accounts/"+accountID+"/transactions", nil)
	require.Equal(suite.T(), http.StatusOK, status)
	history := resp["data"].([]interface{})
	require.Len(suite.T(), history, 1)
	tx := history[0].(map[string]interface{})
	assert.Equal(suite.T(), "Credit", tx["type"])
	assert.Equal(suite.T(), "Daily interest accrual", tx["description"])

	assert.Equal(suite.T(), 1, suite.outboxCount(accountID, events.TypeInterestAccrued, false)+
		suite.outboxCount(accountID, events.TypeInterestAccrued, true))
}

func (suite *IntegrationTestSuite) stepAccrualRejectsNonDeposit() {
	a := suite.createAccount(uuid.New(), "Checking", "USD", "1000", nil)

	status, resp := suite.doRequest(http.MethodPost, "/interest/accruals",
		map[string]interface{}{"account_id": a["account_id"].(string)})
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	errInfo := resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "validation_failed", errInfo["code"])
}

func (suite *IntegrationTestSuite) stepRejectedOperations() {
	a := suite.createAccount(uuid.New(), "Checking", "USD", "100", nil)
	b := suite.createAccount(uuid.New(), "Checking", "EUR", "100", nil)
	accountA := a["account_id"].(string)
	accountB := b["account_id"].(string)

	// Insufficient funds.
	status, resp := suite.postTransaction(accountA, "Credit", "500", "USD", "overdraw")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	errInfo := resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "insufficient_funds", errInfo["code"])

	// Currency mismatch on a posting and across a transfer.
	status, resp = suite.postTransaction(accountA, "Debit", "10", "EUR", "wrong currency")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	errInfo = resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "currency_mismatch", errInfo["code"])

	status, _ = suite.transfer(accountA, accountB, "10", "USD")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)

	// Same-account transfer.
	status, resp = suite.transfer(accountA, accountA, "10", "USD")
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	errInfo = resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "validation_failed", errInfo["code"])

	// Unknown account.
	status, resp = suite.getAccount(uuid.New().String())
	assert.Equal(suite.T(), http.StatusNotFound, status)
	errInfo = resp["error"].(map[string]interface{})
	assert.Equal(suite.T(), "account_not_found", errInfo["code"])

	// Rejected operations leave no balance change behind.
	suite.assertDecimalEqual("100", suite.accountBalance(accountA))
	suite.assertDecimalEqual("100", suite.accountBalance(accountB))
}

func (suite *IntegrationTestSuite) stepDeleteAccount() {
	a := suite.createAccount(uuid.New(), "Checking", "USD", "0", nil)
	accountID := a["account_id"].(string)

	status, _ := suite.doRequest(http.MethodDelete, "/accounts/"+accountID, nil)
	assert.Equal(suite.T(), http.StatusNoContent, status)

	status, _ = suite.getAccount(accountID)
	assert.Equal(suite.T(), http.StatusNotFound, status)
}

func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepSampleScenario()
	suite.stepConservationUnderContention()
	suite.stepFreezeAndUnfreeze()
	suite.stepSubscriberRedeliversUnacked()
	suite.stepUnsupportedEventVersionQuarantined()
	suite.stepCurrencyImmutableAfterTransactions()
	suite.stepOutboxDelivery()
	suite.stepUnpublishableMessageDeadLettered()
	suite.stepInterestAccrual()
	suite.stepAccrualRejectsNonDeposit()
	suite.stepRejectedOperations()
	suite.stepDeleteAccount()
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
