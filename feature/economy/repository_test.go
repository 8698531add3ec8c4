package economy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"economy-store/core/cache"
	"economy-store/core/dispatch"
	"economy-store/core/document"
	"economy-store/core/mongodb"
	"economy-store/core/mongodb/mocks"
	"economy-store/feature/economy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type fixture struct {
	repo     *economy.Repository
	accounts *mocks.Collection
	txs      *mocks.Collection
}

func newFixture(t *testing.T, mut func(cfg *economy.Config, cacheCfg *cache.Config)) *fixture {
	t.Helper()

	accountsCol := new(mocks.Collection)
	txCol := new(mocks.Collection)

	cli := new(mocks.Client)
	cli.On("Ping", mock.Anything).Return(nil)
	cli.On("Disconnect", mock.Anything).Return(nil)
	cli.On("Collection", "accounts").Return(accountsCol)
	cli.On("Collection", "transactions").Return(txCol)

	disp := dispatch.New(zap.NewNop())
	t.Cleanup(disp.Shutdown)

	mgr := mongodb.NewManager(mongodb.Config{
		URI:                  "mongodb://localhost:27017",
		Name:                 "economy",
		ConnectTimeoutMS:     1000,
		MaxReconnectAttempts: 3,
	}, zap.NewNop(), disp, mongodb.WithDialer(
		func(ctx context.Context, cfg mongodb.Config) (mongodb.Client, error) {
			return cli, nil
		}))
	t.Cleanup(func() { mgr.Disconnect(context.Background()) })

	cfg := economy.Config{
		AccountsCollection:     "accounts",
		TransactionsCollection: "transactions",
		BalanceTTLSeconds:      60,
		DefaultBalance:         "0",
		BoundedWaitMS:          100,
		AssumeExistsOnTimeout:  true,
	}
	cacheCfg := cache.Config{Enabled: true}
	if mut != nil {
		mut(&cfg, &cacheCfg)
	}

	repo, err := economy.NewRepository(cfg, cacheCfg, mgr, disp, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	return &fixture{repo: repo, accounts: accountsCol, txs: txCol}
}

func accountDoc(id string, balance float64) document.Document {
	return document.Document{
		"_id":           id,
		"name":          "Alice",
		"balance":       balance,
		"last_activity": int64(1740000000000),
		"created_at":    int64(1700000000000),
	}
}

func await[T any](t *testing.T, f *dispatch.Future[T]) T {
	t.Helper()
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	return v
}

func TestGetBalanceCacheAside(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "p1"}).
		Return(accountDoc("p1", 100), nil)

	// Cold cache: the read goes to the store.
	v := await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(100)))

	// Warm cache: no second store read.
	v = await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(100)))
	fx.accounts.AssertNumberOfCalls(t, "FindOne", 1)
}

func TestBalanceCacheTTLFromCacheDefault(t *testing.T) {
	fx := newFixture(t, func(cfg *economy.Config, cacheCfg *cache.Config) {
		cfg.BalanceTTLSeconds = 0
		cacheCfg.DefaultTTLSeconds = 1
	})
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "p1"}).
		Return(accountDoc("p1", 100), nil)

	await(t, fx.repo.GetBalance("p1"))
	await(t, fx.repo.GetBalance("p1"))
	fx.accounts.AssertNumberOfCalls(t, "FindOne", 1)

	// Past the configured default TTL the entry has lapsed and the next
	// read goes back to the store.
	time.Sleep(1100 * time.Millisecond)
	await(t, fx.repo.GetBalance("p1"))
	fx.accounts.AssertNumberOfCalls(t, "FindOne", 2)
}

func TestBalanceTTLOverridesCacheDefault(t *testing.T) {
	fx := newFixture(t, func(cfg *economy.Config, cacheCfg *cache.Config) {
		cfg.BalanceTTLSeconds = 60
		cacheCfg.DefaultTTLSeconds = 1
	})
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "p1"}).
		Return(accountDoc("p1", 100), nil)

	await(t, fx.repo.GetBalance("p1"))
	time.Sleep(1100 * time.Millisecond)
	await(t, fx.repo.GetBalance("p1"))
	fx.accounts.AssertNumberOfCalls(t, "FindOne", 1)
}

func TestGetBalanceMissingAccountUsesDefault(t *testing.T) {
	fx := newFixture(t, func(cfg *economy.Config, _ *cache.Config) {
		cfg.DefaultBalance = "25"
	})
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, mongodb.ErrNoDocument)

	v := await(t, fx.repo.GetBalance("ghost"))
	assert.True(t, v.Equal(decimal.NewFromInt(25)))
}

func TestGetBalanceStaleFallback(t *testing.T) {
	// Caching disabled so every read hits the store, but the last known
	// balance is still retained for degraded reads.
	fx := newFixture(t, func(_ *economy.Config, cacheCfg *cache.Config) {
		cacheCfg.Enabled = false
	})
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(accountDoc("p1", 80), nil).Once()
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, errors.New("server selection timeout"))

	v := await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(80)))

	// Store now unreachable: the stale value comes back, not an error.
	v = await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(80)))
}

func TestGetBalanceNoStaleUsesDefault(t *testing.T) {
	fx := newFixture(t, func(cfg *economy.Config, _ *cache.Config) {
		cfg.DefaultBalance = "5"
	})
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	v := await(t, fx.repo.GetBalance("never-seen"))
	assert.True(t, v.Equal(decimal.NewFromInt(5)))
}

func TestUpdateBalanceWriteThrough(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("UpdateOne", mock.Anything, bson.M{"_id": "p1"}, mock.Anything, false).
		Return(int64(1), int64(0), nil)

	ok := await(t, fx.repo.UpdateBalance("p1", decimal.RequireFromString("150.00")))
	assert.True(t, ok)

	// The confirmed write primed the cache: no store read needed.
	v := await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.RequireFromString("150.00")))
	fx.accounts.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestUpdateBalanceFailureLeavesCacheUntouched(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(accountDoc("p1", 100), nil)
	fx.accounts.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, false).
		Return(int64(0), int64(0), errors.New("socket closed"))

	// Prime the cache.
	await(t, fx.repo.GetBalance("p1"))

	_, err := fx.repo.UpdateBalance("p1", decimal.NewFromInt(999)).Await(context.Background())
	assert.Error(t, err)

	// No speculative update: the old value is still served.
	v := await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(100)))
}

func TestUpdateBalanceValidation(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.repo.UpdateBalance("p1", decimal.NewFromInt(-1)).Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)

	// Rejected before any dispatch: the store was never touched.
	fx.accounts.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateBalanceUnknownAccount(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, false).
		Return(int64(0), int64(0), nil)

	ok := await(t, fx.repo.UpdateBalance("ghost", decimal.NewFromInt(10)))
	assert.False(t, ok)
}

func TestAccountExistsShortCircuit(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(accountDoc("p1", 100), nil)

	// Prime the balance cache.
	await(t, fx.repo.GetBalance("p1"))

	ok := await(t, fx.repo.AccountExists("p1"))
	assert.True(t, ok)
	fx.accounts.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
}

func TestAccountExistsStoreRoundTrip(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("Count", mock.Anything, bson.M{"_id": "p2"}).
		Return(int64(0), nil)

	ok := await(t, fx.repo.AccountExists("p2"))
	assert.False(t, ok)
}

func TestCreateAccount(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("UpdateOne", mock.Anything, bson.M{"_id": "p1"},
		mock.MatchedBy(func(update bson.M) bool {
			fields, ok := update["$setOnInsert"].(bson.M)
			if !ok {
				return false
			}
			// The identity must live in the filter only.
			_, hasID := fields["_id"]
			return !hasID && fields["name"] == "Alice" && fields["balance"] == 500.0
		}), true).
		Return(int64(0), int64(1), nil)

	ok := await(t, fx.repo.CreateAccount("p1", "Alice", decimal.NewFromInt(500)))
	assert.True(t, ok)

	// A fresh insert primes the caches with the balance the caller supplied.
	v := await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(500)))
	fx.accounts.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestCreateAccountAlreadyExists(t *testing.T) {
	fx := newFixture(t, nil)
	// $setOnInsert on an existing account matches without altering anything.
	fx.accounts.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, true).
		Return(int64(1), int64(0), nil)
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "p1"}).
		Return(accountDoc("p1", 100), nil)

	ok := await(t, fx.repo.CreateAccount("p1", "Alice", decimal.NewFromInt(500)))
	assert.True(t, ok)
	fx.accounts.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)

	// The caches were not primed with the caller's values; the next read
	// fetches the stored balance.
	v := await(t, fx.repo.GetBalance("p1"))
	assert.True(t, v.Equal(decimal.NewFromInt(100)))
}

func TestGetAccount(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "p1"}).
		Return(accountDoc("p1", 100), nil)

	acct := await(t, fx.repo.GetAccount("p1"))
	require.NotNil(t, acct)
	assert.Equal(t, "p1", acct.PlayerID)
	assert.Equal(t, "Alice", acct.Name)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(100)))

	// Cached projection answers the second read.
	acct = await(t, fx.repo.GetAccount("p1"))
	require.NotNil(t, acct)
	fx.accounts.AssertNumberOfCalls(t, "FindOne", 1)
}

func TestGetAccountAbsent(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, mongodb.ErrNoDocument)

	acct := await(t, fx.repo.GetAccount("ghost"))
	assert.Nil(t, acct)
}

func TestGetTopAccounts(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("Find", mock.Anything, bson.M{},
		bson.D{{Key: "balance", Value: -1}}, int64(2)).
		Return([]document.Document{
			accountDoc("rich", 9000),
			accountDoc("poor", 10),
		}, nil)

	top := await(t, fx.repo.GetTopAccounts(2))
	require.Len(t, top, 2)
	assert.Equal(t, "rich", top[0].PlayerID)

	// Side effect: every returned row refreshed the per-player caches.
	v := await(t, fx.repo.GetBalance("poor"))
	assert.True(t, v.Equal(decimal.NewFromInt(10)))
	fx.accounts.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestUpdateLastActivity(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("UpdateOne", mock.Anything, bson.M{"_id": "p1"},
		mock.MatchedBy(func(update bson.M) bool {
			set, ok := update["$set"].(bson.M)
			if !ok {
				return false
			}
			_, has := set["last_activity"]
			return has
		}), false).
		Return(int64(1), int64(0), nil)

	ok := await(t, fx.repo.UpdateLastActivity("p1"))
	assert.True(t, ok)
}

func TestRecordTransaction(t *testing.T) {
	fx := newFixture(t, nil)
	fx.txs.On("InsertOne", mock.Anything, mock.MatchedBy(func(doc document.Document) bool {
		// The mapper renames playerId to uuid and generates the identity.
		id, _ := doc["_id"].(string)
		return doc["uuid"] == "p1" && doc["type"] == economy.TxDeposit && id != ""
	})).Return(nil)

	ok := await(t, fx.repo.RecordTransaction(economy.Transaction{
		PlayerID: "p1",
		Type:     economy.TxDeposit,
		Amount:   decimal.NewFromInt(10),
	}))
	assert.True(t, ok)
}

func TestRecordTransactionValidation(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.repo.RecordTransaction(economy.Transaction{
		PlayerID: "p1",
		Type:     "bribe",
		Amount:   decimal.NewFromInt(10),
	}).Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)

	_, err = fx.repo.RecordTransaction(economy.Transaction{
		PlayerID: "p1",
		Type:     economy.TxDeposit,
		Amount:   decimal.NewFromInt(-10),
	}).Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)

	fx.txs.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestGetAccountTransactions(t *testing.T) {
	fx := newFixture(t, nil)
	fx.txs.On("Find", mock.Anything, bson.M{"uuid": "p1"},
		bson.D{{Key: "created_at", Value: -1}}, int64(10)).
		Return([]document.Document{
			{"_id": "t1", "uuid": "p1", "type": "deposit", "amount": 10.0, "created_at": int64(1740000001000)},
			{"_id": "t2", "uuid": "p1", "type": "withdraw", "amount": 3.5, "created_at": int64(1740000000000)},
		}, nil)

	txs := await(t, fx.repo.GetAccountTransactions("p1", 10))
	require.Len(t, txs, 2)
	assert.Equal(t, "p1", txs[0].PlayerID)
	assert.Equal(t, economy.TxDeposit, txs[0].Type)
	assert.True(t, txs[1].Amount.Equal(decimal.NewFromFloat(3.5)))
}

func TestDeposit(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "p1"}).
		Return(accountDoc("p1", 100), nil)
	fx.accounts.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, false).
		Return(int64(1), int64(0), nil)
	fx.txs.On("InsertOne", mock.Anything, mock.Anything).Return(nil)

	newBal := await(t, fx.repo.Deposit("p1", decimal.NewFromInt(50), "quest reward"))
	assert.True(t, newBal.Equal(decimal.NewFromInt(150)))
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	fx := newFixture(t, nil)
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Return(accountDoc("p1", 20), nil)

	_, err := fx.repo.Withdraw("p1", decimal.NewFromInt(50), "").Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
	fx.accounts.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithdrawValidation(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.repo.Withdraw("p1", decimal.NewFromInt(-5), "").Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)
	_, err = fx.repo.Deposit("p1", decimal.Zero, "").Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)
}

func TestGetBalanceBoundedTimeout(t *testing.T) {
	fx := newFixture(t, func(cfg *economy.Config, cacheCfg *cache.Config) {
		cfg.BoundedWaitMS = 50
		cfg.DefaultBalance = "7"
		cacheCfg.Enabled = false
	})
	fx.accounts.On("FindOne", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
		Return(accountDoc("p1", 100), nil)

	start := time.Now()
	v := fx.repo.GetBalanceBounded("p1")
	assert.Less(t, time.Since(start), 250*time.Millisecond, "bounded read must respect the budget")
	assert.True(t, v.Equal(decimal.NewFromInt(7)), "no stale entry yet, so the default applies")

	// The abandoned load still completes and retains the balance for the
	// next degraded read.
	assert.Eventually(t, func() bool {
		return fx.repo.GetBalanceBounded("p1").Equal(decimal.NewFromInt(100))
	}, time.Second, 20*time.Millisecond)
}

func TestAccountExistsBoundedPolicy(t *testing.T) {
	slow := func(fx *fixture) {
		fx.accounts.On("Count", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
			Return(int64(0), nil)
	}

	permissive := newFixture(t, func(cfg *economy.Config, _ *cache.Config) {
		cfg.BoundedWaitMS = 30
		cfg.AssumeExistsOnTimeout = true
	})
	slow(permissive)
	assert.True(t, permissive.repo.AccountExistsBounded("p1"))

	strict := newFixture(t, func(cfg *economy.Config, _ *cache.Config) {
		cfg.BoundedWaitMS = 30
		cfg.AssumeExistsOnTimeout = false
	})
	slow(strict)
	assert.False(t, strict.repo.AccountExistsBounded("p1"))
}

func TestTransfer(t *testing.T) {
	fx := newFixture(t, func(_ *economy.Config, cacheCfg *cache.Config) {
		cacheCfg.Enabled = false
	})
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "a"}).
		Return(accountDoc("a", 100), nil)
	fx.accounts.On("FindOne", mock.Anything, bson.M{"_id": "b"}).
		Return(accountDoc("b", 10), nil)
	fx.accounts.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, false).
		Return(int64(1), int64(0), nil)
	fx.txs.On("InsertOne", mock.Anything, mock.Anything).Return(nil)

	ok := await(t, fx.repo.Transfer("a", "b", decimal.NewFromInt(40)))
	assert.True(t, ok)
}

func TestTransferValidation(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.repo.Transfer("a", "a", decimal.NewFromInt(10)).Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)
	_, err = fx.repo.Transfer("a", "b", decimal.Zero).Await(context.Background())
	assert.ErrorIs(t, err, economy.ErrValidation)
}
