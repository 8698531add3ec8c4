package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"economy-store/core/cache"
	"economy-store/core/dispatch"
	"economy-store/core/document"
	"economy-store/core/logger"
	"economy-store/core/mongodb"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Repository is the facade through which all account and transaction data is
// read and written. Reads are cache-aside: a fresh cache entry answers
// immediately, a miss dispatches a worker task against the store. Writes go
// to the store first and only update the cache once confirmed.
//
// Every operation returns a future; callers that must not block beyond a
// host budget use the Bounded variants, which fall back to stale data or
// configured defaults when the store cannot answer in time.
type Repository struct {
	cfg  Config
	log  *zap.Logger
	disp *dispatch.Dispatcher
	conn *mongodb.Manager

	cacheEnabled bool
	balances     *cache.Cache[string, decimal.Decimal]
	accounts     *cache.Cache[string, Account]
	// lastKnown never expires; it backs the stale-read fallback when the
	// store is unreachable and the fresh caches have lapsed.
	lastKnown *cache.Cache[string, decimal.Decimal]

	accountMapper *document.Mapper[Account]
	txMapper      *document.Mapper[Transaction]

	// sf collapses concurrent cache-miss loads for the same key. The cache
	// itself tolerates duplicate computes; this just avoids hammering the
	// store when a hot key expires.
	sf singleflight.Group
}

// NewRepository builds the facade. The mapper registry is constructed once
// here; a missing schema registration fails construction, not a request.
func NewRepository(cfg Config, cacheCfg cache.Config, conn *mongodb.Manager, disp *dispatch.Dispatcher, log *zap.Logger) (*Repository, error) {
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	accountMapper, err := document.Lookup[Account](reg, accountSchema)
	if err != nil {
		return nil, err
	}
	txMapper, err := document.Lookup[Transaction](reg, transactionSchema)
	if err != nil {
		return nil, err
	}

	sweep := time.Duration(cacheCfg.SweepIntervalSeconds) * time.Second
	ttl := cacheCfg.DefaultTTL()
	if override := cfg.BalanceTTL(); override > 0 {
		ttl = override
	}

	return &Repository{
		cfg:          cfg,
		log:          log,
		disp:         disp,
		conn:         conn,
		cacheEnabled: cacheCfg.Enabled,
		balances: cache.New[string, decimal.Decimal](
			cache.WithDefaultTTL(ttl), cache.WithSweepInterval(sweep)),
		accounts: cache.New[string, Account](
			cache.WithDefaultTTL(ttl), cache.WithSweepInterval(sweep)),
		lastKnown: cache.New[string, decimal.Decimal](
			cache.WithSweepInterval(0)),
		accountMapper: accountMapper,
		txMapper:      txMapper,
	}, nil
}

// Close stops the cache janitors. The dispatcher and connection manager are
// owned by the caller.
func (r *Repository) Close() {
	r.balances.Close()
	r.accounts.Close()
	r.lastKnown.Close()
}

// collection resolves a live collection handle, connecting if necessary.
func (r *Repository) collection(ctx context.Context, name string) (mongodb.Collection, error) {
	if err := r.conn.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return r.conn.Collection(name)
}

// cacheAccount refreshes every per-player cache from a decoded account.
func (r *Repository) cacheAccount(acct Account) {
	r.lastKnown.Put(acct.PlayerID, acct.Balance)
	if !r.cacheEnabled {
		return
	}
	r.accounts.Put(acct.PlayerID, acct)
	r.balances.Put(acct.PlayerID, acct.Balance)
}

// cacheBalance refreshes the balance caches after a confirmed write and
// drops the derived account projection so it is re-read fresh.
func (r *Repository) cacheBalance(id string, balance decimal.Decimal) {
	r.lastKnown.Put(id, balance)
	r.accounts.Remove(id)
	if r.cacheEnabled {
		r.balances.Put(id, balance)
	}
}

// fetchAccount reads one account from the store and refreshes the caches.
// A missing account returns (nil, nil).
func (r *Repository) fetchAccount(ctx context.Context, id string) (*Account, error) {
	col, err := r.collection(ctx, r.cfg.AccountsCollection)
	if err != nil {
		return nil, err
	}

	doc, err := col.FindOne(ctx, bson.M{document.IDKey: id})
	if err != nil {
		if errors.Is(err, mongodb.ErrNoDocument) {
			return nil, nil
		}
		return nil, err
	}

	acct, err := r.accountMapper.Decode(doc)
	if err != nil {
		return nil, err
	}
	r.cacheAccount(*acct)
	return acct, nil
}

// loadAccount is fetchAccount behind singleflight.
func (r *Repository) loadAccount(ctx context.Context, id string) (*Account, error) {
	v, err, _ := r.sf.Do("account:"+id, func() (any, error) {
		return r.fetchAccount(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Account), nil
}

// GetBalance returns the player's balance. A cache hit resolves immediately
// without dispatching; a miss loads from the store. When the store cannot be
// read the future resolves with the last known balance, or the configured
// default, never with an error.
func (r *Repository) GetBalance(id string) *dispatch.Future[decimal.Decimal] {
	if r.cacheEnabled {
		if v, ok := r.balances.Get(id); ok {
			return dispatch.Resolved(v)
		}
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (decimal.Decimal, error) {
		acct, err := r.loadAccount(ctx, id)
		if err != nil {
			logger.WithPlayer(r.log, id).Warn("balance read failed, using fallback", zap.Error(err))
			if stale, ok := r.lastKnown.Get(id); ok {
				return stale, nil
			}
			return r.cfg.FallbackBalance(), nil
		}
		if acct == nil {
			return r.cfg.FallbackBalance(), nil
		}
		return acct.Balance, nil
	})
}

// GetBalanceBounded is GetBalance with the host's latency budget applied.
// On timeout the in-flight load keeps running (and may fill the cache for
// the next caller) while the caller gets stale-or-default immediately.
func (r *Repository) GetBalanceBounded(id string) decimal.Decimal {
	v, err := r.GetBalance(id).AwaitTimeout(r.cfg.BoundedWait())
	if err == nil {
		return v
	}
	if stale, ok := r.lastKnown.Get(id); ok {
		return stale
	}
	return r.cfg.FallbackBalance()
}

// UpdateBalance sets the player's balance to newBalance. The cache is only
// touched after the store confirms the write.
func (r *Repository) UpdateBalance(id string, newBalance decimal.Decimal) *dispatch.Future[bool] {
	if id == "" || newBalance.IsNegative() {
		return dispatch.Failed[bool](fmt.Errorf("%w: balance %s for %q", ErrValidation, newBalance, id))
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (bool, error) {
		ok, err := r.writeBalance(ctx, id, newBalance)
		if err != nil {
			logger.WithPlayer(r.log, id).Error("balance write failed", zap.Error(err))
			return false, err
		}
		return ok, nil
	})
}

func (r *Repository) writeBalance(ctx context.Context, id string, balance decimal.Decimal) (bool, error) {
	col, err := r.collection(ctx, r.cfg.AccountsCollection)
	if err != nil {
		return false, err
	}

	f, _ := balance.Float64()
	matched, _, err := col.UpdateOne(ctx,
		bson.M{document.IDKey: id},
		bson.M{"$set": bson.M{
			"balance":       f,
			"last_activity": time.Now().UnixMilli(),
		}},
		false)
	if err != nil {
		return false, err
	}
	if matched == 0 {
		return false, nil
	}

	r.cacheBalance(id, balance)
	return true, nil
}

// AccountExists reports whether the player has an account. Any live cache
// entry short-circuits to true without a store round trip.
func (r *Repository) AccountExists(id string) *dispatch.Future[bool] {
	if r.cacheEnabled && (r.balances.Contains(id) || r.accounts.Contains(id)) {
		return dispatch.Resolved(true)
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (bool, error) {
		col, err := r.collection(ctx, r.cfg.AccountsCollection)
		if err != nil {
			return false, err
		}
		n, err := col.Count(ctx, bson.M{document.IDKey: id})
		if err != nil {
			return false, err
		}
		return n > 0, nil
	})
}

// AccountExistsBounded applies the host budget. When the store cannot answer
// in time the configurable fallback policy decides: assuming existence keeps
// legacy host behavior but can mask genuinely missing accounts.
func (r *Repository) AccountExistsBounded(id string) bool {
	v, err := r.AccountExists(id).AwaitTimeout(r.cfg.BoundedWait())
	if err == nil {
		return v
	}
	return r.cfg.AssumeExistsOnTimeout
}

// CreateAccount creates the account if it does not exist. Creating an
// account that already exists succeeds without altering the stored balance.
func (r *Repository) CreateAccount(id, displayName string, initialBalance decimal.Decimal) *dispatch.Future[bool] {
	if id == "" || initialBalance.IsNegative() {
		return dispatch.Failed[bool](fmt.Errorf("%w: create %q with %s", ErrValidation, id, initialBalance))
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (bool, error) {
		col, err := r.collection(ctx, r.cfg.AccountsCollection)
		if err != nil {
			return false, err
		}

		now := time.Now()
		acct := Account{
			PlayerID:     id,
			Name:         displayName,
			Balance:      initialBalance,
			LastActivity: now,
			CreatedAt:    now,
		}
		doc, err := r.accountMapper.Encode(&acct)
		if err != nil {
			return false, err
		}

		// The identity lives in the filter; $setOnInsert must not repeat it.
		fields := bson.M{}
		for k, v := range doc {
			if k != document.IDKey {
				fields[k] = v
			}
		}

		_, upserted, err := col.UpdateOne(ctx,
			bson.M{document.IDKey: id},
			bson.M{"$setOnInsert": fields},
			true)
		if err != nil {
			logger.WithPlayer(r.log, id).Error("account create failed", zap.Error(err))
			return false, err
		}
		// A fresh insert stored exactly the record built above, so the
		// caches can be primed without re-reading it. An existing account
		// keeps whatever the store already holds and stays uncached.
		if upserted > 0 {
			r.cacheAccount(acct)
		}
		return true, nil
	})
}

// GetAccount returns the full account, or nil when it does not exist.
func (r *Repository) GetAccount(id string) *dispatch.Future[*Account] {
	if r.cacheEnabled {
		if acct, ok := r.accounts.Get(id); ok {
			copied := acct
			return dispatch.Resolved(&copied)
		}
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (*Account, error) {
		return r.loadAccount(ctx, id)
	})
}

// GetTopAccounts returns up to limit accounts ordered by balance descending.
// The result set is never cached, since any balance write would invalidate
// it; instead every returned row refreshes that player's caches.
func (r *Repository) GetTopAccounts(limit int) *dispatch.Future[[]Account] {
	if limit <= 0 {
		return dispatch.Failed[[]Account](fmt.Errorf("%w: limit %d", ErrValidation, limit))
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) ([]Account, error) {
		col, err := r.collection(ctx, r.cfg.AccountsCollection)
		if err != nil {
			return nil, err
		}

		docs, err := col.Find(ctx, bson.M{},
			bson.D{{Key: "balance", Value: -1}}, int64(limit))
		if err != nil {
			return nil, err
		}

		out := make([]Account, 0, len(docs))
		for _, doc := range docs {
			acct, err := r.accountMapper.Decode(doc)
			if err != nil {
				return nil, err
			}
			r.cacheAccount(*acct)
			out = append(out, *acct)
		}
		return out, nil
	})
}

// UpdateLastActivity stamps the account's last activity with the current
// time.
func (r *Repository) UpdateLastActivity(id string) *dispatch.Future[bool] {
	if id == "" {
		return dispatch.Failed[bool](fmt.Errorf("%w: empty player id", ErrValidation))
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (bool, error) {
		col, err := r.collection(ctx, r.cfg.AccountsCollection)
		if err != nil {
			return false, err
		}

		matched, _, err := col.UpdateOne(ctx,
			bson.M{document.IDKey: id},
			bson.M{"$set": bson.M{"last_activity": time.Now().UnixMilli()}},
			false)
		if err != nil {
			return false, err
		}
		if matched == 0 {
			return false, nil
		}
		// The cached projection now carries a stale timestamp.
		r.accounts.Remove(id)
		return true, nil
	})
}

// RecordTransaction appends one entry to the ledger.
func (r *Repository) RecordTransaction(tx Transaction) *dispatch.Future[bool] {
	if err := validateTransaction(tx); err != nil {
		return dispatch.Failed[bool](err)
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (bool, error) {
		ok, err := r.insertTransaction(ctx, tx)
		if err != nil {
			logger.WithPlayer(r.log, tx.PlayerID).Error("transaction write failed", zap.Error(err))
		}
		return ok, err
	})
}

func validateTransaction(tx Transaction) error {
	if tx.PlayerID == "" {
		return fmt.Errorf("%w: transaction without player id", ErrValidation)
	}
	if tx.Amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrValidation, tx.Amount)
	}
	switch tx.Type {
	case TxDeposit, TxWithdraw, TxSet, TxTransfer:
		return nil
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, tx.Type)
	}
}

func (r *Repository) insertTransaction(ctx context.Context, tx Transaction) (bool, error) {
	col, err := r.collection(ctx, r.cfg.TransactionsCollection)
	if err != nil {
		return false, err
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	doc, err := r.txMapper.Encode(&tx)
	if err != nil {
		return false, err
	}
	if err := col.InsertOne(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

// GetAccountTransactions returns the player's most recent ledger entries.
func (r *Repository) GetAccountTransactions(id string, limit int) *dispatch.Future[[]Transaction] {
	if id == "" || limit <= 0 {
		return dispatch.Failed[[]Transaction](fmt.Errorf("%w: id %q limit %d", ErrValidation, id, limit))
	}
	return r.findTransactions(bson.M{"uuid": id}, limit)
}

// GetRecentTransactions returns the most recent ledger entries across all
// accounts.
func (r *Repository) GetRecentTransactions(limit int) *dispatch.Future[[]Transaction] {
	if limit <= 0 {
		return dispatch.Failed[[]Transaction](fmt.Errorf("%w: limit %d", ErrValidation, limit))
	}
	return r.findTransactions(bson.M{}, limit)
}

func (r *Repository) findTransactions(filter bson.M, limit int) *dispatch.Future[[]Transaction] {
	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) ([]Transaction, error) {
		col, err := r.collection(ctx, r.cfg.TransactionsCollection)
		if err != nil {
			return nil, err
		}

		docs, err := col.Find(ctx, filter,
			bson.D{{Key: "created_at", Value: -1}}, int64(limit))
		if err != nil {
			return nil, err
		}

		out := make([]Transaction, 0, len(docs))
		for _, doc := range docs {
			tx, err := r.txMapper.Decode(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, *tx)
		}
		return out, nil
	})
}

// Deposit adds amount to the player's balance and records a ledger entry.
// The future resolves with the new balance.
func (r *Repository) Deposit(id string, amount decimal.Decimal, note string) *dispatch.Future[decimal.Decimal] {
	if id == "" || amount.Sign() <= 0 {
		return dispatch.Failed[decimal.Decimal](fmt.Errorf("%w: deposit %s to %q", ErrValidation, amount, id))
	}
	return r.mutateBalance(id, amount, TxDeposit, note)
}

// Withdraw subtracts amount from the player's balance and records a ledger
// entry. Withdrawing more than the balance fails with ErrInsufficientFunds.
func (r *Repository) Withdraw(id string, amount decimal.Decimal, note string) *dispatch.Future[decimal.Decimal] {
	if id == "" || amount.Sign() <= 0 {
		return dispatch.Failed[decimal.Decimal](fmt.Errorf("%w: withdraw %s from %q", ErrValidation, amount, id))
	}
	return r.mutateBalance(id, amount.Neg(), TxWithdraw, note)
}

// mutateBalance applies a signed delta. The read-modify-write is not atomic
// across processes; concurrent writers race the way the original system
// tolerated, with the store holding whichever write landed last.
func (r *Repository) mutateBalance(id string, delta decimal.Decimal, txType, note string) *dispatch.Future[decimal.Decimal] {
	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (decimal.Decimal, error) {
		acct, err := r.fetchAccount(ctx, id)
		if err != nil {
			return decimal.Zero, err
		}
		if acct == nil {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrNoAccount, id)
		}

		newBalance := acct.Balance.Add(delta)
		if newBalance.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: %s - %s", ErrInsufficientFunds, acct.Balance, delta.Abs())
		}

		ok, err := r.writeBalance(ctx, id, newBalance)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrNoAccount, id)
		}

		// The ledger entry is best-effort; a failed append must not undo a
		// confirmed balance write.
		if _, err := r.insertTransaction(ctx, Transaction{
			PlayerID: id,
			Type:     txType,
			Amount:   delta.Abs(),
			Note:     note,
		}); err != nil {
			logger.WithPlayer(r.log, id).Warn("ledger append failed", zap.Error(err))
		}

		return newBalance, nil
	})
}

// Transfer moves amount between two accounts. The two writes are not
// transactional; a failed credit is refunded best-effort.
func (r *Repository) Transfer(from, to string, amount decimal.Decimal) *dispatch.Future[bool] {
	if from == "" || to == "" || from == to || amount.Sign() <= 0 {
		return dispatch.Failed[bool](fmt.Errorf("%w: transfer %s from %q to %q", ErrValidation, amount, from, to))
	}

	return dispatch.SupplyWorker(r.disp, func(ctx context.Context) (bool, error) {
		if _, err := r.Withdraw(from, amount, "transfer to "+to).Await(ctx); err != nil {
			return false, err
		}
		if _, err := r.Deposit(to, amount, "transfer from "+from).Await(ctx); err != nil {
			r.log.Error("transfer credit failed, refunding",
				zap.String("from", from), zap.String("to", to), zap.Error(err))
			if _, rerr := r.Deposit(from, amount, "transfer refund").Await(ctx); rerr != nil {
				r.log.Error("transfer refund failed",
					zap.String("from", from), zap.Error(rerr))
			}
			return false, err
		}
		return true, nil
	})
}

// CacheStats reports live entry counts for the health surface.
func (r *Repository) CacheStats() map[string]int {
	return map[string]int{
		"balances":   r.balances.Len(),
		"accounts":   r.accounts.Len(),
		"last_known": r.lastKnown.Len(),
	}
}
