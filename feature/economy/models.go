package economy

import (
	"time"

	"economy-store/core/document"

	"github.com/shopspring/decimal"
)

// Account is a player's economy account. Values returned by the repository
// are owned by the caller and never mutated afterwards.
type Account struct {
	// PlayerID is the stable player identity (a UUID string) and doubles as
	// the document identity.
	PlayerID string
	// Name is the display label shown by the host.
	Name string
	// Balance is the current balance as a fixed-precision decimal.
	Balance decimal.Decimal
	// LastActivity is the last time the account was touched.
	LastActivity time.Time
	// CreatedAt is when the account was created.
	CreatedAt time.Time
}

// Transaction types recorded in the ledger.
const (
	TxDeposit  = "deposit"
	TxWithdraw = "withdraw"
	TxSet      = "set"
	TxTransfer = "transfer"
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	// ID is the document identity, generated on first encode.
	ID string
	// PlayerID is the account the entry belongs to. Stored under "uuid" in
	// the document for compatibility with the persisted shape.
	PlayerID string
	// Type is one of the Tx* constants.
	Type string
	// Amount is the transaction amount, always positive; Type carries the
	// direction.
	Amount decimal.Decimal
	// Note is free-form metadata (e.g. the transfer counterparty).
	Note string
	// CreatedAt is when the entry was recorded.
	CreatedAt time.Time
}

// Mapper registration names.
const (
	accountSchema     = "account"
	transactionSchema = "transaction"
)

// newRegistry builds the mapper registry for all persisted record types.
// Called once at repository construction.
func newRegistry() (*document.Registry, error) {
	accounts, err := document.NewMapper(accountFields())
	if err != nil {
		return nil, err
	}
	transactions, err := document.NewMapper(transactionFields())
	if err != nil {
		return nil, err
	}

	reg := document.NewRegistry()
	reg.Register(accountSchema, accounts)
	reg.Register(transactionSchema, transactions)
	return reg, nil
}

func accountFields() []document.FieldSpec[Account] {
	return []document.FieldSpec[Account]{
		{
			Name:     "playerId",
			Identity: true,
			Kind:     document.KindString,
			Get:      func(a *Account) any { return a.PlayerID },
			Set:      func(a *Account, v any) { a.PlayerID = v.(string) },
		},
		{
			Name:    "name",
			DocName: "name",
			Kind:    document.KindString,
			Get:     func(a *Account) any { return a.Name },
			Set:     func(a *Account, v any) { a.Name = v.(string) },
		},
		{
			Name:    "balance",
			DocName: "balance",
			Kind:    document.KindDecimal,
			Get:     func(a *Account) any { return a.Balance },
			Set:     func(a *Account, v any) { a.Balance = v.(decimal.Decimal) },
		},
		{
			Name:    "lastActivity",
			DocName: "last_activity",
			Kind:    document.KindTimeMillis,
			Get:     func(a *Account) any { return a.LastActivity },
			Set:     func(a *Account, v any) { a.LastActivity = v.(time.Time) },
		},
		{
			Name:    "createdAt",
			DocName: "created_at",
			Kind:    document.KindTimeMillis,
			Get:     func(a *Account) any { return a.CreatedAt },
			Set:     func(a *Account, v any) { a.CreatedAt = v.(time.Time) },
		},
	}
}

func transactionFields() []document.FieldSpec[Transaction] {
	return []document.FieldSpec[Transaction]{
		{
			Name:     "id",
			Identity: true,
			Kind:     document.KindString,
			Get:      func(t *Transaction) any { return t.ID },
			Set:      func(t *Transaction, v any) { t.ID = v.(string) },
		},
		{
			Name:    "playerId",
			DocName: "uuid",
			Kind:    document.KindString,
			Get:     func(t *Transaction) any { return t.PlayerID },
			Set:     func(t *Transaction, v any) { t.PlayerID = v.(string) },
		},
		{
			Name:    "type",
			DocName: "type",
			Kind:    document.KindString,
			Get:     func(t *Transaction) any { return t.Type },
			Set:     func(t *Transaction, v any) { t.Type = v.(string) },
		},
		{
			Name:    "amount",
			DocName: "amount",
			Kind:    document.KindDecimal,
			Get:     func(t *Transaction) any { return t.Amount },
			Set:     func(t *Transaction, v any) { t.Amount = v.(decimal.Decimal) },
		},
		{
			Name:    "note",
			DocName: "note",
			Kind:    document.KindString,
			Get:     func(t *Transaction) any { return t.Note },
			Set:     func(t *Transaction, v any) { t.Note = v.(string) },
		},
		{
			Name:    "createdAt",
			DocName: "created_at",
			Kind:    document.KindTimeMillis,
			Get:     func(t *Transaction) any { return t.CreatedAt },
			Set:     func(t *Transaction, v any) { t.CreatedAt = v.(time.Time) },
		},
	}
}
