package wallet

import (
	"context"
	"iter"
)

// AccountStore is the persistence contract for balance snapshots.
type AccountStore interface {
	// WithAccountLock runs fn while holding the exclusive lock of one account.
	WithAccountLock(ctx context.Context, accountID AccountID, fn func(ctx context.Context) error) error
	LoadAccount(ctx context.Context, accountID AccountID) (Account, error)
	CreateAccount(ctx context.Context, accountID AccountID) (Account, error)
	SaveAccount(ctx context.Context, account Account) error
	ListAccounts(ctx context.Context) ([]AccountID, error)
}

// Journal is an append-only per-account log of entries of type T.
type Journal[T any] interface {
	Append(ctx context.Context, accountID AccountID, entry T) error
	// Scan yields entries in append order. Undecodable lines are skipped; only I/O failures are yielded as errors.
	Scan(ctx context.Context, accountID AccountID) iter.Seq2[T, error]
	Find(ctx context.Context, accountID AccountID, match func(T) bool) (T, error)
	FindAnyAccount(ctx context.Context, match func(T) bool) (AccountID, T, error)
	Reset(ctx context.Context, accountID AccountID) (bool, error)
	Accounts(ctx context.Context) ([]AccountID, error)
}
