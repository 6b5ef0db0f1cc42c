package wallet

import (
	"context"
	"iter"
	"sort"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type stubAccountStore struct {
	mutex        sync.Mutex
	accounts     map[string]Account
	saveCalls    int
	loadError    error
	saveError    error
	lockAcquired int
}

func newStubAccountStore(test *testing.T) *stubAccountStore {
	test.Helper()
	return &stubAccountStore{accounts: make(map[string]Account)}
}

func (store *stubAccountStore) WithAccountLock(ctx context.Context, accountID AccountID, fn func(ctx context.Context) error) error {
	store.mutex.Lock()
	store.lockAcquired++
	store.mutex.Unlock()
	return fn(ctx)
}

func (store *stubAccountStore) LoadAccount(ctx context.Context, accountID AccountID) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.loadError != nil {
		return Account{}, store.loadError
	}
	account, ok := store.accounts[accountID.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubAccountStore) CreateAccount(ctx context.Context, accountID AccountID) (Account, error) {
	account := Account{ID: accountID, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	if err := store.SaveAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (store *stubAccountStore) SaveAccount(ctx context.Context, account Account) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.saveError != nil {
		return store.saveError
	}
	store.saveCalls++
	store.accounts[account.ID.String()] = account
	return nil
}

func (store *stubAccountStore) ListAccounts(ctx context.Context) ([]AccountID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	accountIDs := make([]AccountID, 0, len(store.accounts))
	for _, account := range store.accounts {
		accountIDs = append(accountIDs, account.ID)
	}
	sort.Slice(accountIDs, func(left, right int) bool { return accountIDs[left].String() < accountIDs[right].String() })
	return accountIDs, nil
}

func (store *stubAccountStore) balance(test *testing.T, accountID AccountID) int64 {
	test.Helper()
	account, err := store.LoadAccount(context.Background(), accountID)
	if err != nil {
		test.Fatalf("load %s: %v", accountID.String(), err)
	}
	return account.BalanceMinor
}

type stubJournal[T any] struct {
	mutex       sync.Mutex
	entries     map[string][]T
	appendError error
	scanError   error
}

func newStubJournal[T any](test *testing.T) *stubJournal[T] {
	test.Helper()
	return &stubJournal[T]{entries: make(map[string][]T)}
}

func (journal *stubJournal[T]) Append(ctx context.Context, accountID AccountID, entry T) error {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	if journal.appendError != nil {
		return journal.appendError
	}
	journal.entries[accountID.String()] = append(journal.entries[accountID.String()], entry)
	return nil
}

func (journal *stubJournal[T]) Scan(ctx context.Context, accountID AccountID) iter.Seq2[T, error] {
	journal.mutex.Lock()
	entries := append([]T(nil), journal.entries[accountID.String()]...)
	scanError := journal.scanError
	journal.mutex.Unlock()
	return func(yield func(T, error) bool) {
		if scanError != nil {
			var zero T
			yield(zero, scanError)
			return
		}
		for _, entry := range entries {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (journal *stubJournal[T]) Find(ctx context.Context, accountID AccountID, match func(T) bool) (T, error) {
	var zero T
	for entry, err := range journal.Scan(ctx, accountID) {
		if err != nil {
			return zero, err
		}
		if match(entry) {
			return entry, nil
		}
	}
	return zero, ErrTransactionNotFound
}

func (journal *stubJournal[T]) FindAnyAccount(ctx context.Context, match func(T) bool) (AccountID, T, error) {
	var zero T
	accountIDs, _ := journal.Accounts(ctx)
	for _, accountID := range accountIDs {
		entry, err := journal.Find(ctx, accountID, match)
		if err == nil {
			return accountID, entry, nil
		}
	}
	return AccountID{}, zero, ErrTransactionNotFound
}

func (journal *stubJournal[T]) Reset(ctx context.Context, accountID AccountID) (bool, error) {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	_, ok := journal.entries[accountID.String()]
	delete(journal.entries, accountID.String())
	return ok, nil
}

func (journal *stubJournal[T]) Accounts(ctx context.Context) ([]AccountID, error) {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	names := make([]string, 0, len(journal.entries))
	for name := range journal.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	accountIDs := make([]AccountID, 0, len(names))
	for _, name := range names {
		accountIDs = append(accountIDs, AccountID{value: name})
	}
	return accountIDs, nil
}

func (journal *stubJournal[T]) all(accountID AccountID) []T {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	return append([]T(nil), journal.entries[accountID.String()]...)
}

type serviceFixture struct {
	service   *Service
	accounts  *stubAccountStore
	hybrid    *stubJournal[HybridEntry]
	callbacks *stubJournal[CallbackEntry]
}

func newServiceFixture(test *testing.T, options ...ServiceOption) serviceFixture {
	test.Helper()
	accounts := newStubAccountStore(test)
	hybrid := newStubJournal[HybridEntry](test)
	callbacks := newStubJournal[CallbackEntry](test)
	service, err := NewService(accounts, hybrid, callbacks, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return serviceFixture{service: service, accounts: accounts, hybrid: hybrid, callbacks: callbacks}
}

func (fixture serviceFixture) seedBalance(test *testing.T, accountID AccountID, balanceMinor int64) {
	test.Helper()
	account := Account{ID: accountID, BalanceMinor: balanceMinor, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	if err := fixture.accounts.SaveAccount(context.Background(), account); err != nil {
		test.Fatalf("seed balance: %v", err)
	}
	fixture.accounts.saveCalls = 0
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	transactionID, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id %q: %v", raw, err)
	}
	return transactionID
}

func walletTransaction(test *testing.T, accountID AccountID, action Action, transactionID string, amountMinor int64) WalletTransaction {
	test.Helper()
	return WalletTransaction{
		AccountID:     accountID,
		Action:        action,
		TransactionID: mustTransactionID(test, transactionID),
		AmountMinor:   amountMinor,
		Currency:      "USD",
		Metadata:      TransactionMetadata{ProviderCode: "PG", AgentCode: "agent-1"},
	}
}

func voidTransaction(test *testing.T, accountID AccountID, transactionID string, referenceID string) WalletTransaction {
	test.Helper()
	transaction := walletTransaction(test, accountID, ActionVoid, transactionID, 0)
	transaction.ReferenceTransactionID = mustTransactionID(test, referenceID)
	return transaction
}
