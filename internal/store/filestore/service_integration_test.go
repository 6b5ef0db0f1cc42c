package filestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/walletsim/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
)

func newFileBackedService(test *testing.T) *wallet.Service {
	test.Helper()
	root := test.TempDir()
	now := func() time.Time { return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC) }
	service, err := wallet.NewService(
		filestore.NewAccountStore(filepath.Join(root, "players"), now),
		filestore.NewJournal[wallet.HybridEntry](filepath.Join(root, "hybrid-transactions")),
		filestore.NewJournal[wallet.CallbackEntry](filepath.Join(root, "callbacks")),
		now,
	)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func deposit(test *testing.T, accountID wallet.AccountID, transactionID string, amountMinor int64) wallet.WalletTransaction {
	test.Helper()
	reference, err := wallet.NewTransactionID(transactionID)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return wallet.WalletTransaction{
		AccountID:     accountID,
		Action:        wallet.ActionDeposit,
		TransactionID: reference,
		AmountMinor:   amountMinor,
		Currency:      "USD",
	}
}

func TestConcurrentRetriesCommitOnce(test *testing.T) {
	test.Parallel()
	service := newFileBackedService(test)
	ctx := context.Background()
	accountID, err := wallet.NewAccountID("racer")
	if err != nil {
		test.Fatalf("account id: %v", err)
	}

	const attempts = 12
	var (
		waitGroup  sync.WaitGroup
		mutex      sync.Mutex
		committed  int
		duplicates int
	)
	for attempt := 0; attempt < attempts; attempt++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.ApplyWalletTransaction(ctx, deposit(test, accountID, "same-ref", 500))
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, wallet.ErrDuplicateReference):
				duplicates++
			default:
				test.Errorf("unexpected error: %v", err)
			}
		}()
	}
	waitGroup.Wait()
	if committed != 1 || duplicates != attempts-1 {
		test.Fatalf("expected one commit and %d duplicates, got %d and %d", attempts-1, committed, duplicates)
	}
	view, err := service.QueryBalance(ctx, accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if view.BalanceMinor != 500 {
		test.Fatalf("expected balance 500, got %d", view.BalanceMinor)
	}
}

func TestConcurrentDistinctDepositsAllApply(test *testing.T) {
	test.Parallel()
	service := newFileBackedService(test)
	ctx := context.Background()
	accountID, err := wallet.NewAccountID("busy")
	if err != nil {
		test.Fatalf("account id: %v", err)
	}

	const deposits = 10
	var waitGroup sync.WaitGroup
	for index := 0; index < deposits; index++ {
		waitGroup.Add(1)
		transaction := deposit(test, accountID, "dep-"+string(rune('a'+index)), 100)
		go func() {
			defer waitGroup.Done()
			if _, err := service.ApplyWalletTransaction(ctx, transaction); err != nil {
				test.Errorf("deposit: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	report, err := service.Reconcile(ctx, accountID, false)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.SnapshotMinor != deposits*100 || report.Diverged() || report.HybridEntries != deposits {
		test.Fatalf("unexpected report: %+v", report)
	}
}

func TestSettlementAndVoidOnDisk(test *testing.T) {
	test.Parallel()
	service := newFileBackedService(test)
	ctx := context.Background()
	accountID, err := wallet.NewAccountID("p1")
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	if _, err := service.ApplyWalletTransaction(ctx, deposit(test, accountID, "tx1", 5000)); err != nil {
		test.Fatalf("deposit: %v", err)
	}
	result, err := service.ApplySettlementBatch(ctx, wallet.SettlementBatch{
		AccountID: accountID,
		Action:    wallet.CallbackSettle,
		Entries:   []wallet.SettlementEntry{{TransID: "r1", AdjustMinor: -200}, {TransID: "r2", AdjustMinor: 150}},
	})
	if err != nil {
		test.Fatalf("settle: %v", err)
	}
	if result.BalanceMinor != 4950 {
		test.Fatalf("expected 4950, got %d", result.BalanceMinor)
	}
	_, err = service.ApplySettlementBatch(ctx, wallet.SettlementBatch{
		AccountID: accountID,
		Action:    wallet.CallbackResettle,
		Entries:   []wallet.SettlementEntry{{TransID: "r2", AdjustMinor: 10}},
	})
	if !errors.Is(err, wallet.ErrDuplicateReference) {
		test.Fatalf("expected duplicate settlement reference, got %v", err)
	}

	history, err := service.ListTransactions(ctx, accountID, wallet.StreamCallback)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(history.Callbacks) != 1 || history.Callbacks[0].AdjustmentMinor != -50 {
		test.Fatalf("unexpected callback history: %+v", history.Callbacks)
	}

	report, err := service.Reconcile(ctx, accountID, false)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Diverged() || report.ReplayedMinor != 4950 {
		test.Fatalf("unexpected report: %+v", report)
	}
}
