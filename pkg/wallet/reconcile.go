package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ReconciliationReport compares a balance snapshot with the replay of its journals.
type ReconciliationReport struct {
	AccountID       AccountID
	SnapshotMinor   int64
	ReplayedMinor   int64
	SnapshotMissing bool
	HybridEntries   int
	CallbackEntries int
	// BrokenEntries counts entries whose recorded after-balance disagrees with before plus delta.
	BrokenEntries int
	Repaired      bool
}

// Diverged reports whether the snapshot and the replayed balance differ.
func (report ReconciliationReport) Diverged() bool {
	return report.SnapshotMinor != report.ReplayedMinor
}

// Reconcile replays both journals of an account from a zero balance and compares the
// result with the snapshot. With repair set, a diverged snapshot is overwritten with the
// replayed balance.
func (service *Service) Reconcile(ctx context.Context, accountID AccountID, repair bool) (ReconciliationReport, error) {
	report := ReconciliationReport{AccountID: accountID}
	operationError := service.accounts.WithAccountLock(ctx, accountID, func(ctx context.Context) error {
		account, err := service.accounts.LoadAccount(ctx, accountID)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			report.SnapshotMissing = true
		case err != nil:
			return err
		default:
			report.SnapshotMinor = account.BalanceMinor
		}
		if err := service.replay(ctx, &report); err != nil {
			return err
		}
		if !repair || !report.Diverged() {
			return nil
		}
		if report.ReplayedMinor < 0 {
			return fmt.Errorf("%w: replayed balance %d cannot be stored", ErrInsufficientBalance, report.ReplayedMinor)
		}
		if report.SnapshotMissing {
			account, err = service.accounts.CreateAccount(ctx, accountID)
			if err != nil {
				return err
			}
		}
		account.BalanceMinor = report.ReplayedMinor
		account.UpdatedAt = service.nowFn().UTC()
		if err := service.accounts.SaveAccount(ctx, account); err != nil {
			return WrapError(errorOperationService, errorSubjectAccount, errorCodeSave, err)
		}
		report.Repaired = true
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationReconcile,
		AccountID:    accountID,
		AmountMinor:  report.ReplayedMinor - report.SnapshotMinor,
		BalanceMinor: report.ReplayedMinor,
		Error:        operationError,
	})
	return report, operationError
}

// ReconcileAll reconciles every account that has a snapshot or a journal, in id order.
func (service *Service) ReconcileAll(ctx context.Context, repair bool) ([]ReconciliationReport, error) {
	known := make(map[string]AccountID)
	for _, list := range []func(context.Context) ([]AccountID, error){
		service.accounts.ListAccounts,
		service.hybrid.Accounts,
		service.callbacks.Accounts,
	} {
		accountIDs, err := list(ctx)
		if err != nil {
			return nil, err
		}
		for _, accountID := range accountIDs {
			known[accountID.String()] = accountID
		}
	}
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	reports := make([]ReconciliationReport, 0, len(names))
	for _, name := range names {
		report, err := service.Reconcile(ctx, known[name], repair)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (service *Service) replay(ctx context.Context, report *ReconciliationReport) error {
	for entry, err := range service.hybrid.Scan(ctx, report.AccountID) {
		if err != nil {
			return WrapError(errorOperationService, errorSubjectJournal, errorCodeScan, err)
		}
		delta := entry.SignedDelta()
		if entry.BalanceAfter != entry.BalanceBefore+delta {
			report.BrokenEntries++
		}
		report.ReplayedMinor += delta
		report.HybridEntries++
	}
	for entry, err := range service.callbacks.Scan(ctx, report.AccountID) {
		if err != nil {
			return WrapError(errorOperationService, errorSubjectJournal, errorCodeScan, err)
		}
		report.ReplayedMinor += entry.AdjustmentMinor
		report.CallbackEntries++
	}
	return nil
}
