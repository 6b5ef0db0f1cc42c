package wallet

import (
	"context"
	"errors"
	"fmt"
)

// guard enforces at-most-once application of external references on top of the journals.
type guard struct {
	hybrid    Journal[HybridEntry]
	callbacks Journal[CallbackEntry]
}

// checkHybridReference rejects a transaction id already recorded in the account's hybrid stream.
func (idempotencyGuard guard) checkHybridReference(ctx context.Context, accountID AccountID, transactionID TransactionID) error {
	_, err := idempotencyGuard.hybrid.Find(ctx, accountID, matchTransactionID(transactionID.String()))
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, transactionID.String())
	}
	if errors.Is(err, ErrTransactionNotFound) {
		return nil
	}
	return WrapError(errorOperationService, errorSubjectJournal, errorCodeScan, err)
}

// voidTarget returns the transaction a void reverses after checking it can still be voided.
func (idempotencyGuard guard) voidTarget(ctx context.Context, accountID AccountID, referenceID TransactionID) (HybridEntry, error) {
	var (
		target      HybridEntry
		targetFound bool
	)
	for entry, err := range idempotencyGuard.hybrid.Scan(ctx, accountID) {
		if err != nil {
			return HybridEntry{}, WrapError(errorOperationService, errorSubjectJournal, errorCodeScan, err)
		}
		if entry.Action == ActionVoid && entry.ReferenceTransactionID == referenceID.String() {
			return HybridEntry{}, fmt.Errorf("%w: %s", ErrTransactionAlreadyVoided, referenceID.String())
		}
		if !targetFound && entry.TransactionID == referenceID.String() {
			target = entry
			targetFound = true
		}
	}
	if !targetFound {
		return HybridEntry{}, fmt.Errorf("%w: %s", ErrVoidTargetNotFound, referenceID.String())
	}
	if target.Action == ActionVoid {
		return HybridEntry{}, fmt.Errorf("%w: %s is itself a void", ErrInvalidVoidTarget, referenceID.String())
	}
	return target, nil
}

// checkSettlementReferences rejects a batch whose references repeat within the batch or
// appear in any previously logged batch of the account.
func (idempotencyGuard guard) checkSettlementReferences(ctx context.Context, accountID AccountID, transactionIDs []string) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	for entry, err := range idempotencyGuard.callbacks.Scan(ctx, accountID) {
		if err != nil {
			return WrapError(errorOperationService, errorSubjectJournal, errorCodeScan, err)
		}
		for _, transactionID := range entry.TransactionIDs {
			seen[transactionID] = struct{}{}
		}
	}
	duplicates := findDuplicateReferences(transactionIDs, seen)
	if len(duplicates) > 0 {
		return DuplicateTransactionsError{TransactionIDs: duplicates}
	}
	return nil
}

// findDuplicateReferences returns, in first-seen order, every id that occurs more than
// once in the batch or is already present in history.
func findDuplicateReferences(transactionIDs []string, history map[string]struct{}) []string {
	counts := make(map[string]int, len(transactionIDs))
	for _, transactionID := range transactionIDs {
		counts[transactionID]++
	}
	duplicates := make([]string, 0)
	reported := make(map[string]struct{})
	for _, transactionID := range transactionIDs {
		if _, done := reported[transactionID]; done {
			continue
		}
		_, logged := history[transactionID]
		if counts[transactionID] > 1 || logged {
			duplicates = append(duplicates, transactionID)
			reported[transactionID] = struct{}{}
		}
	}
	return duplicates
}

func matchTransactionID(transactionID string) func(HybridEntry) bool {
	return func(entry HybridEntry) bool {
		return entry.TransactionID == transactionID
	}
}
