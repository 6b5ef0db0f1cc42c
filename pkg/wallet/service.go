package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service applies wallet operations over an AccountStore and the two journals.
// It keeps no state between calls.
type Service struct {
	accounts  AccountStore
	hybrid    Journal[HybridEntry]
	callbacks Journal[CallbackEntry]
	guard     guard
	nowFn     func() time.Time
	newID     func() string
	logger    OperationLogger
}

// NewService wires a Service.
func NewService(accounts AccountStore, hybrid Journal[HybridEntry], callbacks Journal[CallbackEntry], now func() time.Time, options ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("%w: account store dependency is nil", ErrInvalidServiceConfig)
	}
	if hybrid == nil || callbacks == nil {
		return nil, fmt.Errorf("%w: journal dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		accounts:  accounts,
		hybrid:    hybrid,
		callbacks: callbacks,
		guard:     guard{hybrid: hybrid, callbacks: callbacks},
		nowFn:     now,
		newID:     newCompactUUID,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ApplyWalletTransaction commits a deposit, withdrawal, void, agg_add or agg_deduct at most once.
func (service *Service) ApplyWalletTransaction(ctx context.Context, transaction WalletTransaction) (WalletResult, error) {
	var result WalletResult
	operationError := transaction.validate()
	if operationError == nil {
		operationError = service.accounts.WithAccountLock(ctx, transaction.AccountID, func(ctx context.Context) error {
			committed, err := service.applyWalletTransaction(ctx, transaction)
			result = committed
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationWalletTransaction,
		Action:        transaction.Action.String(),
		AccountID:     transaction.AccountID,
		TransactionID: transaction.TransactionID.String(),
		AmountMinor:   result.Entry.Amount,
		BalanceMinor:  result.BalanceMinor,
		Error:         operationError,
	})
	return result, operationError
}

func (service *Service) applyWalletTransaction(ctx context.Context, transaction WalletTransaction) (WalletResult, error) {
	if err := service.guard.checkHybridReference(ctx, transaction.AccountID, transaction.TransactionID); err != nil {
		return WalletResult{}, err
	}
	amountMinor := transaction.AmountMinor
	signedDelta := transaction.Action.signedDelta(amountMinor)
	var target HybridEntry
	if transaction.Action == ActionVoid {
		voidTarget, err := service.guard.voidTarget(ctx, transaction.AccountID, transaction.ReferenceTransactionID)
		if err != nil {
			return WalletResult{}, err
		}
		target = voidTarget
		amountMinor = target.Amount
		signedDelta = -target.SignedDelta()
	}

	account, err := service.loadAccount(ctx, transaction.AccountID, transaction.Action.credits())
	if err != nil {
		return WalletResult{}, err
	}
	balanceBefore := account.BalanceMinor
	balanceAfter, ok := addMinor(balanceBefore, signedDelta)
	if !ok {
		return WalletResult{}, fmt.Errorf("%w: balance %d cannot absorb %d", ErrInvalidAmount, balanceBefore, signedDelta)
	}
	if balanceAfter < 0 {
		return WalletResult{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, balanceBefore, amountMinor)
	}

	now := service.nowFn().UTC()
	account.BalanceMinor = balanceAfter
	account.UpdatedAt = now
	if err := service.accounts.SaveAccount(ctx, account); err != nil {
		return WalletResult{}, WrapError(errorOperationService, errorSubjectAccount, errorCodeSave, err)
	}
	entry := HybridEntry{
		Datetime:        now,
		Action:          transaction.Action,
		TransactionID:   transaction.TransactionID.String(),
		TransactionType: transaction.Action.TransactionType(),
		Amount:          amountMinor,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceAfter,
		Currency:        strings.TrimSpace(transaction.Currency),
		ProviderCode:    transaction.Metadata.ProviderCode,
		AgentCode:       transaction.Metadata.AgentCode,
		TraceID:         transaction.Metadata.TraceID,
		Status:          hybridStatusComplete,
	}
	if transaction.Action == ActionVoid {
		entry.ReferenceTransactionID = target.TransactionID
		entry.ReferenceAction = target.Action
	}
	// The snapshot is already committed here; a failed append leaves the reference unrecorded until reconciled.
	if err := service.hybrid.Append(ctx, transaction.AccountID, entry); err != nil {
		return WalletResult{}, WrapError(errorOperationService, errorSubjectJournal, errorCodeAppend, err)
	}
	return WalletResult{
		BalanceMinor: balanceAfter,
		BalanceMajor: MajorAmount(balanceAfter),
		Entry:        entry,
	}, nil
}

// ApplySettlementBatch applies the summed adjustment of a callback batch, or logs a balance probe.
func (service *Service) ApplySettlementBatch(ctx context.Context, batch SettlementBatch) (SettlementResult, error) {
	var result SettlementResult
	operationError := batch.validate()
	if operationError == nil {
		operationError = service.accounts.WithAccountLock(ctx, batch.AccountID, func(ctx context.Context) error {
			committed, err := service.applySettlementBatch(ctx, batch)
			result = committed
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationSettlement,
		Action:        batch.Action.String(),
		AccountID:     batch.AccountID,
		TransactionID: strings.Join(result.Entry.TransactionIDs, ","),
		AmountMinor:   result.Entry.AdjustmentMinor,
		BalanceMinor:  result.BalanceMinor,
		Error:         operationError,
	})
	return result, operationError
}

func (service *Service) applySettlementBatch(ctx context.Context, batch SettlementBatch) (SettlementResult, error) {
	adjustmentMinor, transactionIDs := int64(0), []string{}
	if batch.Action != CallbackBalance {
		adjustmentMinor, transactionIDs = batch.adjustment()
	}
	if err := service.guard.checkSettlementReferences(ctx, batch.AccountID, transactionIDs); err != nil {
		return SettlementResult{}, err
	}
	account, err := service.accounts.LoadAccount(ctx, batch.AccountID)
	if err != nil {
		return SettlementResult{}, err
	}
	balanceAfter, ok := addMinor(account.BalanceMinor, adjustmentMinor)
	if !ok {
		return SettlementResult{}, fmt.Errorf("%w: balance %d cannot absorb %d", ErrInvalidBatch, account.BalanceMinor, adjustmentMinor)
	}
	if balanceAfter < 0 {
		return SettlementResult{}, fmt.Errorf("%w: balance %d, adjustment %d", ErrInsufficientBalance, account.BalanceMinor, adjustmentMinor)
	}

	now := service.nowFn().UTC()
	if adjustmentMinor != 0 {
		account.BalanceMinor = balanceAfter
		account.UpdatedAt = now
		if err := service.accounts.SaveAccount(ctx, account); err != nil {
			return SettlementResult{}, WrapError(errorOperationService, errorSubjectAccount, errorCodeSave, err)
		}
	}
	payload := batch.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	entry := CallbackEntry{
		Datetime:        now,
		Action:          batch.Action,
		Payload:         payload,
		AdjustmentMinor: adjustmentMinor,
		TransactionIDs:  transactionIDs,
		BalanceMinor:    balanceAfter,
	}
	if err := service.callbacks.Append(ctx, batch.AccountID, entry); err != nil {
		return SettlementResult{}, WrapError(errorOperationService, errorSubjectJournal, errorCodeAppend, err)
	}
	return SettlementResult{
		BalanceMinor: balanceAfter,
		BalanceMajor: MajorAmount(balanceAfter),
		Entry:        entry,
	}, nil
}

// TopUp credits an account with a generated reference so the credit stays replayable.
func (service *Service) TopUp(ctx context.Context, accountID AccountID, amountMinor int64, currency string) (WalletResult, error) {
	transactionID, err := NewTransactionID(topUpTransactionPrefix + service.newID())
	if err != nil {
		return WalletResult{}, err
	}
	return service.ApplyWalletTransaction(ctx, WalletTransaction{
		AccountID:     accountID,
		Action:        ActionDeposit,
		TransactionID: transactionID,
		AmountMinor:   amountMinor,
		Currency:      currency,
	})
}

// IssueSessionToken stores a fresh launch token, creating the account when needed.
func (service *Service) IssueSessionToken(ctx context.Context, accountID AccountID) (Account, error) {
	var account Account
	operationError := service.accounts.WithAccountLock(ctx, accountID, func(ctx context.Context) error {
		loaded, err := service.loadAccount(ctx, accountID, true)
		if err != nil {
			return err
		}
		loaded.SessionToken = service.newID()
		loaded.UpdatedAt = service.nowFn().UTC()
		if err := service.accounts.SaveAccount(ctx, loaded); err != nil {
			return WrapError(errorOperationService, errorSubjectAccount, errorCodeSave, err)
		}
		account = loaded
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationLaunch,
		AccountID:    accountID,
		BalanceMinor: account.BalanceMinor,
		Error:        operationError,
	})
	return account, operationError
}

// QueryBalance returns the current snapshot of an account.
func (service *Service) QueryBalance(ctx context.Context, accountID AccountID) (BalanceView, error) {
	account, err := service.accounts.LoadAccount(ctx, accountID)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		AccountID:    account.ID,
		BalanceMinor: account.BalanceMinor,
		BalanceMajor: account.BalanceMajor(),
		SessionToken: account.SessionToken,
	}, nil
}

// QueryTransaction finds a hybrid transaction, falling back to every account when none is given.
func (service *Service) QueryTransaction(ctx context.Context, accountID AccountID, transactionID TransactionID) (TransactionRecord, error) {
	if transactionID.IsZero() {
		return TransactionRecord{}, fmt.Errorf("%w: missing transaction id", ErrInvalidTransactionID)
	}
	match := matchTransactionID(transactionID.String())
	if !accountID.IsZero() {
		entry, err := service.hybrid.Find(ctx, accountID, match)
		if err != nil {
			return TransactionRecord{}, err
		}
		return TransactionRecord{AccountID: accountID, Entry: entry}, nil
	}
	ownerID, entry, err := service.hybrid.FindAnyAccount(ctx, match)
	if err != nil {
		return TransactionRecord{}, err
	}
	return TransactionRecord{AccountID: ownerID, Entry: entry}, nil
}

// ListTransactions returns every entry of one stream in append order.
func (service *Service) ListTransactions(ctx context.Context, accountID AccountID, stream Stream) (TransactionHistory, error) {
	history := TransactionHistory{AccountID: accountID, Stream: stream}
	var err error
	switch stream {
	case StreamHybrid:
		history.Hybrid, err = collect(ctx, service.hybrid, accountID)
	case StreamCallback:
		history.Callbacks, err = collect(ctx, service.callbacks, accountID)
	default:
		return TransactionHistory{}, fmt.Errorf("%w: %q", ErrInvalidStream, stream)
	}
	if err != nil {
		return TransactionHistory{}, WrapError(errorOperationService, errorSubjectJournal, errorCodeScan, err)
	}
	return history, nil
}

// ResetTransactions deletes one stream of an account, discarding its idempotency history.
func (service *Service) ResetTransactions(ctx context.Context, accountID AccountID, stream Stream) (bool, error) {
	var deleted bool
	operationError := service.accounts.WithAccountLock(ctx, accountID, func(ctx context.Context) error {
		var err error
		switch stream {
		case StreamHybrid:
			deleted, err = service.hybrid.Reset(ctx, accountID)
		case StreamCallback:
			deleted, err = service.callbacks.Reset(ctx, accountID)
		default:
			err = fmt.Errorf("%w: %q", ErrInvalidStream, stream)
		}
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReset,
		Action:    string(stream),
		AccountID: accountID,
		Error:     operationError,
	})
	return deleted, operationError
}

func (service *Service) loadAccount(ctx context.Context, accountID AccountID, createMissing bool) (Account, error) {
	account, err := service.accounts.LoadAccount(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !createMissing || !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}
	return service.accounts.CreateAccount(ctx, accountID)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		entry.Status = operationStatus(entry.Error)
	}
	service.logger.LogOperation(ctx, entry)
}

// operationStatus separates expected rejections from infrastructure failures.
func operationStatus(err error) string {
	switch {
	case err == nil:
		return operationStatusOK
	case IsRejection(err):
		return operationStatusRejected
	default:
		return operationStatusError
	}
}

// IsRejection reports whether err is an expected domain outcome rather than a storage failure.
func IsRejection(err error) bool {
	for _, rejection := range []error{
		ErrStructuralValidation,
		ErrInvalidAccountID,
		ErrDuplicateReference,
		ErrInsufficientBalance,
		ErrAccountNotFound,
		ErrTransactionNotFound,
		ErrVoidTargetNotFound,
		ErrTransactionAlreadyVoided,
		ErrInvalidVoidTarget,
	} {
		if errors.Is(err, rejection) {
			return true
		}
	}
	return false
}

func collect[T any](ctx context.Context, journal Journal[T], accountID AccountID) ([]T, error) {
	entries := make([]T, 0)
	for entry, err := range journal.Scan(ctx, accountID) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func newCompactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
