package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
)

const (
	accountFileSuffix    = ".json"
	accountLockSuffix    = ".lock"
	accountTempPattern   = ".*.tmp"
	directoryPermissions = 0o775
	filePermissions      = 0o644

	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectJournal = "journal"
	errorSubjectLock    = "lock"
	errorCodeAcquire    = "acquire"
	errorCodeAppend     = "append"
	errorCodeDecode     = "decode"
	errorCodeEncode     = "encode"
	errorCodeFind       = "find"
	errorCodeList       = "list"
	errorCodeLoad       = "load"
	errorCodeRead       = "read"
	errorCodeReset      = "reset"
	errorCodeSave       = "save"
)

// AccountStore implements wallet.AccountStore with one JSON file per account.
type AccountStore struct {
	directory string
	nowFn     func() time.Time
	locks     *keyedLocker
}

// NewAccountStore returns an AccountStore rooted at directory.
func NewAccountStore(directory string, now func() time.Time) *AccountStore {
	if now == nil {
		now = time.Now
	}
	return &AccountStore{
		directory: directory,
		nowFn:     now,
		locks:     newKeyedLocker(),
	}
}

// WithAccountLock serializes fn against every other locked operation on the same account,
// in this process through a keyed mutex and across processes through flock on <id>.lock.
func (store *AccountStore) WithAccountLock(ctx context.Context, accountID wallet.AccountID, fn func(ctx context.Context) error) error {
	release, err := store.locks.acquire(ctx, accountID.String())
	if err != nil {
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
	}
	defer release()

	if err := os.MkdirAll(store.directory, directoryPermissions); err != nil {
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
	}
	lockFileHandle, err := os.OpenFile(store.path(accountID, accountLockSuffix), os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
	}
	defer lockFileHandle.Close()
	if err := lockFile(lockFileHandle); err != nil {
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
	}
	defer func() { _ = unlockFile(lockFileHandle) }()

	return fn(ctx)
}

// LoadAccount reads the snapshot of an account.
func (store *AccountStore) LoadAccount(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	if err := ctx.Err(); err != nil {
		return wallet.Account{}, err
	}
	contents, err := os.ReadFile(store.path(accountID, accountFileSuffix))
	if errors.Is(err, os.ErrNotExist) {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLoad, wallet.ErrAccountNotFound)
	}
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeRead, err)
	}
	var record accountRecord
	if err := json.Unmarshal(contents, &record); err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDecode, fmt.Errorf("%w: %s: %v", wallet.ErrCorruptRecord, accountID.String(), err))
	}
	account, err := record.toAccount(accountID)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDecode, err)
	}
	return account, nil
}

// CreateAccount persists a zero-balance account. Callers create only after LoadAccount reported it missing.
func (store *AccountStore) CreateAccount(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	now := store.nowFn().UTC()
	account := wallet.Account{
		ID:        accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.SaveAccount(ctx, account); err != nil {
		return wallet.Account{}, err
	}
	return account, nil
}

// SaveAccount writes the full record to a locked temporary file and renames it into place,
// so readers see either the previous or the new record.
func (store *AccountStore) SaveAccount(ctx context.Context, account wallet.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	contents, err := json.MarshalIndent(newAccountRecord(account), "", "    ")
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeEncode, err)
	}
	if err := os.MkdirAll(store.directory, directoryPermissions); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	tempFile, err := os.CreateTemp(store.directory, account.ID.String()+accountFileSuffix+accountTempPattern)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	tempPath := tempFile.Name()
	if err := writeLocked(tempFile, contents); err != nil {
		_ = os.Remove(tempPath)
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	if err := os.Rename(tempPath, store.path(account.ID, accountFileSuffix)); err != nil {
		_ = os.Remove(tempPath)
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	return nil
}

// ListAccounts returns the ids of every stored snapshot.
func (store *AccountStore) ListAccounts(ctx context.Context) ([]wallet.AccountID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accountIDs, err := listKeyedFiles(store.directory, accountFileSuffix)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return accountIDs, nil
}

func (store *AccountStore) path(accountID wallet.AccountID, suffix string) string {
	return filepath.Join(store.directory, accountID.String()+suffix)
}

func writeLocked(file *os.File, contents []byte) error {
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return err
	}
	_, writeErr := file.Write(contents)
	if writeErr == nil {
		writeErr = file.Sync()
	}
	unlockErr := unlockFile(file)
	closeErr := file.Close()
	return errors.Join(writeErr, unlockErr, closeErr)
}

// listKeyedFiles returns account ids for files named <id><suffix>, in lexical order.
func listKeyedFiles(directory string, suffix string) ([]wallet.AccountID, error) {
	dirEntries, err := os.ReadDir(directory)
	if errors.Is(err, os.ErrNotExist) {
		return []wallet.AccountID{}, nil
	}
	if err != nil {
		return nil, err
	}
	accountIDs := make([]wallet.AccountID, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		accountID, err := wallet.NewAccountID(strings.TrimSuffix(name, suffix))
		if err != nil {
			continue
		}
		accountIDs = append(accountIDs, accountID)
	}
	return accountIDs, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}
