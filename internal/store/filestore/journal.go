package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
	"go.uber.org/zap"
)

const journalFileSuffix = ".log"

// JournalOption configures a Journal.
type JournalOption func(*journalConfig)

type journalConfig struct {
	logger *zap.Logger
}

// WithSkippedLineLogger reports undecodable lines skipped during scans.
func WithSkippedLineLogger(logger *zap.Logger) JournalOption {
	return func(config *journalConfig) {
		config.logger = logger
	}
}

// Journal implements wallet.Journal as one JSON-lines file per account under a root directory.
// Lines are only ever appended; Reset is the single deletion path.
type Journal[T any] struct {
	root   string
	logger *zap.Logger
}

// NewJournal returns a Journal writing <root>/<account_id>.log.
func NewJournal[T any](root string, options ...JournalOption) *Journal[T] {
	config := journalConfig{logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(&config)
		}
	}
	return &Journal[T]{root: root, logger: config.logger}
}

// Append writes entry as one line at the end of the account's file under an exclusive flock.
func (journal *Journal[T]) Append(ctx context.Context, accountID wallet.AccountID, entry T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeEncode, err)
	}
	line = append(line, '\n')
	if err := os.MkdirAll(journal.root, directoryPermissions); err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeAppend, err)
	}
	file, err := os.OpenFile(journal.path(accountID), os.O_APPEND|os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeAppend, err)
	}
	if err := appendLineLocked(file, line); err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeAppend, err)
	}
	return nil
}

// appendLineLocked terminates a torn last line before writing, so a partial write left by a
// crash never swallows the next entry.
func appendLineLocked(file *os.File, line []byte) error {
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return err
	}
	writeErr := func() error {
		info, err := file.Stat()
		if err != nil {
			return err
		}
		if info.Size() > 0 {
			lastByte := make([]byte, 1)
			if _, err := file.ReadAt(lastByte, info.Size()-1); err != nil {
				return err
			}
			if lastByte[0] != '\n' {
				line = append([]byte{'\n'}, line...)
			}
		}
		if _, err := file.Write(line); err != nil {
			return err
		}
		return file.Sync()
	}()
	unlockErr := unlockFile(file)
	closeErr := file.Close()
	return errors.Join(writeErr, unlockErr, closeErr)
}

// Scan lazily yields the account's entries in append order. A missing file is an empty
// stream; blank and undecodable lines are skipped so one bad line never hides the rest.
func (journal *Journal[T]) Scan(ctx context.Context, accountID wallet.AccountID) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if err := ctx.Err(); err != nil {
			yield(zero, err)
			return
		}
		path := journal.path(accountID)
		file, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			yield(zero, wrapStoreError(errorSubjectJournal, errorCodeRead, err))
			return
		}
		defer file.Close()

		reader := bufio.NewReader(file)
		lineNumber := 0
		for {
			line, readErr := reader.ReadBytes('\n')
			if len(line) > 0 {
				lineNumber++
				entry, ok := journal.decodeLine(path, lineNumber, line)
				if ok && !yield(entry, nil) {
					return
				}
			}
			if errors.Is(readErr, io.EOF) {
				return
			}
			if readErr != nil {
				yield(zero, wrapStoreError(errorSubjectJournal, errorCodeRead, readErr))
				return
			}
		}
	}
}

// Find returns the first entry matching match.
func (journal *Journal[T]) Find(ctx context.Context, accountID wallet.AccountID, match func(T) bool) (T, error) {
	var zero T
	for entry, err := range journal.Scan(ctx, accountID) {
		if err != nil {
			return zero, err
		}
		if match(entry) {
			return entry, nil
		}
	}
	return zero, wrapStoreError(errorSubjectJournal, errorCodeFind, wallet.ErrTransactionNotFound)
}

// FindAnyAccount scans every account file under the root in id order.
// Cost grows with the total size of the journal directory.
func (journal *Journal[T]) FindAnyAccount(ctx context.Context, match func(T) bool) (wallet.AccountID, T, error) {
	var zero T
	accountIDs, err := journal.Accounts(ctx)
	if err != nil {
		return wallet.AccountID{}, zero, err
	}
	for _, accountID := range accountIDs {
		entry, err := journal.Find(ctx, accountID, match)
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return wallet.AccountID{}, zero, err
		}
		return accountID, entry, nil
	}
	return wallet.AccountID{}, zero, wrapStoreError(errorSubjectJournal, errorCodeFind, wallet.ErrTransactionNotFound)
}

// Reset removes the account's file and reports whether one existed.
func (journal *Journal[T]) Reset(ctx context.Context, accountID wallet.AccountID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(journal.path(accountID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreError(errorSubjectJournal, errorCodeReset, err)
	}
	return true, nil
}

// Accounts lists the accounts that have a file under the root.
func (journal *Journal[T]) Accounts(ctx context.Context) ([]wallet.AccountID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accountIDs, err := listKeyedFiles(journal.root, journalFileSuffix)
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	return accountIDs, nil
}

func (journal *Journal[T]) decodeLine(path string, lineNumber int, line []byte) (T, bool) {
	var entry T
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return entry, false
	}
	var decodeErr error
	if trimmed[0] != '{' {
		decodeErr = errors.New("not a json object")
	} else {
		decodeErr = json.Unmarshal(trimmed, &entry)
	}
	if decodeErr != nil {
		journal.logger.Warn("skipping journal line",
			zap.String("path", path),
			zap.Int("line", lineNumber),
			zap.Error(fmt.Errorf("%w: %v", wallet.ErrCorruptLogLine, decodeErr)),
		)
		return entry, false
	}
	return entry, true
}

func (journal *Journal[T]) path(accountID wallet.AccountID) string {
	return filepath.Join(journal.root, accountID.String()+journalFileSuffix)
}
