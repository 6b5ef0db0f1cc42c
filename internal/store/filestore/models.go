package filestore

import (
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
)

// accountRecord mirrors a player file under the players directory.
type accountRecord struct {
	PlayerAccount string              `json:"player_account"`
	Balance       *wallet.MajorAmount `json:"balance"`
	// BalanceMinor is nil only in records written before minor units were stored.
	BalanceMinor *int64    `json:"balance_minor"`
	Token        *string   `json:"token"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newAccountRecord(account wallet.Account) accountRecord {
	balanceMinor := account.BalanceMinor
	balanceMajor := account.BalanceMajor()
	record := accountRecord{
		PlayerAccount: account.ID.String(),
		Balance:       &balanceMajor,
		BalanceMinor:  &balanceMinor,
		CreatedAt:     account.CreatedAt.UTC(),
		UpdatedAt:     account.UpdatedAt.UTC(),
	}
	if account.SessionToken != "" {
		token := account.SessionToken
		record.Token = &token
	}
	return record
}

// toAccount backfills balance_minor from the major balance of legacy records. A record
// without any balance, or one filed under another player's key, is corrupt.
func (record accountRecord) toAccount(accountID wallet.AccountID) (wallet.Account, error) {
	if record.PlayerAccount != accountID.String() {
		return wallet.Account{}, fmt.Errorf("%w: %s holds player_account %q", wallet.ErrCorruptRecord, accountID.String(), record.PlayerAccount)
	}
	var balanceMinor int64
	switch {
	case record.BalanceMinor != nil:
		balanceMinor = *record.BalanceMinor
	case record.Balance != nil:
		balanceMinor = record.Balance.Minor()
	default:
		return wallet.Account{}, fmt.Errorf("%w: %s has no balance", wallet.ErrCorruptRecord, accountID.String())
	}
	if balanceMinor < 0 {
		return wallet.Account{}, fmt.Errorf("%w: %s has negative balance", wallet.ErrCorruptRecord, accountID.String())
	}
	account := wallet.Account{
		ID:           accountID,
		BalanceMinor: balanceMinor,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if record.Token != nil {
		account.SessionToken = *record.Token
	}
	return account, nil
}
