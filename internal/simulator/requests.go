package simulator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
)

// numericField accepts a JSON number or a numeric string and keeps its text.
type numericField struct {
	text string
	set  bool
}

func (field *numericField) UnmarshalJSON(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	field.text = strings.TrimSpace(text)
	field.set = true
	return nil
}

type accountRequest struct {
	PlayerAccount string `json:"player_account"`
}

type launchRequest struct {
	AgentCode     string          `json:"agent_code"`
	PlayerAccount string          `json:"player_account"`
	ProviderCode  string          `json:"provider_code"`
	GameCode      string          `json:"game_code"`
	Currency      string          `json:"currency"`
	Lang          string          `json:"lang"`
	BetLimit      json.RawMessage `json:"bet_limit"`
	TraceID       string          `json:"trace_id"`
}

// missingField returns the first required launch field that is empty.
func (request launchRequest) missingField() string {
	for _, field := range []struct {
		name  string
		value string
	}{
		{name: "agent_code", value: request.AgentCode},
		{name: "player_account", value: request.PlayerAccount},
		{name: "provider_code", value: request.ProviderCode},
		{name: "game_code", value: request.GameCode},
		{name: "currency", value: request.Currency},
		{name: "lang", value: request.Lang},
	} {
		if strings.TrimSpace(field.value) == "" {
			return field.name
		}
	}
	return ""
}

// betLimit returns the bet limit when present. Only strings and numbers are accepted.
func (request launchRequest) betLimit() (json.RawMessage, bool, error) {
	trimmed := strings.TrimSpace(string(request.BetLimit))
	if trimmed == "" || trimmed == "null" {
		return nil, false, nil
	}
	var value any
	if err := json.Unmarshal(request.BetLimit, &value); err != nil {
		return nil, false, err
	}
	switch value.(type) {
	case string, float64:
		return request.BetLimit, true, nil
	default:
		return nil, false, fmt.Errorf("bet_limit must be a string or a number")
	}
}

type topUpRequest struct {
	PlayerAccount string       `json:"player_account"`
	Amount        numericField `json:"amount"`
	Currency      string       `json:"currency"`
}

type hybridTransactionRequest struct {
	PlayerAccount          string       `json:"player_account"`
	Action                 string       `json:"action"`
	TransactionType        *int         `json:"transaction_type"`
	TransactionID          string       `json:"transaction_id"`
	ReferenceTransactionID string       `json:"reference_transaction_id"`
	Amount                 numericField `json:"amount"`
	Currency               string       `json:"currency"`
	ProviderCode           string       `json:"provider_code"`
	AgentCode              string       `json:"agent_code"`
	TraceID                string       `json:"trace_id"`
}

func (request hybridTransactionRequest) toWalletTransaction() (wallet.WalletTransaction, error) {
	accountID, err := wallet.NewAccountID(request.PlayerAccount)
	if err != nil {
		return wallet.WalletTransaction{}, err
	}
	action, err := request.action()
	if err != nil {
		return wallet.WalletTransaction{}, err
	}
	transactionID, err := wallet.NewTransactionID(request.TransactionID)
	if err != nil {
		return wallet.WalletTransaction{}, err
	}
	var amountMinor int64
	if request.Amount.set {
		amountMinor, err = wallet.TruncateMinor(request.Amount.text)
		if err != nil {
			return wallet.WalletTransaction{}, err
		}
	}
	transaction := wallet.WalletTransaction{
		AccountID:     accountID,
		Action:        action,
		TransactionID: transactionID,
		AmountMinor:   amountMinor,
		Currency:      request.Currency,
		Metadata: wallet.TransactionMetadata{
			ProviderCode: request.ProviderCode,
			AgentCode:    request.AgentCode,
			TraceID:      request.TraceID,
		},
	}
	if action == wallet.ActionVoid {
		transaction.ReferenceTransactionID, err = wallet.NewTransactionID(request.ReferenceTransactionID)
		if err != nil {
			return wallet.WalletTransaction{}, fmt.Errorf("reference_transaction_id: %w", err)
		}
	}
	return transaction, nil
}

// action prefers the named action and falls back to the numeric transaction type.
func (request hybridTransactionRequest) action() (wallet.Action, error) {
	if strings.TrimSpace(request.Action) != "" {
		action, err := wallet.ParseAction(request.Action)
		if err != nil {
			return "", err
		}
		if request.TransactionType != nil && *request.TransactionType != action.TransactionType() {
			return "", fmt.Errorf("%w: transaction_type %d does not match action %s", wallet.ErrInvalidAction, *request.TransactionType, action)
		}
		return action, nil
	}
	if request.TransactionType != nil {
		return wallet.ActionForTransactionType(*request.TransactionType)
	}
	return "", fmt.Errorf("%w: action or transaction_type is required", wallet.ErrInvalidAction)
}

type transactionStatusRequest struct {
	PlayerAccount string `json:"player_account"`
	TransactionID string `json:"transaction_id"`
}

type callbackTransaction struct {
	TransID      string       `json:"trans_id"`
	BetTransID   string       `json:"bet_trans_id"`
	AdjustAmount numericField `json:"adjust_amount"`
}

type callbackRequest struct {
	PlayerAccount string                `json:"player_account"`
	Transactions  []callbackTransaction `json:"transactions"`
}

func (request callbackRequest) toSettlementBatch(action wallet.CallbackAction, payload []byte) (wallet.SettlementBatch, error) {
	accountID, err := wallet.NewAccountID(request.PlayerAccount)
	if err != nil {
		return wallet.SettlementBatch{}, err
	}
	entries := make([]wallet.SettlementEntry, 0, len(request.Transactions))
	for index, transaction := range request.Transactions {
		var adjustMinor int64
		if transaction.AdjustAmount.set {
			adjustMinor, err = wallet.TruncateMinor(transaction.AdjustAmount.text)
			if err != nil {
				return wallet.SettlementBatch{}, fmt.Errorf("transactions[%d].adjust_amount: %w", index, err)
			}
		}
		entries = append(entries, wallet.SettlementEntry{
			TransID:     transaction.TransID,
			BetTransID:  transaction.BetTransID,
			AdjustMinor: adjustMinor,
		})
	}
	return wallet.SettlementBatch{
		AccountID: accountID,
		Action:    action,
		Entries:   entries,
		Payload:   json.RawMessage(payload),
	}, nil
}
