package wallet

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const minorUnitExponent = 2

var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// AccountID identifies a player account. It doubles as a filesystem key.
type AccountID struct {
	value string
}

// TransactionID is an external idempotency reference.
type TransactionID struct {
	value string
}

// NewAccountID validates an account id against the filesystem-safe charset.
func NewAccountID(raw string) (AccountID, error) {
	if !accountIDPattern.MatchString(raw) {
		return AccountID{}, fmt.Errorf("%w: must be alphanumeric with optional underscore or dash", ErrInvalidAccountID)
	}
	return AccountID{value: raw}, nil
}

// String returns the identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates and normalizes a transaction reference.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized reference.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// MajorAmount renders minor units as a decimal major amount with two places.
type MajorAmount int64

// String returns the amount with exactly two decimal places.
func (amount MajorAmount) String() string {
	return decimal.New(int64(amount), -minorUnitExponent).StringFixedBank(minorUnitExponent)
}

// MarshalJSON writes the amount as an unquoted JSON number.
func (amount MajorAmount) MarshalJSON() ([]byte, error) {
	return []byte(amount.String()), nil
}

// UnmarshalJSON reads a JSON number in major units, rounding to the nearest minor unit.
func (amount *MajorAmount) UnmarshalJSON(raw []byte) error {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		*amount = 0
		return nil
	}
	parsed, err := decimal.NewFromString(text)
	if err != nil {
		return fmt.Errorf("major amount %q: %w", text, err)
	}
	minor, err := boundedMinor(parsed.Shift(minorUnitExponent).Round(0))
	if err != nil {
		return fmt.Errorf("major amount %q: %w", text, err)
	}
	*amount = MajorAmount(minor)
	return nil
}

// Minor returns the underlying minor units.
func (amount MajorAmount) Minor() int64 {
	return int64(amount)
}

// TruncateMinor parses a numeric minor-unit amount, truncating any fraction toward zero.
func TruncateMinor(raw string) (int64, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidAmount, raw)
	}
	return boundedMinor(parsed.Truncate(0))
}

// MinorFromMajor converts a numeric major-unit amount to minor units, truncating toward zero.
func MinorFromMajor(raw string) (int64, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidAmount, raw)
	}
	return boundedMinor(parsed.Shift(minorUnitExponent).Truncate(0))
}

// boundedMinor converts a whole decimal to int64, rejecting values IntPart would wrap.
func boundedMinor(whole decimal.Decimal) (int64, error) {
	if whole.GreaterThan(maxMinorUnits) || whole.LessThan(minMinorUnits) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, whole.String())
	}
	return whole.IntPart(), nil
}

// addMinor returns left+right, or false when the sum does not fit in int64.
func addMinor(left int64, right int64) (int64, bool) {
	sum := left + right
	if (right > 0 && sum < left) || (right < 0 && sum > left) {
		return 0, false
	}
	return sum, true
}

// Account is the canonical balance snapshot of one player.
type Account struct {
	ID           AccountID
	BalanceMinor int64
	SessionToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BalanceMajor derives the informational major-unit balance.
func (account Account) BalanceMajor() MajorAmount {
	return MajorAmount(account.BalanceMinor)
}

// Stream names one of the two append-only logs kept per account.
type Stream string

const (
	StreamHybrid   Stream = "hybrid"
	StreamCallback Stream = "callback"
)

// ParseStream validates a stream name.
func ParseStream(raw string) (Stream, error) {
	switch Stream(strings.ToLower(strings.TrimSpace(raw))) {
	case StreamHybrid:
		return StreamHybrid, nil
	case StreamCallback:
		return StreamCallback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStream, raw)
	}
}

// Action enumerates hybrid wallet operations.
type Action string

const (
	ActionDeposit    Action = "deposit"
	ActionWithdrawal Action = "withdrawal"
	ActionVoid       Action = "void"
	ActionAggAdd     Action = "agg_add"
	ActionAggDeduct  Action = "agg_deduct"
)

var actionTransactionTypes = map[Action]int{
	ActionDeposit:    1,
	ActionWithdrawal: 2,
	ActionVoid:       3,
	ActionAggAdd:     4,
	ActionAggDeduct:  5,
}

// ParseAction validates a hybrid action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actionTransactionTypes[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
	return action, nil
}

// ActionForTransactionType maps the aggregator's numeric transaction type to an action.
func ActionForTransactionType(code int) (Action, error) {
	for action, transactionType := range actionTransactionTypes {
		if transactionType == code {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: transaction type %d", ErrInvalidAction, code)
}

// TransactionType returns the numeric code of the action.
func (action Action) TransactionType() int {
	return actionTransactionTypes[action]
}

// String returns the action name.
func (action Action) String() string {
	return string(action)
}

// credits reports whether the action adds funds.
func (action Action) credits() bool {
	return action == ActionDeposit || action == ActionAggAdd
}

// signedDelta returns the balance effect of a non-void action.
func (action Action) signedDelta(amountMinor int64) int64 {
	if action.credits() {
		return amountMinor
	}
	return -amountMinor
}

// CallbackAction enumerates settlement callback kinds.
type CallbackAction string

const (
	CallbackBalance   CallbackAction = "balance"
	CallbackBet       CallbackAction = "bet"
	CallbackSettle    CallbackAction = "settle"
	CallbackRefund    CallbackAction = "refund"
	CallbackResettle  CallbackAction = "resettle"
	CallbackBetSettle CallbackAction = "betsettle"
)

// ParseCallbackAction validates a callback action name.
func ParseCallbackAction(raw string) (CallbackAction, error) {
	action := CallbackAction(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case CallbackBalance, CallbackBet, CallbackSettle, CallbackRefund, CallbackResettle, CallbackBetSettle:
		return action, nil
	default:
		return "", fmt.Errorf("%w: callback %q", ErrInvalidAction, raw)
	}
}

// String returns the action name.
func (action CallbackAction) String() string {
	return string(action)
}

// TransactionMetadata carries the provider context copied into hybrid entries.
type TransactionMetadata struct {
	ProviderCode string
	AgentCode    string
	TraceID      string
}

// WalletTransaction is a request against the hybrid stream.
type WalletTransaction struct {
	AccountID     AccountID
	Action        Action
	TransactionID TransactionID
	AmountMinor   int64
	Currency      string
	// ReferenceTransactionID names the transaction a void reverses.
	ReferenceTransactionID TransactionID
	Metadata               TransactionMetadata
}

func (transaction WalletTransaction) validate() error {
	if transaction.AccountID.IsZero() {
		return fmt.Errorf("%w: missing account", ErrInvalidAccountID)
	}
	if _, ok := actionTransactionTypes[transaction.Action]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidAction, transaction.Action)
	}
	if transaction.TransactionID.IsZero() {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidTransactionID)
	}
	if strings.TrimSpace(transaction.Currency) == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidCurrency)
	}
	if transaction.Action == ActionVoid {
		if transaction.ReferenceTransactionID.IsZero() {
			return fmt.Errorf("%w: void requires a reference transaction", ErrInvalidTransactionID)
		}
		if transaction.AmountMinor < 0 {
			return fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
		}
		return nil
	}
	if transaction.AmountMinor <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return nil
}

// SettlementEntry is one round-level adjustment inside a settlement batch.
type SettlementEntry struct {
	TransID     string
	BetTransID  string
	AdjustMinor int64
}

// SettlementBatch is a callback request applied as a single all-or-nothing unit.
type SettlementBatch struct {
	AccountID AccountID
	Action    CallbackAction
	Entries   []SettlementEntry
	// Payload is the original request retained for audit.
	Payload json.RawMessage
}

func (batch SettlementBatch) validate() error {
	if batch.AccountID.IsZero() {
		return fmt.Errorf("%w: missing account", ErrInvalidAccountID)
	}
	if _, err := ParseCallbackAction(string(batch.Action)); err != nil {
		return err
	}
	if batch.Action == CallbackBalance {
		return nil
	}
	if len(batch.Entries) == 0 {
		return fmt.Errorf("%w: no transactions", ErrInvalidBatch)
	}
	var total int64
	for index, entry := range batch.Entries {
		if strings.TrimSpace(entry.TransID) == "" {
			return fmt.Errorf("%w: transaction %d has no trans_id", ErrInvalidBatch, index)
		}
		sum, ok := addMinor(total, entry.AdjustMinor)
		if !ok {
			return fmt.Errorf("%w: adjustment total overflows at transaction %d", ErrInvalidBatch, index)
		}
		total = sum
	}
	return nil
}

// adjustment sums the batch and returns its references in submission order.
// validate has already rejected totals outside int64.
func (batch SettlementBatch) adjustment() (int64, []string) {
	var total int64
	transactionIDs := make([]string, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		total += entry.AdjustMinor
		transactionIDs = append(transactionIDs, strings.TrimSpace(entry.TransID))
	}
	return total, transactionIDs
}

const hybridStatusComplete = "complete"

// HybridEntry is one line of the hybrid transaction log.
type HybridEntry struct {
	Datetime               time.Time `json:"datetime"`
	Action                 Action    `json:"action"`
	TransactionID          string    `json:"transaction_id"`
	TransactionType        int       `json:"transaction_type"`
	Amount                 int64     `json:"amount"`
	BalanceBefore          int64     `json:"balance_before"`
	BalanceAfter           int64     `json:"balance_after"`
	Currency               string    `json:"currency"`
	ProviderCode           string    `json:"provider_code"`
	AgentCode              string    `json:"agent_code"`
	TraceID                string    `json:"trace_id,omitempty"`
	Status                 string    `json:"status"`
	ReferenceTransactionID string    `json:"reference_transaction_id,omitempty"`
	ReferenceAction        Action    `json:"reference_action,omitempty"`
}

// SignedDelta returns the balance effect recorded by the entry.
func (entry HybridEntry) SignedDelta() int64 {
	if entry.Action == ActionVoid {
		return -entry.ReferenceAction.signedDelta(entry.Amount)
	}
	return entry.Action.signedDelta(entry.Amount)
}

// CallbackEntry is one line of the callback transaction log.
type CallbackEntry struct {
	Datetime        time.Time       `json:"datetime"`
	Action          CallbackAction  `json:"action"`
	Payload         json.RawMessage `json:"payload"`
	AdjustmentMinor int64           `json:"adjustment_minor"`
	TransactionIDs  []string        `json:"transaction_ids"`
	BalanceMinor    int64           `json:"balance_minor"`
}

// WalletResult is returned by a committed hybrid transaction.
type WalletResult struct {
	BalanceMinor int64
	BalanceMajor MajorAmount
	Entry        HybridEntry
}

// SettlementResult is returned by a committed settlement batch.
type SettlementResult struct {
	BalanceMinor int64
	BalanceMajor MajorAmount
	Entry        CallbackEntry
}

// BalanceView is the read model of an account balance.
type BalanceView struct {
	AccountID    AccountID
	BalanceMinor int64
	BalanceMajor MajorAmount
	SessionToken string
}

// TransactionRecord is a hybrid entry located by reference.
type TransactionRecord struct {
	AccountID AccountID
	Entry     HybridEntry
}

// TransactionHistory holds the entries of one stream in append order.
type TransactionHistory struct {
	AccountID AccountID
	Stream    Stream
	Hybrid    []HybridEntry
	Callbacks []CallbackEntry
}
