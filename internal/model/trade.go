package model

// TradeAction is the side of a trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// ErrorCategory is the user-facing class of a failed trade.
type ErrorCategory string

const (
	CategoryCancelled         ErrorCategory = "cancelled"
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	CategoryNonceConflict     ErrorCategory = "nonce_conflict"
	CategoryGasEstimation     ErrorCategory = "gas_estimation"
	CategoryNetwork           ErrorCategory = "network"
	CategoryGeneric           ErrorCategory = "generic"
)

// TransactionResult is the outcome of one trade attempt: either a successful
// Action, or a classified error.
type TransactionResult struct {
	Action   TradeAction   `json:"action"`
	Success  bool          `json:"success"`
	TxHash   string        `json:"tx_hash,omitempty"`
	Category ErrorCategory `json:"category,omitempty"`
	Message  string        `json:"message,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// TradeRecord is the journal entry written for every finished attempt.
type TradeRecord struct {
	CoinID          string        `json:"coin_id"`
	ContractAddress string        `json:"contract_address"`
	Account         string        `json:"account"`
	ChainID         uint64        `json:"chain_id"`
	Action          TradeAction   `json:"action"`
	Amount          string        `json:"amount"`
	AmountBaseUnits string        `json:"amount_base_units"`
	TxHash          string        `json:"tx_hash,omitempty"`
	Success         bool          `json:"success"`
	Category        ErrorCategory `json:"category,omitempty"`
	Error           string        `json:"error,omitempty"`
	SubmittedAt     string        `json:"submitted_at"`
	FinishedAt      string        `json:"finished_at"`
}
