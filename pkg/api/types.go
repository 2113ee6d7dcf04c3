package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// BalanceInfo is one account's holding of one asset
type BalanceInfo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"` // Smallest units of the asset
}

// AccountInfo lists every non-zero balance of an account
type AccountInfo struct {
	Address  string        `json:"address"`
	Nonce    uint64        `json:"nonce"`
	Balances []BalanceInfo `json:"balances"`
}

// TermsInfo is the decoded locking data of a limit-order deposit
type TermsInfo struct {
	Asset0            string `json:"asset0"`
	Asset1            string `json:"asset1"`
	Decimals0         uint8  `json:"decimals0"`
	Decimals1         uint8  `json:"decimals1"`
	Maker             string `json:"maker"`
	Price             uint64 `json:"price"`
	PriceDecimals     uint8  `json:"priceDecimals"`
	MinFulfillAmount0 uint64 `json:"minFulfillAmount0"`
}

// DepositInfo represents a predicate-locked deposit
type DepositInfo struct {
	Ref        string     `json:"ref"`
	Predicate  string     `json:"predicate"`
	Asset      string     `json:"asset"`
	Amount     uint64     `json:"amount"`
	Origin     string     `json:"origin"` // Account that funded the deposit
	Status     string     `json:"status"` // "open" or "consumed"
	CreatedTx  string     `json:"createdTx"`
	ConsumedTx string     `json:"consumedTx,omitempty"`
	CreatedAt  int64      `json:"createdAt"` // Unix milliseconds
	Terms      *TermsInfo `json:"terms,omitempty"`
	// RequiredAmount1 is what a taker owes the maker to fill the whole deposit
	RequiredAmount1 *uint64 `json:"requiredAmount1,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`    // "deposit_created", "deposit_consumed", "transfer"
	Channel string      `json:"channel"` // e.g. "deposits:0x...", "account:0x..."
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["deposits:0x...", "account:0x..."]
}

// LedgerEvent is the payload of every WSMessage
type LedgerEvent struct {
	TxHash   string       `json:"txHash"`
	Deposit  *DepositInfo `json:"deposit,omitempty"`
	Accounts []string     `json:"accounts"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
