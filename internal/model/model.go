// Package model holds the canonical data types shared by every component of
// the ingestion engine: raw provider records, cursors, import sessions,
// accounts, and the universal transaction shape that the processor emits.
package model

import (
	"time"

	"github.com/jbelanger/exitbook/internal/money"
)

// SourceType classifies where a raw record originated.
type SourceType string

const (
	SourceBlockchain  SourceType = "blockchain"
	SourceExchangeAPI SourceType = "exchangeApi"
	SourceExchangeCSV SourceType = "exchangeCsv"
)

// ProcessStatus tracks whether a raw record has been folded into a
// UniversalTransaction yet.
type ProcessStatus string

const (
	ProcessPending   ProcessStatus = "pending"
	ProcessProcessed ProcessStatus = "processed"
	ProcessFailed    ProcessStatus = "failed"
)

// RawRecord is the append-once row a provider client produces. Once written,
// ProviderData and NormalizedData are immutable — the processor never
// mutates them. ProcessStatus changes only through RawDataStore's
// MarkProcessedBatch, MarkFailed and ResetProcessedForAccount.
type RawRecord struct {
	ID              int64
	AccountID       string
	ProviderName    string
	SourceType      SourceType
	EventID         string // stable provider-supplied key; unique with (AccountID, ProviderName)
	ExternalID      string // provider record id
	ProviderData    []byte // opaque payload, raw HTTP body or CSV row
	NormalizedData  []byte // validated projection, nil if the provider has none
	StreamType      string // "normal" | "token" | "internal" | "ledger" | ...
	CreatedAt       time.Time
	Processed       ProcessStatus
}

// CursorType enumerates the paging primitives a provider can speak.
type CursorType string

const (
	CursorPageToken  CursorType = "pageToken"
	CursorBlockNum   CursorType = "blockNumber"
	CursorTimestamp  CursorType = "timestamp"
	CursorTxHash     CursorType = "txHash"
)

// CursorPosition is one paging coordinate: a type and an opaque value.
// A pageToken position is provider-scoped and carries ProviderName; the
// others are transferable across providers of the same chain.
type CursorPosition struct {
	Type         CursorType `json:"type"`
	Value        string     `json:"value"`
	ProviderName string     `json:"providerName,omitempty"`
}

// CursorMeta carries bookkeeping about the producing provider.
type CursorMeta struct {
	ProviderName string    `json:"providerName"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsComplete   bool      `json:"isComplete,omitempty"`
}

// Cursor is the opaque, resumable paging state threaded through the
// failover engine and persisted per (accountId, streamType) on the session.
type Cursor struct {
	Primary       CursorPosition   `json:"primary"`
	Alternatives  []CursorPosition `json:"alternatives,omitempty"`
	LastRecordID  string           `json:"lastRecordId,omitempty"`
	TotalFetched  int64            `json:"totalFetched"`
	Meta          CursorMeta       `json:"meta"`
}

// SessionStatus is the lifecycle state of an ImportSession.
type SessionStatus string

const (
	SessionStarted   SessionStatus = "started"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ImportSession tracks one run of ingestion for an account. Only one session
// per account may be `started` at a time; the `started -> completed`
// transition is only legal once every stream's cursor reports IsComplete.
type ImportSession struct {
	ID              string
	AccountID       string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          SessionStatus
	CursorsByStream map[string]Cursor
	Imported        int
	Skipped         int
	ResultMetadata  map[string]any
}

// AllStreamsComplete reports whether every stream cursor recorded on the
// session has reached isComplete=true.
func (s *ImportSession) AllStreamsComplete() bool {
	if len(s.CursorsByStream) == 0 {
		return false
	}
	for _, c := range s.CursorsByStream {
		if !c.Meta.IsComplete {
			return false
		}
	}
	return true
}

// Account is one import target: a chain address, an xpub parent, or an
// exchange identity.
type Account struct {
	ID              string
	UserID          string
	SourceName      string
	SourceType      SourceType
	Identifier      string // address, xpub, or exchange account id
	ProviderName    string
	ParentAccountID *string
}

// AssetMovement is a single leg (inflow or outflow) of a transaction's fund
// flow, carrying both what the venue debited/credited (gross) and what
// actually settled on-chain (net).
type AssetMovement struct {
	Asset          money.Currency
	GrossAmount    money.Decimal
	NetAmount      money.Decimal
	PriceAtTxTime  *money.Money
}

// FeeScope says *why* a fee was charged.
type FeeScope string

const (
	FeeScopeNetwork  FeeScope = "network"
	FeeScopePlatform FeeScope = "platform"
	FeeScopeSpread   FeeScope = "spread"
	FeeScopeTax      FeeScope = "tax"
	FeeScopeOther    FeeScope = "other"
)

// FeeSettlement says *how* a fee was funded.
type FeeSettlement string

const (
	SettlementOnChain  FeeSettlement = "onChain"
	SettlementBalance  FeeSettlement = "balance"
	SettlementExternal FeeSettlement = "external"
)

// Fee is one fee line attached to a transaction.
type Fee struct {
	Asset         money.Currency
	Amount        money.Decimal
	Scope         FeeScope
	Settlement    FeeSettlement
	PriceAtTxTime *money.Money
}

// TxStatus is the on-chain/venue outcome of a transaction.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxPending TxStatus = "pending"
)

// Operation classifies the economic shape of a transaction.
type OperationCategory string

const (
	OpTransfer OperationCategory = "transfer"
	OpTrade    OperationCategory = "trade"
	OpReward   OperationCategory = "reward"
)

// Operation names both the broad category and the specific type within it
// (e.g. category=transfer, type=withdrawal).
type Operation struct {
	Category OperationCategory
	Type     string
}

// Movements groups the inflow/outflow legs of a transaction.
type Movements struct {
	Inflows  []AssetMovement
	Outflows []AssetMovement
}

// BlockchainInfo carries on-chain provenance for transactions that have it.
type BlockchainInfo struct {
	Name      string
	Height    uint64
	Hash      string
	Confirmed bool
}

// UniversalTransaction is the canonical, source-agnostic economic event the
// processor emits. Upsert key is (Source, ExternalID).
type UniversalTransaction struct {
	ID         string
	AccountID  string
	ExternalID string
	Source     string
	SourceType SourceType
	Datetime   time.Time
	Timestamp  int64
	Status     TxStatus
	Operation  Operation
	Movements  Movements
	Fees       []Fee
	Blockchain *BlockchainInfo
	Note       string
	Metadata   map[string]any
}

// CircuitState mirrors the three circuit-breaker states spec.md requires.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "halfOpen"
)

// ProviderHealth is the persisted health record for one provider.
type ProviderHealth struct {
	ProviderKey         string
	IsHealthy           bool
	ConsecutiveFailures int
	TotalSuccesses      int64
	TotalFailures       int64
	AvgResponseMs       float64
	LastError           string
	LastCheckedAt       time.Time
	CircuitState        CircuitState
	CircuitOpenUntil    *time.Time
}
