// Package domain defines the persistence models for mobile-money
// transactions, review-queue items, registered mobile clients, and the
// classification audit log. These types are mapped with GORM and form the
// core data layer of the ingestion backend.
package domain

import (
	"time"
)

// Transaction statuses. A transaction moves from "uploaded" or
// "pending_review" at ingest time to "cleaned" or "rejected" through review
// resolution. "duplicate" rows are never created; the status exists so the
// enum matches what mobile clients report for their local queue.
const (
	StatusPendingUpload = "pending_upload"
	StatusUploaded      = "uploaded"
	StatusPendingReview = "pending_review"
	StatusCleaned       = "cleaned"
	StatusDuplicate     = "duplicate"
	StatusRejected      = "rejected"
)

// Transaction types recognized by the classifier and the mobile parsers.
const (
	TypePaybill     = "Paybill"
	TypeTill        = "Till"
	TypeSendMoney   = "SendMoney"
	TypeWithdrawal  = "Withdrawal"
	TypeDeposit     = "Deposit"
	TypeAirtime     = "Airtime"
	TypeBankToMpesa = "BankToMpesa"
	TypeMpesaToBank = "MpesaToBank"
	TypeReversal    = "Reversal"
	TypeUnknown     = "Unknown"
)

// Review queue priorities.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Review queue reasons produced by the core pipeline.
const (
	ReasonLowConfidence  = "low_confidence"
	ReasonFraudSuspicion = "fraud_suspicion"
)

// Transaction is the canonical record of one parsed money-movement event
// pushed by a mobile device.
//
// Dedup keys (each enforced by a unique index so concurrent submissions
// cannot both insert):
//   - ClientTxID: device-assigned idempotency key, unique system-wide.
//   - TransactionCode: provider reference, unique once present (nullable).
//   - (ClientID, RawHash): the same verbatim message from the same device,
//     keyed by a SHA-256 of the raw text to keep the index bounded.
type Transaction struct {
	ID         string `json:"id"           gorm:"type:char(36);primaryKey"`
	ClientID   string `json:"client_id"    gorm:"type:char(36);not null;index:idx_client_txns;uniqueIndex:ux_client_raw,priority:1"`
	ClientTxID string `json:"client_tx_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_client_tx_id"`

	TransactionCode *string  `json:"transaction_code,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_txn_code"`
	Amount          *float64 `json:"amount,omitempty"`
	Balance         *float64 `json:"balance,omitempty"`
	Sender          string   `json:"sender,omitempty"    gorm:"type:varchar(255)"`
	Recipient       string   `json:"recipient,omitempty" gorm:"type:varchar(255)"`
	TransactionType string   `json:"transaction_type"    gorm:"type:varchar(32);not null;default:'Unknown'"`
	RawMessage      string   `json:"raw_message"         gorm:"type:text;not null"`
	RawHash         string   `json:"-"                   gorm:"type:char(64);not null;uniqueIndex:ux_client_raw,priority:2"`

	Status      string  `json:"status"                 gorm:"type:varchar(20);not null;default:'uploaded';index"`
	DuplicateOf *string `json:"duplicate_of,omitempty" gorm:"type:char(36)"`

	// AI metadata written by the classification pass at insert time.
	// Tags and Flags are JSON-encoded string arrays.
	AIModel       string  `json:"ai_model,omitempty"       gorm:"type:varchar(64)"`
	AIPromptID    string  `json:"ai_prompt_id,omitempty"   gorm:"type:varchar(64)"`
	AIConfidence  float64 `json:"ai_confidence"            gorm:"not null;default:0"`
	AITags        string  `json:"ai_tags,omitempty"        gorm:"type:text"`
	AIFlags       string  `json:"ai_flags,omitempty"       gorm:"type:text"`
	AIExplanation string  `json:"ai_explanation,omitempty" gorm:"type:text"`

	TransactionAt time.Time `json:"transaction_at" gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "transactions" }

// ReviewQueueItem is an open question requiring human judgment about one
// transaction. At most one open item should exist per (mpesa_id, reason);
// the repo enforces this inside the insert transaction since SQLite lacks
// partial unique indexes through GORM migrations.
type ReviewQueueItem struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	MpesaID    string     `json:"mpesa_id"    gorm:"type:char(36);not null;index:idx_review_mpesa"`
	Reason     string     `json:"reason"      gorm:"type:varchar(64);not null;index:idx_review_reason"`
	Priority   string     `json:"priority"    gorm:"type:varchar(16);not null;default:'normal'"`
	Notes      string     `json:"notes,omitempty"      gorm:"type:text"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" gorm:"index"`
	Resolution string     `json:"resolution,omitempty" gorm:"type:varchar(32)"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Transaction Transaction `json:"-" gorm:"foreignKey:MpesaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ReviewQueueItem.
func (ReviewQueueItem) TableName() string { return "review_queue" }

// Open reports whether the item still awaits a human decision.
func (r *ReviewQueueItem) Open() bool { return r.ResolvedAt == nil }

// MobileClient is a registered ingestion source. Clients are created by a
// registration flow outside this core; the ingest path only reads IsActive
// and bumps LastSyncAt after a successful request.
type MobileClient struct {
	ID         string     `json:"id"        gorm:"type:char(36);primaryKey"`
	DeviceID   string     `json:"device_id" gorm:"type:varchar(128);not null;uniqueIndex"`
	Token      string     `json:"-"         gorm:"type:varchar(128);not null;uniqueIndex"`
	IsActive   bool       `json:"is_active" gorm:"not null;default:true"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for MobileClient.
func (MobileClient) TableName() string { return "mobile_clients" }

// ClassificationLog records one classification attempt (success or failure)
// for offline quality monitoring of the external model.
type ClassificationLog struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ClientTxID string    `json:"client_tx_id" gorm:"type:varchar(128);index"`
	Model      string    `json:"model"       gorm:"type:varchar(64)"`
	PromptID   string    `json:"prompt_id"   gorm:"type:varchar(64)"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for ClassificationLog.
func (ClassificationLog) TableName() string { return "classification_logs" }
