// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Transaction model: unique-constrained inserts, point lookups by each of
// the three dedup keys, windowed time-range scans for the fraud scanner,
// and the targeted counts its rules need.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - A unique-constraint violation on insert surfaces as ErrDuplicate; the
//     caller treats it as the authoritative duplicate signal and re-resolves
//     the existing row.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates an insert hit one of the dedup unique indexes
// (client_tx_id, transaction_code, or client_id+raw_message).
var ErrDuplicate = errors.New("duplicate transaction")

// HashRawMessage returns the hex SHA-256 of a raw message, the bounded key
// used by the (client_id, raw_message) unique index.
func HashRawMessage(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateTransaction inserts a transaction row. The ID is assigned here when
// blank. A violation of any dedup unique index returns ErrDuplicate.
func CreateTransaction(ctx context.Context, db *gorm.DB, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.RawHash == "" {
		t.RawHash = HashRawMessage(t.RawMessage)
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindDuplicate checks the three dedup keys in fixed priority order and
// returns the first existing transaction hit, or ErrNotFound when the record
// is new. code may be nil when the incoming record carries no provider code.
func FindDuplicate(ctx context.Context, db *gorm.DB, clientID, clientTxID, rawHash string, code *string) (*domain.Transaction, error) {
	var t domain.Transaction

	// 1) Device idempotency key.
	err := db.WithContext(ctx).Where("client_tx_id = ?", clientTxID).First(&t).Error
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2) Same verbatim message from the same device.
	err = db.WithContext(ctx).Where("client_id = ? AND raw_hash = ?", clientID, rawHash).First(&t).Error
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 3) Provider reference, only when the incoming record carries one.
	if code != nil && *code != "" {
		err = db.WithContext(ctx).Where("transaction_code = ?", *code).First(&t).Error
		if err == nil {
			return &t, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

// GetTransaction fetches a transaction by ID, or ErrNotFound.
func GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CountTransactions returns the number of transactions, optionally filtered
// by status.
func CountTransactions(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Transaction{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListTransactionsPage returns a page of transactions ordered by event time
// descending, optionally filtered by status.
func ListTransactionsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Transaction, error) {
	q := db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Transaction
	err := q.Order("transaction_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// ListTransactionsSince returns transactions with event time >= since,
// oldest first, capped at limit rows. The fraud scanner walks this window.
func ListTransactionsSince(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := db.WithContext(ctx).
		Where("transaction_at >= ?", since).
		Order("transaction_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountClientTransactionsBetween counts one client's transactions with event
// time in (from, to]. Used by the rapid-transactions rule, which must see
// rows even when they fall before the scan window.
func CountClientTransactionsBetween(ctx context.Context, db *gorm.DB, clientID string, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("client_id = ? AND transaction_at > ? AND transaction_at <= ?", clientID, from, to).
		Count(&total).Error
	return total, err
}

// HasDepositBetween reports whether the client has a Deposit with event time
// in [from, to). Used by the quick-deposit-withdrawal rule.
func HasDepositBetween(ctx context.Context, db *gorm.DB, clientID string, from, to time.Time) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("client_id = ? AND transaction_type = ? AND transaction_at >= ? AND transaction_at < ?",
			clientID, domain.TypeDeposit, from, to).
		Count(&total).Error
	return total > 0, err
}

// UpdateTransactionStatus sets the status of one transaction. Returns
// ErrNotFound when no row matched.
func UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AppendTransactionFlag adds flag to a transaction's AI flags if not already
// present. Returns the updated flag list.
func AppendTransactionFlag(ctx context.Context, db *gorm.DB, id, flag string) ([]string, error) {
	var t domain.Transaction
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	flags := domain.DecodeList(t.AIFlags)
	for _, f := range flags {
		if f == flag {
			return flags, nil
		}
	}
	flags = append(flags, flag)
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ?", id).
		Update("ai_flags", domain.EncodeList(flags)).Error
	return flags, err
}

// UpdateTransactionFields applies a whitelisted set of column updates during
// review resolution. Unknown keys are dropped rather than rejected so older
// dashboard builds cannot break resolution.
func UpdateTransactionFields(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	allowed := map[string]struct{}{
		"amount": {}, "balance": {}, "sender": {}, "recipient": {},
		"transaction_type": {}, "transaction_code": {},
	}
	filtered := make(map[string]any, len(updates))
	for k, v := range updates {
		if _, ok := allowed[k]; ok {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ?", id).
		Updates(filtered).Error
}

// isUniqueViolation detects unique-constraint violations across the error
// shapes glebarez/sqlite produces.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
