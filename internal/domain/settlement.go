/**
 * @description
 * This file defines the core domain models for the bpay settlement service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 * - Split percentages are the one place floats appear; they are resolved into
 *   integer cent amounts exactly once before any money moves.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Split strategies supported by a SplitConfiguration.
const (
	StrategyPercentage  = "percentage"
	StrategyFixedAmount = "fixed_amount"
	StrategySmart       = "smart"
)

// Settlement error kinds surfaced in a SettlementResult.
const (
	ErrKindInvalidAmount      = "invalid_amount"
	ErrKindValidationFailed   = "validation_failed"
	ErrKindPolicyDenied       = "policy_denied"
	ErrKindCaptureFailed      = "capture_failed"
	ErrKindCardIssuanceFailed = "card_issuance_failed"
	ErrKindInternal           = "internal_error"
)

// FundingSource represents a payment method a user has attached to fund bcards.
// This struct maps directly to the `funding_sources` table in the database.
type FundingSource struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Name             string    `json:"name"`
	CardholderName   string    `json:"cardholder_name"`
	Type             string    `json:"type"` // 'credit_card', 'debit_card', 'bank_account'
	Last4            string    `json:"last4"`
	Brand            string    `json:"brand"`
	Balance          int64     `json:"balance"` // available balance in cents
	PaymentMethodRef string    `json:"-"`       // capture-vendor payment method reference
	DefaultSplitPct  float64   `json:"default_split_percentage"`
	IsActive         bool      `json:"is_active"`
	NameVerified     bool      `json:"name_verified"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SplitAllocation assigns a share of the settlement total to one funding source.
// Percentage is used by the percentage strategy and as an optional override for
// the smart strategy; Amount is used by the fixed_amount strategy (in cents).
type SplitAllocation struct {
	FundingSourceID uuid.UUID `json:"funding_source_id"`
	Percentage      float64   `json:"percentage,omitempty"`
	Amount          int64     `json:"amount,omitempty"`
}

// SplitConfiguration is the request-scoped description of how a settlement
// total is divided across funding sources. It is never persisted on its own;
// a JSON snapshot is stored on the generation attempt and transaction records.
type SplitConfiguration struct {
	TotalAmount int64             `json:"total_amount"` // in cents
	Strategy    string            `json:"strategy"`
	Allocations []SplitAllocation `json:"allocations"`
}

// SourceRequirement is the resolved funding obligation for one source within a
// split, fees included.
type SourceRequirement struct {
	FundingSourceID  uuid.UUID `json:"funding_source_id"`
	SourceLabel      string    `json:"source_label"`
	Percentage       float64   `json:"percentage"`
	BaseAmount       int64     `json:"base_amount"`
	FeeAmount        int64     `json:"fee_amount"`
	RequiredAmount   int64     `json:"required_amount"` // base + fee
	AvailableBalance int64     `json:"available_balance"`
	Shortfall        int64     `json:"shortfall,omitempty"`
}

// ValidationResult is returned by the split validator. Errors are
// human-readable per-source messages; Breakdown always carries the full
// resolved requirement list so callers can show exactly which source is short.
type ValidationResult struct {
	Valid     bool                `json:"valid"`
	Errors    []string            `json:"errors"`
	Breakdown []SourceRequirement `json:"breakdown"`
}

// FeeBreakdown is the platform fee computation for a settlement amount.
type FeeBreakdown struct {
	Base       int64   `json:"base"`        // in cents
	FeePercent float64 `json:"fee_percent"` // e.g. 2.9
	FeeAmount  int64   `json:"fee_amount"`  // in cents
	Total      int64   `json:"total"`       // base + fee, in cents
}

// CaptureAttempt records one capture call against one funding source. A row is
// created when the call starts and finalized when the vendor responds; retries
// create new rows, finalized rows are never mutated.
type CaptureAttempt struct {
	ID              uuid.UUID `json:"id"`
	GenerationID    uuid.UUID `json:"generation_id"`
	FundingSourceID uuid.UUID `json:"funding_source_id"`
	RequestedAmount int64     `json:"requested_amount"`
	CapturedAmount  int64     `json:"captured_amount"`
	Status          string    `json:"status"` // 'pending', 'succeeded', 'failed'
	VendorRef       *string   `json:"vendor_ref,omitempty"`
	ErrorCode       *string   `json:"error_code,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// BcardGenerationAttempt is the audit record for one settlement request. It
// owns the capture attempts made on its behalf.
type BcardGenerationAttempt struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	MerchantName    string     `json:"merchant_name"`
	RequestedAmount int64      `json:"requested_amount"`
	CollectedAmount int64      `json:"collected_amount"`
	Currency        string     `json:"currency"`
	SplitSnapshot   []byte     `json:"-"`      // JSON snapshot of the split configuration
	Status          string     `json:"status"` // 'pending', 'completed', 'failed', 'partial'
	CardID          *uuid.UUID `json:"card_id,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	Vendor          string     `json:"vendor"`
	ProcessingMs    int64      `json:"processing_ms"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// VirtualCard is an issued bcard. The CVV is never stored; only the vendor
// reference needed to manage the card's lifecycle is kept.
type VirtualCard struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	MaskedNumber  string    `json:"masked_number"`
	Last4         string    `json:"last4"`
	ExpMonth      int       `json:"exp_month"`
	ExpYear       int       `json:"exp_year"`
	SpendingLimit int64     `json:"spending_limit"` // in cents
	Status        string    `json:"status"`         // 'active', 'inactive', 'expired'
	VendorCardRef string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transaction is the merchant-facing settled payment record.
type Transaction struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	CardID        *uuid.UUID `json:"card_id,omitempty"`
	MerchantName  string     `json:"merchant_name"`
	GrossAmount   int64      `json:"gross_amount"` // in cents
	FeeAmount     int64      `json:"fee_amount"`   // in cents
	SplitSnapshot []byte     `json:"-"`
	Status        string     `json:"status"`
	VendorRef     *string    `json:"vendor_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// User is the read-model view of an account holder consumed by the settlement
// core: subscription tier, KYC state and legal name for policy checks, plus
// the issuing-vendor cardholder reference once one has been created.
type User struct {
	ID            uuid.UUID `json:"id"`
	AuthSubject   string    `json:"-"`
	Email         string    `json:"email"`
	Phone         *string   `json:"phone,omitempty"`
	FullName      string    `json:"full_name"`
	Tier          string    `json:"tier"`       // 'free', 'pro', 'premium'
	KYCStatus     string    `json:"kyc_status"` // 'unverified', 'pending', 'verified'
	CardholderRef *string   `json:"-"`
}

// KYCVerified reports whether the user's most recent KYC check passed.
func (u *User) KYCVerified() bool {
	return u.KYCStatus == "verified"
}

// UserSecurityCredential stores server-owned transaction PIN metadata.
type UserSecurityCredential struct {
	UserID             uuid.UUID `json:"user_id"`
	TransactionPINHash string    `json:"-"`
}

// PolicyResult is the outcome of the funding-source attachment gate.
type PolicyResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// SettleRequest is the DTO for incoming settlement API requests.
type SettleRequest struct {
	MerchantName   string             `json:"merchant_name"`
	Amount         int64              `json:"amount"` // in cents
	Split          SplitConfiguration `json:"split"`
	TransactionPIN string             `json:"transaction_pin,omitempty"`
}

// AttachFundingSourceRequest is the DTO for attaching a new funding source.
type AttachFundingSourceRequest struct {
	Name             string  `json:"name"`
	CardholderName   string  `json:"cardholder_name"`
	Type             string  `json:"type"`
	Last4            string  `json:"last4"`
	Brand            string  `json:"brand"`
	Balance          int64   `json:"balance"`
	PaymentMethodRef string  `json:"payment_method_ref"`
	DefaultSplitPct  float64 `json:"default_split_percentage"`
}

// CaptureOutcome is the per-source line of a settlement breakdown, in the
// exact order captures were attempted.
type CaptureOutcome struct {
	FundingSourceID uuid.UUID `json:"funding_source_id"`
	SourceLabel     string    `json:"source_label"`
	RequestedAmount int64     `json:"requested_amount"`
	CapturedAmount  int64     `json:"captured_amount"`
	Status          string    `json:"status"`
	VendorRef       string    `json:"vendor_ref,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// IssuedCardDetails carries the sensitive card fields returned to the caller
// exactly once, straight from the issuing vendor. They are never persisted.
type IssuedCardDetails struct {
	CardID        uuid.UUID `json:"card_id"`
	Number        string    `json:"number"`
	CVV           string    `json:"cvv"`
	MaskedNumber  string    `json:"masked_number"`
	ExpMonth      int       `json:"exp_month"`
	ExpYear       int       `json:"exp_year"`
	SpendingLimit int64     `json:"spending_limit"`
	VendorCardRef string    `json:"-"`
}

// SettlementResult is the discriminated union returned by the orchestrator:
// Status is either "succeeded" (Card, Breakdown and Fees populated) or
// "failed" (ErrorKind, Message and the remediation flags populated).
type SettlementResult struct {
	Status                  string              `json:"status"`
	GenerationID            uuid.UUID           `json:"generation_id"`
	Card                    *IssuedCardDetails  `json:"card,omitempty"`
	Breakdown               []CaptureOutcome    `json:"breakdown,omitempty"`
	Fees                    *FeeBreakdown       `json:"fees,omitempty"`
	ErrorKind               string              `json:"error_kind,omitempty"`
	Message                 string              `json:"message,omitempty"`
	ValidationErrors        []string            `json:"validation_errors,omitempty"`
	ValidationBreakdown     []SourceRequirement `json:"validation_breakdown,omitempty"`
	RequiresManualRefund    bool                `json:"requires_manual_refund"`
	RequiresManualCardRetry bool                `json:"requires_manual_card_retry"`
}

// SettlementCompletedPayload is published to RabbitMQ after a settlement
// reaches the completed state.
type SettlementCompletedPayload struct {
	GenerationID uuid.UUID `json:"generation_id"`
	UserID       uuid.UUID `json:"user_id"`
	CardID       uuid.UUID `json:"card_id"`
	MerchantName string    `json:"merchant_name"`
	Amount       int64     `json:"amount"`
	Fee          int64     `json:"fee"`
	SourceCount  int       `json:"source_count"`
}

// SettlementFailedPayload is published when a settlement reaches a terminal
// failure with nothing captured, so no reconciliation is needed.
type SettlementFailedPayload struct {
	GenerationID uuid.UUID `json:"generation_id"`
	UserID       uuid.UUID `json:"user_id"`
	MerchantName string    `json:"merchant_name"`
	ErrorKind    string    `json:"error_kind"`
	Reason       string    `json:"reason"`
}

// ManualRefundRequiredPayload is published when captured funds need operator
// reconciliation because the settlement could not complete.
type ManualRefundRequiredPayload struct {
	GenerationID uuid.UUID        `json:"generation_id"`
	UserID       uuid.UUID        `json:"user_id"`
	Reason       string           `json:"reason"`
	Captured     []CaptureOutcome `json:"captured"`
}
