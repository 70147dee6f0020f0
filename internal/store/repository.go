/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the settlement service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User read-model methods
	FindUserByAuthSubject(ctx context.Context, subject string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetUserSecurityCredentialByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSecurityCredential, error)
	SetUserCardholderRef(ctx context.Context, userID uuid.UUID, cardholderRef string) error

	// Funding source methods
	FindFundingSourceByID(ctx context.Context, sourceID uuid.UUID, userID uuid.UUID) (*domain.FundingSource, error)
	FindFundingSourcesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.FundingSource, error)
	CountActiveFundingSources(ctx context.Context, userID uuid.UUID) (int, error)
	CreateFundingSource(ctx context.Context, source *domain.FundingSource) error
	DeactivateFundingSource(ctx context.Context, sourceID uuid.UUID, userID uuid.UUID) (bool, error)
	// ReserveFundingSourceBalance atomically decrements a source's available
	// balance, failing with ErrInsufficientFunds when it cannot cover the
	// amount. ReleaseFundingSourceBalance credits a reservation back.
	ReserveFundingSourceBalance(ctx context.Context, sourceID uuid.UUID, amount int64) error
	ReleaseFundingSourceBalance(ctx context.Context, sourceID uuid.UUID, amount int64) error

	// Ledger recorder methods
	CreateGenerationAttempt(ctx context.Context, attempt *domain.BcardGenerationAttempt) error
	FinalizeGenerationAttempt(ctx context.Context, generationID uuid.UUID, params FinalizeGenerationParams) error
	CreateCaptureAttempt(ctx context.Context, attempt *domain.CaptureAttempt) error
	FinalizeCaptureAttempt(ctx context.Context, attemptID uuid.UUID, params FinalizeCaptureParams) error
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error

	// Virtual card methods
	CreateVirtualCard(ctx context.Context, card *domain.VirtualCard) error
	FindVirtualCardByID(ctx context.Context, cardID uuid.UUID, userID uuid.UUID) (*domain.VirtualCard, error)
	UpdateVirtualCardStatus(ctx context.Context, cardID uuid.UUID, userID uuid.UUID, status string) (bool, error)
	MarkExpiredVirtualCards(ctx context.Context) (int64, error)
}

// FinalizeGenerationParams carries the terminal state written to a bcard
// generation attempt once the settlement pipeline finishes.
type FinalizeGenerationParams struct {
	Status          string
	CollectedAmount int64
	CardID          *uuid.UUID
	ErrorMessage    *string
	ProcessingMs    int64
}

// FinalizeCaptureParams carries the terminal state of one capture attempt.
// A finalized attempt is immutable; retries create new attempts.
type FinalizeCaptureParams struct {
	Status         string
	CapturedAmount int64
	VendorRef      *string
	ErrorCode      *string
	ErrorMessage   *string
	DurationMs     int64
}
