/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to users, funding sources, generation attempts, capture attempts,
 * virtual cards and transactions.
 *
 * The balance reservation queries use conditional UPDATEs (`balance >= $2`)
 * so two concurrent settlements can never both spend the same funds; the row
 * either covers the decrement atomically or the reservation fails.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrFundingSourceNotFound = errors.New("funding source not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrCardNotFound          = errors.New("card not found")
	ErrTransactionPINNotSet  = errors.New("transaction pin not set")
	ErrGenerationNotFound    = errors.New("generation attempt not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByAuthSubject resolves a user from the auth provider's subject id.
func (r *PostgresRepository) FindUserByAuthSubject(ctx context.Context, subject string) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, auth_subject, email, phone, full_name, subscription_tier, kyc_status, cardholder_ref
		FROM users
		WHERE auth_subject = $1
	`
	err := r.db.QueryRow(ctx, query, subject).Scan(
		&user.ID, &user.AuthSubject, &user.Email, &user.Phone,
		&user.FullName, &user.Tier, &user.KYCStatus, &user.CardholderRef,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, auth_subject, email, phone, full_name, subscription_tier, kyc_status, cardholder_ref
		FROM users
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.AuthSubject, &user.Email, &user.Phone,
		&user.FullName, &user.Tier, &user.KYCStatus, &user.CardholderRef,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserSecurityCredentialByUserID returns transaction PIN metadata for a user.
func (r *PostgresRepository) GetUserSecurityCredentialByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSecurityCredential, error) {
	var credential domain.UserSecurityCredential
	query := `SELECT user_id, transaction_pin_hash FROM user_security_credentials WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&credential.UserID, &credential.TransactionPINHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionPINNotSet
		}
		return nil, err
	}
	if credential.TransactionPINHash == "" {
		return nil, ErrTransactionPINNotSet
	}
	return &credential, nil
}

// SetUserCardholderRef caches the issuing vendor's cardholder reference on the user row.
func (r *PostgresRepository) SetUserCardholderRef(ctx context.Context, userID uuid.UUID, cardholderRef string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET cardholder_ref = $2, updated_at = NOW() WHERE id = $1`,
		userID, cardholderRef)
	return err
}

// FindFundingSourceByID retrieves one funding source, scoped to its owner.
func (r *PostgresRepository) FindFundingSourceByID(ctx context.Context, sourceID uuid.UUID, userID uuid.UUID) (*domain.FundingSource, error) {
	var source domain.FundingSource
	query := `
		SELECT id, user_id, name, cardholder_name, type, last4, brand, balance,
		       payment_method_ref, default_split_percentage, is_active, name_verified,
		       created_at, updated_at
		FROM funding_sources
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`
	err := r.db.QueryRow(ctx, query, sourceID, userID).Scan(
		&source.ID, &source.UserID, &source.Name, &source.CardholderName,
		&source.Type, &source.Last4, &source.Brand, &source.Balance,
		&source.PaymentMethodRef, &source.DefaultSplitPct, &source.IsActive,
		&source.NameVerified, &source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrFundingSourceNotFound
		}
		return nil, err
	}
	return &source, nil
}

// FindFundingSourcesByUserID lists a user's funding sources, newest first.
func (r *PostgresRepository) FindFundingSourcesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.FundingSource, error) {
	query := `
		SELECT id, user_id, name, cardholder_name, type, last4, brand, balance,
		       payment_method_ref, default_split_percentage, is_active, name_verified,
		       created_at, updated_at
		FROM funding_sources
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.FundingSource
	for rows.Next() {
		var source domain.FundingSource
		if err := rows.Scan(
			&source.ID, &source.UserID, &source.Name, &source.CardholderName,
			&source.Type, &source.Last4, &source.Brand, &source.Balance,
			&source.PaymentMethodRef, &source.DefaultSplitPct, &source.IsActive,
			&source.NameVerified, &source.CreatedAt, &source.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// CountActiveFundingSources counts a user's active, non-deleted sources for
// the policy gate's quota check.
func (r *PostgresRepository) CountActiveFundingSources(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM funding_sources WHERE user_id = $1 AND is_active AND deleted_at IS NULL`,
		userID).Scan(&count)
	return count, err
}

// CreateFundingSource inserts a new funding source row.
func (r *PostgresRepository) CreateFundingSource(ctx context.Context, source *domain.FundingSource) error {
	query := `
		INSERT INTO funding_sources
			(id, user_id, name, cardholder_name, type, last4, brand, balance,
			 payment_method_ref, default_split_percentage, is_active, name_verified,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		source.ID, source.UserID, source.Name, source.CardholderName,
		source.Type, source.Last4, source.Brand, source.Balance,
		source.PaymentMethodRef, source.DefaultSplitPct, source.IsActive, source.NameVerified,
	).Scan(&source.CreatedAt, &source.UpdatedAt)
}

// DeactivateFundingSource soft-deletes a source owned by the user.
func (r *PostgresRepository) DeactivateFundingSource(ctx context.Context, sourceID uuid.UUID, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE funding_sources
		SET is_active = FALSE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, sourceID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReserveFundingSourceBalance atomically decrements a source's available
// balance. The conditional WHERE clause is what closes the check-then-act
// race between validation and capture.
func (r *PostgresRepository) ReserveFundingSourceBalance(ctx context.Context, sourceID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE funding_sources
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2 AND is_active AND deleted_at IS NULL
	`, sourceID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// ReleaseFundingSourceBalance credits a reservation back after a failed capture.
func (r *PostgresRepository) ReleaseFundingSourceBalance(ctx context.Context, sourceID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE funding_sources
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`, sourceID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFundingSourceNotFound
	}
	return nil
}

// CreateGenerationAttempt opens the audit record for a settlement request.
func (r *PostgresRepository) CreateGenerationAttempt(ctx context.Context, attempt *domain.BcardGenerationAttempt) error {
	query := `
		INSERT INTO bcard_generation_attempts
			(id, user_id, merchant_name, requested_amount, collected_amount, currency,
			 split_snapshot, status, vendor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		attempt.ID, attempt.UserID, attempt.MerchantName, attempt.RequestedAmount,
		attempt.Currency, attempt.SplitSnapshot, attempt.Status, attempt.Vendor,
	).Scan(&attempt.CreatedAt, &attempt.UpdatedAt)
}

// FinalizeGenerationAttempt writes the terminal state of a settlement run.
func (r *PostgresRepository) FinalizeGenerationAttempt(ctx context.Context, generationID uuid.UUID, params FinalizeGenerationParams) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bcard_generation_attempts
		SET status = $2, collected_amount = $3, card_id = $4, error_message = $5,
		    processing_ms = $6, updated_at = NOW()
		WHERE id = $1
	`, generationID, params.Status, params.CollectedAmount, params.CardID, params.ErrorMessage, params.ProcessingMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGenerationNotFound
	}
	return nil
}

// CreateCaptureAttempt records the start of one capture call.
func (r *PostgresRepository) CreateCaptureAttempt(ctx context.Context, attempt *domain.CaptureAttempt) error {
	query := `
		INSERT INTO capture_attempts
			(id, generation_id, funding_source_id, requested_amount, captured_amount, status, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		attempt.ID, attempt.GenerationID, attempt.FundingSourceID,
		attempt.RequestedAmount, attempt.Status,
	).Scan(&attempt.CreatedAt)
}

// FinalizeCaptureAttempt writes a capture attempt's terminal state exactly
// once; finalized attempts are never updated again.
func (r *PostgresRepository) FinalizeCaptureAttempt(ctx context.Context, attemptID uuid.UUID, params FinalizeCaptureParams) error {
	_, err := r.db.Exec(ctx, `
		UPDATE capture_attempts
		SET status = $2, captured_amount = $3, vendor_ref = $4, error_code = $5,
		    error_message = $6, duration_ms = $7
		WHERE id = $1 AND status = 'pending'
	`, attemptID, params.Status, params.CapturedAmount, params.VendorRef, params.ErrorCode, params.ErrorMessage, params.DurationMs)
	return err
}

// CreateTransaction inserts the merchant-facing settled payment record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
			(id, user_id, card_id, merchant_name, gross_amount, fee_amount,
			 split_snapshot, status, vendor_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		tx.ID, tx.UserID, tx.CardID, tx.MerchantName, tx.GrossAmount,
		tx.FeeAmount, tx.SplitSnapshot, tx.Status, tx.VendorRef,
	).Scan(&tx.CreatedAt)
}

// CreateVirtualCard inserts a newly issued card. Only masked data and the
// vendor reference are stored.
func (r *PostgresRepository) CreateVirtualCard(ctx context.Context, card *domain.VirtualCard) error {
	query := `
		INSERT INTO virtual_cards
			(id, user_id, masked_number, last4, exp_month, exp_year,
			 spending_limit, status, vendor_card_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		card.ID, card.UserID, card.MaskedNumber, card.Last4, card.ExpMonth,
		card.ExpYear, card.SpendingLimit, card.Status, card.VendorCardRef,
	).Scan(&card.CreatedAt, &card.UpdatedAt)
}

// FindVirtualCardByID retrieves one card, scoped to its owner.
func (r *PostgresRepository) FindVirtualCardByID(ctx context.Context, cardID uuid.UUID, userID uuid.UUID) (*domain.VirtualCard, error) {
	var card domain.VirtualCard
	query := `
		SELECT id, user_id, masked_number, last4, exp_month, exp_year,
		       spending_limit, status, vendor_card_ref, created_at, updated_at
		FROM virtual_cards
		WHERE id = $1 AND user_id = $2
	`
	err := r.db.QueryRow(ctx, query, cardID, userID).Scan(
		&card.ID, &card.UserID, &card.MaskedNumber, &card.Last4, &card.ExpMonth,
		&card.ExpYear, &card.SpendingLimit, &card.Status, &card.VendorCardRef,
		&card.CreatedAt, &card.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// UpdateVirtualCardStatus flips a card between active and inactive. Expired
// cards stay expired.
func (r *PostgresRepository) UpdateVirtualCardStatus(ctx context.Context, cardID uuid.UUID, userID uuid.UUID, status string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE virtual_cards
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status <> 'expired'
	`, cardID, userID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpiredVirtualCards expires active cards whose expiry month has passed.
func (r *PostgresRepository) MarkExpiredVirtualCards(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE virtual_cards
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active'
		  AND make_date(exp_year, exp_month, 1) + INTERVAL '1 month' <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
