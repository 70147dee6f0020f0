/**
 * @description
 * This file contains the core business logic for the settlement service. The
 * `Service` struct drives the end-to-end split-payment pipeline: validate the
 * split, capture funds from each source in order, and issue a virtual card
 * loaded with exactly what was collected. It coordinates between the database
 * repository, the capture and issuing vendor clients, and the message broker.
 *
 * Key behaviors:
 * - Captures run sequentially in allocation order and stop at the first
 *   failure, so a payment that cannot complete never drains further sources.
 * - Each source's balance is reserved with an atomic conditional decrement
 *   before its capture, and released if that capture fails.
 * - Already-captured funds are never auto-refunded; terminal failures carry
 *   requires_manual_refund / requires_manual_card_retry flags and publish a
 *   reconciliation event for the ops process.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - golang.org/x/crypto/bcrypt: Transaction PIN verification.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/captureclient, pkg/issuingclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
	"github.com/B-Ventures/bpay-v2-sub000/internal/store"
	"github.com/B-Ventures/bpay-v2-sub000/pkg/captureclient"
	"github.com/B-Ventures/bpay-v2-sub000/pkg/issuingclient"
	"github.com/B-Ventures/bpay-v2-sub000/pkg/rabbitmq"
)

// EventsExchange is the topic exchange settlement events are published to.
const EventsExchange = "bpay.events"

// defaultCaptureTimeout bounds each individual vendor call. A timed-out
// capture is treated exactly like a vendor-reported failure.
const defaultCaptureTimeout = 30 * time.Second

var (
	// ErrInvalidTransactionPIN is returned when a supplied PIN does not match.
	ErrInvalidTransactionPIN = errors.New("invalid transaction pin")
	// ErrTransactionPINRequired is returned when the user has a PIN on file
	// but the request did not include one.
	ErrTransactionPINRequired = errors.New("transaction pin required")
)

// PolicyDeniedError is returned when the funding policy gate blocks an
// attachment. Reason is the user-facing explanation.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string { return e.Reason }

// RateLimitError is returned when a caller exceeds the settle rate limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds)
}

// CaptureGateway is the capability interface for the payment-capture vendor.
// Keeping it narrow lets a second vendor be added for failover without
// touching the orchestrator.
type CaptureGateway interface {
	Capture(ctx context.Context, params captureclient.CaptureParams) (*captureclient.CaptureResult, error)
}

// CardIssuer is the capability interface for the card-provisioning vendor.
type CardIssuer interface {
	CreateCardholder(ctx context.Context, params issuingclient.CardholderParams) (string, error)
	IssueCard(ctx context.Context, cardholderRef string, spendingLimit int64, currency string) (*issuingclient.IssuedCard, error)
	RetrieveSensitiveFields(ctx context.Context, cardRef string) (*issuingclient.SensitiveFields, error)
}

// SettlementRateLimiter is implemented by distributed rate limiters keyed per
// caller. The Redis implementation lives in redis_rate_limiter.go.
type SettlementRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for split-payment settlements.
type Service struct {
	repo          store.Repository
	capture       CaptureGateway
	issuer        CardIssuer
	eventProducer rabbitmq.Publisher

	vendorName     string
	currency       string
	captureTimeout time.Duration

	// demoMode skips balance reservations; simulated captures never move
	// real money, so balances are left untouched.
	demoMode bool

	rateLimiter          SettlementRateLimiter
	settleLimitPerMinute int
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, capture CaptureGateway, issuer CardIssuer, producer rabbitmq.Publisher, vendorName, currency string, demoMode bool) *Service {
	return &Service{
		repo:           repo,
		capture:        capture,
		issuer:         issuer,
		eventProducer:  producer,
		vendorName:     vendorName,
		currency:       currency,
		captureTimeout: defaultCaptureTimeout,
		demoMode:       demoMode,
	}
}

// SetCaptureTimeout overrides the per-capture vendor call timeout.
func (s *Service) SetCaptureTimeout(d time.Duration) {
	if d > 0 {
		s.captureTimeout = d
	}
}

// SetSettlementRateLimiter installs a distributed per-user rate limit on Settle.
func (s *Service) SetSettlementRateLimiter(limiter SettlementRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.settleLimitPerMinute = perMinute
}

// ResolveInternalUserID converts an auth-provider subject (from a validated
// JWT) into the internal UUID used by our database.
func (s *Service) ResolveInternalUserID(ctx context.Context, subject string) (uuid.UUID, error) {
	user, err := s.repo.FindUserByAuthSubject(ctx, subject)
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// VerifyTransactionPIN checks a settlement PIN for users that have one on
// file. Users without a stored PIN hash are not challenged.
func (s *Service) VerifyTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	credential, err := s.repo.GetUserSecurityCredentialByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionPINNotSet) {
			return nil
		}
		return err
	}

	if pin == "" {
		return ErrTransactionPINRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(credential.TransactionPINHash), []byte(pin)); err != nil {
		return ErrInvalidTransactionPIN
	}
	return nil
}

// ValidateSplit runs the split validator against the caller's live funding
// sources without capturing anything. Exposed standalone so clients can
// pre-check a configuration before committing to settle.
func (s *Service) ValidateSplit(ctx context.Context, userID uuid.UUID, config domain.SplitConfiguration) (*domain.ValidationResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	sources, err := s.loadAllocationSources(ctx, userID, config.Allocations)
	if err != nil {
		return nil, err
	}

	result := ValidateSplit(config, user.Tier, sources)
	return &result, nil
}

// CanAttachFundingSource runs the funding policy gate for a prospective new
// source. Read-only; the caller decides whether to follow up with an attach.
func (s *Service) CanAttachFundingSource(ctx context.Context, userID uuid.UUID, cardholderName string) (*domain.PolicyResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	count, err := s.repo.CountActiveFundingSources(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count funding sources: %w", err)
	}

	result := EvaluateAttachPolicy(user, count, cardholderName)
	return &result, nil
}

// AttachFundingSource gates and creates a new funding source for a user.
func (s *Service) AttachFundingSource(ctx context.Context, userID uuid.UUID, req domain.AttachFundingSourceRequest) (*domain.FundingSource, error) {
	policy, err := s.CanAttachFundingSource(ctx, userID, req.CardholderName)
	if err != nil {
		return nil, err
	}
	if !policy.Allowed {
		return nil, &PolicyDeniedError{Reason: policy.Reason}
	}
	if req.Balance < 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	source := &domain.FundingSource{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             req.Name,
		CardholderName:   req.CardholderName,
		Type:             req.Type,
		Last4:            req.Last4,
		Brand:            req.Brand,
		Balance:          req.Balance,
		PaymentMethodRef: req.PaymentMethodRef,
		DefaultSplitPct:  req.DefaultSplitPct,
		IsActive:         true,
		NameVerified:     namesMatch(user.FullName, req.CardholderName),
	}
	if err := s.repo.CreateFundingSource(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to create funding source: %w", err)
	}
	return source, nil
}

// ListFundingSources returns all of a user's funding sources.
func (s *Service) ListFundingSources(ctx context.Context, userID uuid.UUID) ([]domain.FundingSource, error) {
	return s.repo.FindFundingSourcesByUserID(ctx, userID)
}

// RemoveFundingSource soft-deletes a funding source owned by the user.
func (s *Service) RemoveFundingSource(ctx context.Context, sourceID, userID uuid.UUID) error {
	ok, err := s.repo.DeactivateFundingSource(ctx, sourceID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrFundingSourceNotFound
	}
	return nil
}

// Settle is the single entry point for the capture-and-issue pipeline. It
// always returns a terminal SettlementResult for business failures; a non-nil
// error means something unexpected broke before a terminal state was reached.
func (s *Service) Settle(ctx context.Context, userID uuid.UUID, req domain.SettleRequest) (*domain.SettlementResult, error) {
	start := time.Now()

	// 1. Rate limit per caller before doing any work.
	if s.rateLimiter != nil && s.settleLimitPerMinute > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "settle", userID.String(), s.settleLimitPerMinute, time.Minute)
		if err != nil {
			log.Printf("level=warn component=settlement msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", userID, err)
		} else if count > s.settleLimitPerMinute {
			return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	// 2. Reject bad amounts before any record or vendor call.
	if req.Amount <= 0 {
		return failureResult(uuid.Nil, domain.ErrKindInvalidAmount, "payment amount must be greater than zero"), nil
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// The request amount is authoritative; a split that names a different
	// total is a configuration mismatch.
	config := req.Split
	if config.TotalAmount == 0 {
		config.TotalAmount = req.Amount
	} else if config.TotalAmount != req.Amount {
		result := failureResult(uuid.Nil, domain.ErrKindValidationFailed, fmt.Sprintf(
			"split total %s does not match the payment amount %s", formatAmount(config.TotalAmount), formatAmount(req.Amount)))
		result.ValidationErrors = []string{result.Message}
		return result, nil
	}

	sources, err := s.loadAllocationSources(ctx, userID, config.Allocations)
	if err != nil {
		return nil, err
	}

	// 3. Open the audit record for this settlement before validating, so
	// even rejected configurations leave a trail.
	snapshot, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot split configuration: %w", err)
	}
	generation := &domain.BcardGenerationAttempt{
		ID:              uuid.New(),
		UserID:          userID,
		MerchantName:    req.MerchantName,
		RequestedAmount: req.Amount,
		Currency:        s.currency,
		SplitSnapshot:   snapshot,
		Status:          "pending",
		Vendor:          s.vendorName,
	}
	if err := s.repo.CreateGenerationAttempt(ctx, generation); err != nil {
		return nil, fmt.Errorf("failed to create generation attempt: %w", err)
	}

	// 4. Validate the split against live balances.
	validation := ValidateSplit(config, user.Tier, sources)
	if !validation.Valid {
		message := "split configuration is invalid"
		if len(validation.Errors) > 0 {
			message = validation.Errors[0]
		}
		s.finalizeGeneration(ctx, generation.ID, store.FinalizeGenerationParams{
			Status:       "failed",
			ErrorMessage: strPtr(message),
			ProcessingMs: time.Since(start).Milliseconds(),
		})
		s.publishFailed(ctx, generation.ID, userID, req.MerchantName, domain.ErrKindValidationFailed, message)
		result := failureResult(generation.ID, domain.ErrKindValidationFailed, message)
		result.ValidationErrors = validation.Errors
		result.ValidationBreakdown = validation.Breakdown
		return result, nil
	}

	fees, err := CalculateFees(req.Amount, user.Tier)
	if err != nil {
		return nil, err
	}

	// 5. Capture from each source sequentially, in allocation order,
	// stopping at the first failure.
	outcomes := make([]domain.CaptureOutcome, 0, len(validation.Breakdown))
	var collected int64
	var failedOutcome *domain.CaptureOutcome

	for _, requirement := range validation.Breakdown {
		outcome := s.captureFromSource(ctx, generation.ID, requirement, sources[requirement.FundingSourceID], req.MerchantName)
		outcomes = append(outcomes, outcome)
		if outcome.Status != "succeeded" {
			failedOutcome = &outcomes[len(outcomes)-1]
			break
		}
		collected += outcome.CapturedAmount
	}

	if failedOutcome != nil {
		return s.failAfterCaptures(ctx, generation, user, outcomes, collected, failedOutcome, start), nil
	}

	// 6. All captures succeeded; issue a card loaded with what was actually
	// collected, which can differ from the nominal total by rounding cents.
	cardDetails, issueErr := s.issueCard(ctx, user, collected)
	if issueErr != nil {
		log.Printf("level=error component=settlement msg=\"card issuance failed after successful captures\" generation_id=%s user_id=%s collected=%d err=%v",
			generation.ID, userID, collected, issueErr)
		s.finalizeGeneration(ctx, generation.ID, store.FinalizeGenerationParams{
			Status:          "failed",
			CollectedAmount: collected,
			ErrorMessage:    strPtr(issueErr.Error()),
			ProcessingMs:    time.Since(start).Milliseconds(),
		})
		s.publishManualRefund(ctx, generation.ID, userID, "card issuance failed after all captures succeeded", outcomes)

		result := failureResult(generation.ID, domain.ErrKindCardIssuanceFailed,
			"Your payment sources were charged but the card could not be created. Our team has been notified and will resolve this; no further charge will occur.")
		result.Breakdown = outcomes
		result.Fees = &fees
		result.RequiresManualRefund = true
		result.RequiresManualCardRetry = true
		return result, nil
	}

	// 7. Persist the card, the merchant transaction, and the terminal state.
	card := &domain.VirtualCard{
		ID:            cardDetails.CardID,
		UserID:        userID,
		MaskedNumber:  cardDetails.MaskedNumber,
		Last4:         cardDetails.MaskedNumber[len(cardDetails.MaskedNumber)-4:],
		ExpMonth:      cardDetails.ExpMonth,
		ExpYear:       cardDetails.ExpYear,
		SpendingLimit: collected,
		Status:        "active",
		VendorCardRef: cardDetails.VendorCardRef,
	}
	if err := s.repo.CreateVirtualCard(ctx, card); err != nil {
		log.Printf("CRITICAL: failed to persist virtual card after issuance; generation_id=%s vendor_card_ref=%s err=%v", generation.ID, cardDetails.VendorCardRef, err)
		return nil, fmt.Errorf("failed to persist virtual card: %w", err)
	}

	tx := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		CardID:        &card.ID,
		MerchantName:  req.MerchantName,
		GrossAmount:   collected,
		FeeAmount:     fees.FeeAmount,
		SplitSnapshot: snapshot,
		Status:        "completed",
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		log.Printf("CRITICAL: failed to persist transaction record; generation_id=%s card_id=%s err=%v", generation.ID, card.ID, err)
	}

	s.finalizeGeneration(ctx, generation.ID, store.FinalizeGenerationParams{
		Status:          "completed",
		CollectedAmount: collected,
		CardID:          &card.ID,
		ProcessingMs:    time.Since(start).Milliseconds(),
	})

	if s.eventProducer != nil {
		s.eventProducer.Publish(ctx, EventsExchange, "settlement.completed", domain.SettlementCompletedPayload{
			GenerationID: generation.ID,
			UserID:       userID,
			CardID:       card.ID,
			MerchantName: req.MerchantName,
			Amount:       collected,
			Fee:          fees.FeeAmount,
			SourceCount:  len(outcomes),
		})
	}

	cardDetails.SpendingLimit = collected
	return &domain.SettlementResult{
		Status:       "succeeded",
		GenerationID: generation.ID,
		Card:         cardDetails,
		Breakdown:    outcomes,
		Fees:         &fees,
	}, nil
}

// captureFromSource runs one reserve-then-capture cycle for one funding
// source, recording a capture attempt either way.
func (s *Service) captureFromSource(ctx context.Context, generationID uuid.UUID, requirement domain.SourceRequirement, source *domain.FundingSource, merchantName string) domain.CaptureOutcome {
	attempt := &domain.CaptureAttempt{
		ID:              uuid.New(),
		GenerationID:    generationID,
		FundingSourceID: requirement.FundingSourceID,
		RequestedAmount: requirement.RequiredAmount,
		Status:          "pending",
	}
	if err := s.repo.CreateCaptureAttempt(ctx, attempt); err != nil {
		log.Printf("level=error component=settlement msg=\"failed to record capture attempt\" generation_id=%s source_id=%s err=%v", generationID, requirement.FundingSourceID, err)
	}

	outcome := domain.CaptureOutcome{
		FundingSourceID: requirement.FundingSourceID,
		SourceLabel:     requirement.SourceLabel,
		RequestedAmount: requirement.RequiredAmount,
	}

	started := time.Now()

	// Reserve the amount before charging so a concurrent settlement cannot
	// spend the same balance twice. Demo captures move no real money, so the
	// balance is left untouched.
	reserved := false
	if !s.demoMode {
		if err := s.repo.ReserveFundingSourceBalance(ctx, requirement.FundingSourceID, requirement.RequiredAmount); err != nil {
			message := "insufficient available balance"
			if !errors.Is(err, store.ErrInsufficientFunds) {
				message = fmt.Sprintf("failed to reserve funds: %v", err)
			}
			s.finalizeCapture(ctx, attempt.ID, store.FinalizeCaptureParams{
				Status:       "failed",
				ErrorCode:    strPtr("reservation_failed"),
				ErrorMessage: strPtr(message),
				DurationMs:   time.Since(started).Milliseconds(),
			})
			outcome.Status = "failed"
			outcome.ErrorMessage = message
			return outcome
		}
		reserved = true
	}

	// Idempotency metadata ties the charge to this exact attempt, so a
	// network retry can never double-charge the source.
	callCtx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	result, err := s.capture.Capture(callCtx, captureclient.CaptureParams{
		PaymentMethodRef: source.PaymentMethodRef,
		Amount:           requirement.RequiredAmount,
		Currency:         s.currency,
		IdempotencyKey:   fmt.Sprintf("%s:%s:%s", generationID, requirement.FundingSourceID, attempt.ID),
	})
	cancel()
	duration := time.Since(started).Milliseconds()

	if err != nil || !result.Succeeded() {
		// The charge did not happen; give the reservation back. Timeouts land
		// here too and are indistinguishable from a vendor decline.
		if reserved {
			if releaseErr := s.repo.ReleaseFundingSourceBalance(ctx, requirement.FundingSourceID, requirement.RequiredAmount); releaseErr != nil {
				log.Printf("CRITICAL: failed to release reservation after capture failure; source_id=%s amount=%d err=%v", requirement.FundingSourceID, requirement.RequiredAmount, releaseErr)
			}
		}

		code := "capture_failed"
		message := "the capture could not be completed"
		if err != nil {
			message = err.Error()
		} else {
			if result.ErrorCode != "" {
				code = result.ErrorCode
			}
			if result.ErrorMessage != "" {
				message = result.ErrorMessage
			}
		}
		s.finalizeCapture(ctx, attempt.ID, store.FinalizeCaptureParams{
			Status:       "failed",
			ErrorCode:    strPtr(code),
			ErrorMessage: strPtr(message),
			DurationMs:   duration,
		})
		outcome.Status = "failed"
		outcome.ErrorMessage = message
		return outcome
	}

	s.finalizeCapture(ctx, attempt.ID, store.FinalizeCaptureParams{
		Status:         "succeeded",
		CapturedAmount: requirement.RequiredAmount,
		VendorRef:      strPtr(result.VendorRef),
		DurationMs:     duration,
	})
	outcome.Status = "succeeded"
	outcome.CapturedAmount = requirement.RequiredAmount
	outcome.VendorRef = result.VendorRef
	return outcome
}

// failAfterCaptures produces the terminal result for a capture-stage failure.
// Nothing already captured is reversed here; the result and the published
// event direct the ops process to reconcile manually.
func (s *Service) failAfterCaptures(ctx context.Context, generation *domain.BcardGenerationAttempt, user *domain.User, outcomes []domain.CaptureOutcome, collected int64, failed *domain.CaptureOutcome, start time.Time) *domain.SettlementResult {
	status := "failed"
	if collected > 0 {
		status = "partial"
	}
	message := fmt.Sprintf("capture failed for %s: %s", failed.SourceLabel, failed.ErrorMessage)

	s.finalizeGeneration(ctx, generation.ID, store.FinalizeGenerationParams{
		Status:          status,
		CollectedAmount: collected,
		ErrorMessage:    strPtr(message),
		ProcessingMs:    time.Since(start).Milliseconds(),
	})

	if collected > 0 {
		s.publishManualRefund(ctx, generation.ID, user.ID, message, outcomes)
	} else {
		s.publishFailed(ctx, generation.ID, user.ID, generation.MerchantName, domain.ErrKindCaptureFailed, message)
	}

	result := failureResult(generation.ID, domain.ErrKindCaptureFailed, message)
	result.Breakdown = outcomes
	result.RequiresManualRefund = collected > 0
	return result
}

// issueCard provisions the virtual card at the issuing vendor and retrieves
// its sensitive fields for the one-time pass-through to the caller.
func (s *Service) issueCard(ctx context.Context, user *domain.User, spendingLimit int64) (*domain.IssuedCardDetails, error) {
	cardholderRef := ""
	if user.CardholderRef != nil {
		cardholderRef = *user.CardholderRef
	}
	if cardholderRef == "" {
		phone := ""
		if user.Phone != nil {
			phone = *user.Phone
		}
		ref, err := s.issuer.CreateCardholder(ctx, issuingclient.CardholderParams{
			Name:  user.FullName,
			Email: user.Email,
			Phone: phone,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cardholder: %w", err)
		}
		cardholderRef = ref
		if err := s.repo.SetUserCardholderRef(ctx, user.ID, ref); err != nil {
			log.Printf("level=warn component=settlement msg=\"failed to cache cardholder ref\" user_id=%s err=%v", user.ID, err)
		}
	}

	issued, err := s.issuer.IssueCard(ctx, cardholderRef, spendingLimit, s.currency)
	if err != nil {
		return nil, fmt.Errorf("failed to issue card: %w", err)
	}

	sensitive, err := s.issuer.RetrieveSensitiveFields(ctx, issued.CardRef)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve card details: %w", err)
	}

	return &domain.IssuedCardDetails{
		CardID:        uuid.New(),
		Number:        sensitive.Number,
		CVV:           sensitive.CVV,
		MaskedNumber:  "•••• •••• •••• " + issued.Last4,
		ExpMonth:      issued.ExpMonth,
		ExpYear:       issued.ExpYear,
		SpendingLimit: spendingLimit,
		VendorCardRef: issued.CardRef,
	}, nil
}

// GetCard returns a user's virtual card.
func (s *Service) GetCard(ctx context.Context, cardID, userID uuid.UUID) (*domain.VirtualCard, error) {
	return s.repo.FindVirtualCardByID(ctx, cardID, userID)
}

// FreezeCard deactivates a user's virtual card.
func (s *Service) FreezeCard(ctx context.Context, cardID, userID uuid.UUID) error {
	return s.setCardStatus(ctx, cardID, userID, "inactive")
}

// UnfreezeCard reactivates a frozen virtual card.
func (s *Service) UnfreezeCard(ctx context.Context, cardID, userID uuid.UUID) error {
	return s.setCardStatus(ctx, cardID, userID, "active")
}

func (s *Service) setCardStatus(ctx context.Context, cardID, userID uuid.UUID, status string) error {
	ok, err := s.repo.UpdateVirtualCardStatus(ctx, cardID, userID, status)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrCardNotFound
	}
	return nil
}

// SweepExpiredCards marks past-expiry cards expired. Invoked on a schedule
// from main.
func (s *Service) SweepExpiredCards(ctx context.Context) {
	n, err := s.repo.MarkExpiredVirtualCards(ctx)
	if err != nil {
		log.Printf("level=error component=card_sweeper msg=\"expiry sweep failed\" err=%v", err)
		return
	}
	if n > 0 {
		log.Printf("level=info component=card_sweeper msg=\"cards expired\" count=%d", n)
	}
}

// loadAllocationSources fetches the funding sources named by a split's
// allocations, scoped to the owning user. Sources that do not exist or belong
// to someone else are simply absent from the map; the validator reports them.
func (s *Service) loadAllocationSources(ctx context.Context, userID uuid.UUID, allocations []domain.SplitAllocation) (map[uuid.UUID]*domain.FundingSource, error) {
	sources := make(map[uuid.UUID]*domain.FundingSource, len(allocations))
	for _, a := range allocations {
		if _, ok := sources[a.FundingSourceID]; ok {
			continue
		}
		source, err := s.repo.FindFundingSourceByID(ctx, a.FundingSourceID, userID)
		if err != nil {
			if errors.Is(err, store.ErrFundingSourceNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load funding source %s: %w", a.FundingSourceID, err)
		}
		sources[a.FundingSourceID] = source
	}
	return sources, nil
}

func (s *Service) finalizeGeneration(ctx context.Context, generationID uuid.UUID, params store.FinalizeGenerationParams) {
	if err := s.repo.FinalizeGenerationAttempt(ctx, generationID, params); err != nil {
		log.Printf("level=error component=settlement msg=\"failed to finalize generation attempt\" generation_id=%s err=%v", generationID, err)
	}
}

func (s *Service) finalizeCapture(ctx context.Context, attemptID uuid.UUID, params store.FinalizeCaptureParams) {
	if err := s.repo.FinalizeCaptureAttempt(ctx, attemptID, params); err != nil {
		log.Printf("level=error component=settlement msg=\"failed to finalize capture attempt\" attempt_id=%s err=%v", attemptID, err)
	}
}

func (s *Service) publishFailed(ctx context.Context, generationID, userID uuid.UUID, merchantName, kind, reason string) {
	if s.eventProducer == nil {
		return
	}
	s.eventProducer.Publish(ctx, EventsExchange, "settlement.failed", domain.SettlementFailedPayload{
		GenerationID: generationID,
		UserID:       userID,
		MerchantName: merchantName,
		ErrorKind:    kind,
		Reason:       reason,
	})
}

func (s *Service) publishManualRefund(ctx context.Context, generationID, userID uuid.UUID, reason string, outcomes []domain.CaptureOutcome) {
	if s.eventProducer == nil {
		return
	}
	captured := make([]domain.CaptureOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == "succeeded" {
			captured = append(captured, o)
		}
	}
	s.eventProducer.Publish(ctx, EventsExchange, "settlement.manual_refund_required", domain.ManualRefundRequiredPayload{
		GenerationID: generationID,
		UserID:       userID,
		Reason:       reason,
		Captured:     captured,
	})
}

func failureResult(generationID uuid.UUID, kind, message string) *domain.SettlementResult {
	return &domain.SettlementResult{
		Status:       "failed",
		GenerationID: generationID,
		ErrorKind:    kind,
		Message:      message,
	}
}

func strPtr(s string) *string { return &s }
