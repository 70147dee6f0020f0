package app

import (
	"testing"

	"github.com/google/uuid"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
)

func TestCalculateFees(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		tier       string
		wantFee    int64
		wantTotal  int64
		wantFeePct float64
		wantErr    bool
	}{
		{
			name:       "free tier on 100 dollars",
			amount:     10000,
			tier:       "free",
			wantFee:    290,
			wantTotal:  10290,
			wantFeePct: 2.9,
		},
		{
			name:       "pro tier uses the same rate as free",
			amount:     10000,
			tier:       "pro",
			wantFee:    290,
			wantTotal:  10290,
			wantFeePct: 2.9,
		},
		{
			name:       "premium tier gets the discounted rate",
			amount:     10000,
			tier:       "premium",
			wantFee:    190,
			wantTotal:  10190,
			wantFeePct: 1.9,
		},
		{
			name:       "unknown tier falls back to free pricing",
			amount:     10000,
			tier:       "platinum",
			wantFee:    290,
			wantTotal:  10290,
			wantFeePct: 2.9,
		},
		{
			name:       "rounds half up on odd amounts",
			amount:     101,
			tier:       "free",
			wantFee:    3, // 101 * 0.029 = 2.929
			wantTotal:  104,
			wantFeePct: 2.9,
		},
		{
			name:       "one cent settlement",
			amount:     1,
			tier:       "premium",
			wantFee:    0,
			wantTotal:  1,
			wantFeePct: 1.9,
		},
		{
			name:    "zero amount is rejected",
			amount:  0,
			tier:    "free",
			wantErr: true,
		},
		{
			name:    "negative amount is rejected",
			amount:  -500,
			tier:    "free",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateFees(tt.amount, tt.tier)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CalculateFees returned error: %v", err)
			}
			if got.Base != tt.amount {
				t.Fatalf("expected base=%d, got %d", tt.amount, got.Base)
			}
			if got.FeeAmount != tt.wantFee {
				t.Fatalf("expected fee=%d, got %d", tt.wantFee, got.FeeAmount)
			}
			if got.Total != tt.wantTotal {
				t.Fatalf("expected total=%d, got %d", tt.wantTotal, got.Total)
			}
			if got.FeePercent != tt.wantFeePct {
				t.Fatalf("expected fee percent=%v, got %v", tt.wantFeePct, got.FeePercent)
			}
		})
	}
}

func TestCalculateFeesIsDeterministic(t *testing.T) {
	first, err := CalculateFees(123457, "premium")
	if err != nil {
		t.Fatalf("CalculateFees returned error: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := CalculateFees(123457, "premium")
		if err != nil {
			t.Fatalf("CalculateFees returned error on iteration %d: %v", i, err)
		}
		if again != first {
			t.Fatalf("expected identical breakdown on every call, got %+v then %+v", first, again)
		}
	}
}

func TestCalculateSplitAmountsSixtyForty(t *testing.T) {
	sourceA := uuid.New()
	sourceB := uuid.New()
	splits := []domain.SplitAllocation{
		{FundingSourceID: sourceA, Percentage: 60},
		{FundingSourceID: sourceB, Percentage: 40},
	}

	requirements, err := CalculateSplitAmounts(10000, "free", splits)
	if err != nil {
		t.Fatalf("CalculateSplitAmounts returned error: %v", err)
	}
	if len(requirements) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(requirements))
	}

	if requirements[0].BaseAmount != 6000 || requirements[0].FeeAmount != 174 || requirements[0].RequiredAmount != 6174 {
		t.Fatalf("unexpected first requirement: %+v", requirements[0])
	}
	if requirements[1].BaseAmount != 4000 || requirements[1].FeeAmount != 116 || requirements[1].RequiredAmount != 4116 {
		t.Fatalf("unexpected second requirement: %+v", requirements[1])
	}
}

// The per-source requirements must add back up to the fee-inclusive total
// within one cent per source, whatever the percentages are.
func TestCalculateSplitAmountsConservation(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		tier        string
		percentages []float64
	}{
		{name: "even thirds", amount: 10000, tier: "free", percentages: []float64{33.33, 33.33, 33.34}},
		{name: "uneven pair", amount: 9999, tier: "premium", percentages: []float64{57.5, 42.5}},
		{name: "single source", amount: 101, tier: "free", percentages: []float64{100}},
		{name: "many small shares", amount: 123457, tier: "pro", percentages: []float64{12.5, 12.5, 12.5, 12.5, 12.5, 12.5, 12.5, 12.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits := make([]domain.SplitAllocation, len(tt.percentages))
			for i, pct := range tt.percentages {
				splits[i] = domain.SplitAllocation{FundingSourceID: uuid.New(), Percentage: pct}
			}

			requirements, err := CalculateSplitAmounts(tt.amount, tt.tier, splits)
			if err != nil {
				t.Fatalf("CalculateSplitAmounts returned error: %v", err)
			}

			fees, err := CalculateFees(tt.amount, tt.tier)
			if err != nil {
				t.Fatalf("CalculateFees returned error: %v", err)
			}

			var sumRequired int64
			for _, req := range requirements {
				if req.RequiredAmount != req.BaseAmount+req.FeeAmount {
					t.Fatalf("requirement is not base+fee: %+v", req)
				}
				sumRequired += req.RequiredAmount
			}

			drift := sumRequired - fees.Total
			if drift < 0 {
				drift = -drift
			}
			maxDrift := int64(len(requirements))
			if drift > maxDrift {
				t.Fatalf("expected sum of requirements within %d cents of %d, got %d", maxDrift, fees.Total, sumRequired)
			}
		})
	}
}

func TestCalculateSplitAmountsRejectsInvalidAmount(t *testing.T) {
	splits := []domain.SplitAllocation{{FundingSourceID: uuid.New(), Percentage: 100}}
	if _, err := CalculateSplitAmounts(0, "free", splits); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestRoundHalfUpDiv(t *testing.T) {
	tests := []struct {
		n, d, want int64
	}{
		{n: 5, d: 2, want: 3},  // exactly half rounds up
		{n: 4, d: 2, want: 2},
		{n: 2929, d: 1000, want: 3},
		{n: 2499, d: 1000, want: 2},
		{n: 2500, d: 1000, want: 3},
		{n: 0, d: 10, want: 0},
	}
	for _, tt := range tests {
		if got := roundHalfUpDiv(tt.n, tt.d); got != tt.want {
			t.Fatalf("roundHalfUpDiv(%d, %d) = %d, want %d", tt.n, tt.d, got, tt.want)
		}
	}
}
