package captureclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCaptureDemoModeSkipsVendor(t *testing.T) {
	client := NewClient("http://vendor.invalid", "", true)

	result, err := client.Capture(context.Background(), CaptureParams{
		PaymentMethodRef: "pm_test",
		Amount:           10290,
		Currency:         "usd",
	})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected demo capture to succeed, got %+v", result)
	}
	if !strings.HasPrefix(result.VendorRef, "demo_ch_") {
		t.Fatalf("expected demo vendor ref, got %q", result.VendorRef)
	}
}

func TestCaptureSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "ch_123", "status": "succeeded"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test", false)
	result, err := client.Capture(context.Background(), CaptureParams{
		PaymentMethodRef: "pm_test",
		Amount:           10290,
		Currency:         "usd",
		IdempotencyKey:   "gen:src:attempt",
	})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if !result.Succeeded() || result.VendorRef != "ch_123" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotKey != "gen:src:attempt" {
		t.Fatalf("expected idempotency key forwarded, got %q", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestCaptureDeclineIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error": {"code": "card_declined", "message": "Your card was declined."}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test", false)
	result, err := client.Capture(context.Background(), CaptureParams{PaymentMethodRef: "pm_test", Amount: 100, Currency: "usd"})
	if err != nil {
		t.Fatalf("declines must not surface as errors, got %v", err)
	}
	if result.Succeeded() {
		t.Fatal("expected a failed result")
	}
	if result.ErrorCode != "card_declined" || result.ErrorMessage != "Your card was declined." {
		t.Fatalf("unexpected decline details: %+v", result)
	}
}

func TestCaptureServerErrorIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"code": "internal", "message": "boom"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test", false)
	if _, err := client.Capture(context.Background(), CaptureParams{PaymentMethodRef: "pm_test", Amount: 100, Currency: "usd"}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
