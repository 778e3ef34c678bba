package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHTTPProcessorRelease(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"PO-77"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL+"/", "secret")
	ref, err := p.Release(context.Background(), Instruction{
		IdempotencyKey: "release:deal-1",
		DealID:         "deal-1",
		Amount:         decimal.NewFromInt(455000),
		Currency:       "XOF",
		Beneficiary:    "prov-1",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ref != "PO-77" {
		t.Fatalf("unexpected reference %q", ref)
	}
	if gotPath != "/v1/payouts" || gotKey != "release:deal-1" || gotAuth != "Bearer secret" {
		t.Fatalf("unexpected request: path=%s key=%s auth=%s", gotPath, gotKey, gotAuth)
	}
	if gotBody["deal_id"] != "deal-1" || gotBody["amount"] != "455000" || gotBody["beneficiary"] != "prov-1" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestHTTPProcessorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProcessor(srv.URL, "").Refund(context.Background(), Instruction{IdempotencyKey: "refund:d"})
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream unavailable") {
		t.Fatalf("expected status error, got %v", err)
	}

	if _, err := NewHTTPProcessor("", "").Release(context.Background(), Instruction{}); err == nil {
		t.Fatalf("unconfigured processor must fail")
	}
}
