package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) *TradierClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTradierClientWithBaseURL("test-key", "VA123", true, srv.URL, zerolog.Nop())
}

func TestOCCSymbol(t *testing.T) {
	exp := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		symbol string
		opt    OptionType
		strike float64
		want   string
	}{
		{"put whole strike", "SPY", OptionTypePut, 580, "SPY260116P00580000"},
		{"call whole strike", "SPY", OptionTypeCall, 590, "SPY260116C00590000"},
		{"fractional strike", "XSP", OptionTypePut, 582.5, "XSP260116P00582500"},
		{"float drift strike", "SPY", OptionTypeCall, 394.995, "SPY260116C00394995"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OCCSymbol(tt.symbol, exp, tt.opt, tt.strike); got != tt.want {
				t.Fatalf("OCCSymbol() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetQuote_SingleObject(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"quotes":{"quote":{"symbol":"SPY","last":585.12,"bid":585.10,"ask":585.14}}}`)
	})

	q, err := client.GetQuote(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if q.Symbol != "SPY" || q.Last != 585.12 {
		t.Fatalf("GetQuote() = %+v", q)
	}
}

func TestGetOptionChain_ArrayAndNull(t *testing.T) {
	payloads := map[string]int{
		`{"options":{"option":[{"symbol":"SPY260116P00580000","option_type":"put","strike":580,"bid":1.0,"ask":1.1},{"symbol":"SPY260116C00590000","option_type":"call","strike":590,"bid":0.9,"ask":1.0}]}}`: 2,
		`{"options":{"option":"null"}}`: 0,
	}
	exp := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	for payload, wantLen := range payloads {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, payload)
		})
		chain, err := client.GetOptionChain(context.Background(), "SPY", exp)
		if err != nil {
			t.Fatalf("GetOptionChain() error = %v", err)
		}
		if len(chain) != wantLen {
			t.Fatalf("GetOptionChain() len = %d, want %d", len(chain), wantLen)
		}
	}
}

func TestPlaceIronCondor_LegEncoding(t *testing.T) {
	var gotForm map[string][]string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		fmt.Fprint(w, `{"order":{"id":112233,"status":"ok","tag":"abc123"}}`)
	})

	order := CondorOrder{
		Symbol:     "SPY",
		ShortPut:   582,
		LongPut:    580,
		ShortCall:  588,
		LongCall:   590,
		Expiration: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		Quantity:   2,
		LimitPrice: 1.80,
		Tag:        "abc123",
	}
	res, err := client.PlaceIronCondor(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceIronCondor() error = %v", err)
	}
	if res.ID != "112233" {
		t.Fatalf("order ID = %q, want 112233", res.ID)
	}

	checks := map[string]string{
		"class":            "multileg",
		"type":             "credit",
		"price":            "1.80",
		"tag":              "abc123",
		"option_symbol[0]": "SPY260116P00582000",
		"side[0]":          "sell_to_open",
		"option_symbol[1]": "SPY260116P00580000",
		"side[1]":          "buy_to_open",
		"option_symbol[2]": "SPY260116C00588000",
		"side[2]":          "sell_to_open",
		"option_symbol[3]": "SPY260116C00590000",
		"side[3]":          "buy_to_open",
		"quantity[3]":      "2",
	}
	for key, want := range checks {
		if got := gotForm[key]; len(got) != 1 || got[0] != want {
			t.Errorf("form[%s] = %v, want %q", key, got, want)
		}
	}
}

func TestCloseIronCondor_DebitSides(t *testing.T) {
	var gotForm map[string][]string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		fmt.Fprint(w, `{"order":{"id":44,"status":"pending"}}`)
	})

	order := CondorOrder{
		Symbol:     "SPY",
		ShortPut:   582,
		LongPut:    580,
		ShortCall:  588,
		LongCall:   590,
		Expiration: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		Quantity:   1,
		LimitPrice: 0.45,
	}
	if _, err := client.CloseIronCondor(context.Background(), order); err != nil {
		t.Fatalf("CloseIronCondor() error = %v", err)
	}
	if got := gotForm["type"]; len(got) != 1 || got[0] != "debit" {
		t.Errorf("form[type] = %v, want debit", got)
	}
	if got := gotForm["side[0]"]; len(got) != 1 || got[0] != "buy_to_close" {
		t.Errorf("form[side[0]] = %v, want buy_to_close", got)
	}
	if got := gotForm["side[1]"]; len(got) != 1 || got[0] != "sell_to_close" {
		t.Errorf("form[side[1]] = %v, want sell_to_close", got)
	}
}

func TestPlaceIronCondor_Validation(t *testing.T) {
	client := NewTradierClient("k", "acct", true, zerolog.Nop())
	base := CondorOrder{
		Symbol: "SPY", ShortPut: 582, LongPut: 580, ShortCall: 588, LongCall: 590,
		Expiration: time.Now(), Quantity: 1, LimitPrice: 1.50,
	}

	bad := base
	bad.Quantity = 0
	if _, err := client.PlaceIronCondor(context.Background(), bad); err == nil {
		t.Error("expected error for zero quantity")
	}

	bad = base
	bad.LimitPrice = 0
	if _, err := client.PlaceIronCondor(context.Background(), bad); err == nil {
		t.Error("expected error for zero limit price")
	}

	bad = base
	bad.LongPut = 583 // above short put
	if _, err := client.PlaceIronCondor(context.Background(), bad); err == nil {
		t.Error("expected error for non-ascending strikes")
	}
}

func TestFindOrderByTag(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"orders":{"order":[{"id":1,"status":"filled","tag":"aaa"},{"id":2,"status":"rejected","tag":"bbb"}]}}`)
	})

	res, err := client.FindOrderByTag(context.Background(), "bbb")
	if err != nil {
		t.Fatalf("FindOrderByTag() error = %v", err)
	}
	if res.ID != "2" || res.Status != "rejected" {
		t.Fatalf("FindOrderByTag() = %+v", res)
	}

	if _, err := client.FindOrderByTag(context.Background(), "zzz"); err != ErrOrderNotFound {
		t.Fatalf("FindOrderByTag(missing) error = %v, want ErrOrderNotFound", err)
	}
}

func TestMakeRequest_APIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid account", http.StatusUnauthorized)
	})

	_, err := client.GetAccountBalance(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPermanentAPIError(err) {
		t.Fatalf("expected permanent API error, got %v", err)
	}
}

func TestOrderResult_Status(t *testing.T) {
	filled := &OrderResult{Status: "Filled"}
	if !filled.IsFilled() || !filled.IsTerminal() {
		t.Error("Filled should be filled and terminal")
	}
	open := &OrderResult{Status: "open"}
	if open.IsFilled() || open.IsTerminal() {
		t.Error("open should be neither filled nor terminal")
	}
	rejected := &OrderResult{Status: "rejected"}
	if rejected.IsFilled() || !rejected.IsTerminal() {
		t.Error("rejected should be terminal but not filled")
	}
}
