package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"riskengine/pkg/utils"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewHTTPClient(server.URL, "test-token", 1000, testLogger())
	return client, server
}

func TestHTTPClientCurrentPrice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/market/last-price" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("missing bearer token")
		}
		w.Write([]byte(`{"figi":"BBG004730N88","price":"123.45"}`))
	})

	price, err := client.CurrentPrice(context.Background(), "BBG004730N88")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(dec("123.45")) {
		t.Errorf("unexpected price: %s", price)
	}
}

func TestHTTPClientClosePositionDirection(t *testing.T) {
	tests := []struct {
		side          string
		wantDirection string
	}{
		{"LONG", "SELL"},
		{"SHORT", "BUY"},
	}

	for _, tt := range tests {
		t.Run(tt.side, func(t *testing.T) {
			var got orderRequest
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Fatalf("bad request body: %v", err)
				}
				w.Write([]byte(`{"order_id":"ord-1","status":"NEW"}`))
			})

			orderID, err := client.ClosePosition(context.Background(), "acc-1", "BBG004730N88", tt.side, dec("10"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if orderID != "ord-1" {
				t.Errorf("unexpected order id: %s", orderID)
			}
			if got.Direction != tt.wantDirection {
				t.Errorf("side %s: expected direction %s, got %s", tt.side, tt.wantDirection, got.Direction)
			}
			if got.Type != "MARKET" {
				t.Errorf("protective close must be a market order, got %s", got.Type)
			}
		})
	}
}

func TestHTTPClientErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, "", ErrNotFound},
		{"rejected", http.StatusUnprocessableEntity, `{"message":"not enough lots"}`, ErrOrderRejected},
		{"server error", http.StatusInternalServerError, "", ErrUnavailable},
		{"rate limited", http.StatusTooManyRequests, "", ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.ClosePosition(context.Background(), "acc-1", "BBG004730N88", "LONG", dec("1"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHTTPClientListPositions(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("account_id") != "acc-1" {
			t.Errorf("missing account_id query param")
		}
		w.Write([]byte(`[{"account_id":"acc-1","figi":"BBG004730N88","qty":"10","avg_price":"100.5"}]`))
	})

	positions, err := client.ListPositions(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if !positions[0].Qty.Equal(dec("10")) || !positions[0].AvgPrice.Equal(dec("100.5")) {
		t.Errorf("unexpected position: %+v", positions[0])
	}
}

func TestHTTPClientCancelOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.CancelOrder(context.Background(), "acc-1", "ord-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
