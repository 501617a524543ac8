package nominatim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("lat"); got != "53.550100" {
			t.Errorf("lat = %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"display_name":"Edmonton, Alberta, Canada","lat":"53.5461","lon":"-113.4937",
			"address":{"town":"Edmonton","state":"Alberta","ISO3166-2-lvl4":"CA-AB","country":"Canada","country_code":"ca"}}`))
	}))
	defer srv.Close()

	e, err := New(srv.URL+"/", time.Second).Reverse(context.Background(), 53.5501, -113.4687)
	if err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	if e.City != "Edmonton" || e.Region != "Alberta" || e.RegionCode != "AB" || e.CountryCode != "CA" || e.Lat != 53.5461 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestReverseNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()
	_, err := New(srv.URL, time.Second).Reverse(context.Background(), 0, -30)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestReverseHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	if _, err := New(srv.URL, time.Second).Reverse(context.Background(), 1, 1); err == nil {
		t.Fatalf("expected error on 429")
	}
}
