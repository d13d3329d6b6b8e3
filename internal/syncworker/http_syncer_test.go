package syncworker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiselabs/poise/internal/domain"
)

func TestHTTPSyncer_Sync(t *testing.T) {
	var gotAuth string
	var gotRecord domain.SessionRecord

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotRecord); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	syncer := NewHTTPSyncer(srv.URL, "secret-token")
	rec := record("sess-http", false)

	if err := syncer.Sync(context.Background(), rec); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotRecord.SessionID != "sess-http" {
		t.Errorf("Record not delivered: %+v", gotRecord)
	}
}

func TestHTTPSyncer_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	syncer := NewHTTPSyncer(srv.URL, "")
	err := syncer.Sync(context.Background(), record("sess-fail", false))
	if !errors.Is(err, domain.ErrSyncFailed) {
		t.Fatalf("Expected ErrSyncFailed, got %v", err)
	}
}

func TestHTTPSyncer_Unreachable(t *testing.T) {
	syncer := NewHTTPSyncer("http://127.0.0.1:1/sync", "")
	err := syncer.Sync(context.Background(), record("sess-down", false))
	if !errors.Is(err, domain.ErrSyncFailed) {
		t.Fatalf("Expected ErrSyncFailed, got %v", err)
	}
}
