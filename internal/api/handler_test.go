package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/poiselabs/poise/internal/analysis"
	"github.com/poiselabs/poise/internal/capture"
	"github.com/poiselabs/poise/internal/coach"
	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/session"
	"github.com/poiselabs/poise/internal/transport"
)

// noopTransport satisfies session.Transport without a network.
type noopTransport struct{}

func (noopTransport) SetOnClosed(func(error))               {}
func (noopTransport) OnEvent(transport.Listener)            {}
func (noopTransport) Connect(context.Context, string) error { return nil }
func (noopTransport) Activate()                             {}
func (noopTransport) SendAudio([]byte)                      {}
func (noopTransport) SendObservation(domain.Observation)    {}
func (noopTransport) Close() error                          { return nil }

type apiRepo struct {
	mu      sync.Mutex
	records map[string]*domain.SessionRecord
}

func newAPIRepo() *apiRepo {
	return &apiRepo{records: make(map[string]*domain.SessionRecord)}
}

func (r *apiRepo) Append(_ context.Context, rec *domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.SessionID] = &cp
	return nil
}

func (r *apiRepo) Get(_ context.Context, sessionID string) (*domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[sessionID], nil
}

func (r *apiRepo) MarkSynced(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[sessionID]; ok {
		rec.Synced = true
	}
	return nil
}

func (r *apiRepo) UnsyncedRecords(context.Context) ([]*domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SessionRecord
	for _, rec := range r.records {
		if !rec.Synced {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *apiRepo) PruneSynced(context.Context, time.Duration) (int64, error) { return 0, nil }
func (r *apiRepo) Ping(context.Context) error                                { return nil }
func (r *apiRepo) Close() error                                              { return nil }

func newTestRouter(t *testing.T, quota int) (chi.Router, *apiRepo) {
	t.Helper()

	repo := newAPIRepo()
	profile := domain.CapabilityProfile{
		Tier:            domain.TierLow,
		MaxFrameRate:    15,
		EnabledFeatures: domain.NewFeatureSet(domain.FeatureVoiceAnalysis),
	}

	controller := session.NewController(session.Deps{
		Profile:  profile,
		Throttle: staticThrottle{},
		Analyzers: map[domain.FeatureKind]analysis.Analyzer{
			domain.FeatureVoiceAnalysis: &analysis.MockAnalyzer{Feature: domain.FeatureVoiceAnalysis, Fixed: 60},
		},
		Capture:  capture.NewMockManager(),
		Stream:   func() session.Transport { return noopTransport{} },
		Repo:     repo,
		Quota:    session.NewMemoryQuota(quota),
		Stats:    session.NoopStats{},
		Syncer:   session.FailingSyncer{},
		Provider: coach.NewLocalProvider(),
	})

	r := chi.NewRouter()
	NewHandler(controller, repo).RegisterRoutes(r)
	return r, repo
}

type staticThrottle struct{}

func (staticThrottle) State() domain.ThrottleState {
	return domain.ThrottleState{Mode: domain.ThrottleNormal, FrameSkipFactor: 1}
}

func TestStartStatusEnd(t *testing.T) {
	router, repo := newTestRouter(t, 5)

	body := strings.NewReader(`{"focus_areas":["clarity"],"disable_camera":true}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil || started["session_id"] == "" {
		t.Fatalf("Missing session id in response: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status session.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.State != "active" || status.SessionID != started["session_id"] {
		t.Errorf("Unexpected status: %+v", status)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/end", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var record domain.SessionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("Failed to decode record: %v", err)
	}
	if record.SessionID != started["session_id"] {
		t.Errorf("Ended session %q, expected %q", record.SessionID, started["session_id"])
	}

	if stored, _ := repo.Get(context.Background(), record.SessionID); stored == nil {
		t.Error("Record not persisted")
	}
}

func TestStartEmptyBodyUsesDefaults(t *testing.T) {
	router, _ := newTestRouter(t, 5)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for empty body, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/end", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("End failed: %d", rec.Code)
	}
}

func TestStartMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t, 5)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestStartQuotaExceeded(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", nil))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartAlreadyActive(t *testing.T) {
	router, _ := newTestRouter(t, 5)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("First start failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/end", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("End failed: %d", rec.Code)
	}
}

func TestEndWithoutSession(t *testing.T) {
	router, _ := newTestRouter(t, 5)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/end", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rec.Code)
	}
}

func TestUnsyncedRecords(t *testing.T) {
	router, repo := newTestRouter(t, 5)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records/unsynced", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("Expected empty array, got %s", body)
	}

	repo.Append(context.Background(), &domain.SessionRecord{SessionID: "sess-q", StartedAt: time.Now()})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records/unsynced", nil))
	var records []*domain.SessionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("Failed to decode records: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "sess-q" {
		t.Errorf("Unexpected records: %+v", records)
	}
}
