package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

func TestReportPostsEntry(t *testing.T) {
	var got Entry
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/history" {
			t.Errorf("Expected POST /history, got %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	r := NewReporter(server.URL+"/", "secret", WithSynchronous(), WithDeviceName("laptop"))
	r.Report(types.Track{ID: "t1", AlbumID: "a1", Mode: types.ModeAudiobook, Duration: 600}, 42)

	if got.TrackID != "t1" {
		t.Errorf("Expected trackId t1, got %q", got.TrackID)
	}
	if got.Position != 42 {
		t.Errorf("Expected progress 42, got %v", got.Position)
	}
	if got.Mode != types.ModeAudiobook {
		t.Errorf("Expected AUDIOBOOK, got %s", got.Mode)
	}
	if got.DeviceName != "laptop" {
		t.Errorf("Expected device laptop, got %q", got.DeviceName)
	}
	if auth != "Bearer secret" {
		t.Errorf("Expected bearer token, got %q", auth)
	}
}

func TestReportSwallowsFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewReporter(server.URL, "", WithSynchronous())
	// Must not panic or block
	r.Report(types.Track{ID: "t1"}, 1)

	if calls.Load() != 1 {
		t.Errorf("Expected 1 request, got %d", calls.Load())
	}
}

func TestSendUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	r := NewReporter(server.URL, "")
	err := r.Send(context.Background(), Entry{TrackID: "t1"})
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("Expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestReportSkipsEmptyTrack(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	r := NewReporter(server.URL, "", WithSynchronous())
	r.Report(types.Track{}, 10)

	if calls.Load() != 0 {
		t.Errorf("Expected no request for empty track, got %d", calls.Load())
	}
}
