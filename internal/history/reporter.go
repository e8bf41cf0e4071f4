// Package history reports playback progress to the backend.
// Reports are fire-and-forget; failures are logged and dropped.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

const userAgent = "tandemd/1.0"

// ErrUnexpectedStatus is returned when the backend rejects a report
var ErrUnexpectedStatus = errors.New("unexpected status")

// Entry is one history report
type Entry struct {
	TrackID    string              `json:"trackId"`
	AlbumID    string              `json:"albumId,omitempty"`
	Mode       types.ListeningMode `json:"type"`
	Position   float64             `json:"progress"`
	Duration   float64             `json:"duration,omitempty"`
	DeviceName string              `json:"deviceName,omitempty"`
	PlayedAt   int64               `json:"playedAt"`
}

// Reporter posts history entries to {baseURL}/history
type Reporter struct {
	baseURL    string
	token      string
	deviceName string
	httpClient *http.Client
	log        *zap.Logger

	// sync makes Report block until the request completes. Tests only.
	sync bool
}

// Option configures a Reporter
type Option func(*Reporter)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(r *Reporter) { r.log = log.Named("history") }
}

// WithDeviceName tags every entry with the local device name
func WithDeviceName(name string) Option {
	return func(r *Reporter) { r.deviceName = name }
}

// WithSynchronous makes Report wait for the request to finish
func WithSynchronous() Option {
	return func(r *Reporter) { r.sync = true }
}

// NewReporter creates a reporter for the backend at baseURL
func NewReporter(baseURL, token string, opts ...Option) *Reporter {
	r := &Reporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report sends the position of track without blocking playback
func (r *Reporter) Report(track types.Track, position float64) {
	if track.ID == "" || r.baseURL == "" {
		return
	}

	entry := Entry{
		TrackID:    track.ID,
		AlbumID:    track.AlbumID,
		Mode:       track.Mode,
		Position:   position,
		Duration:   track.Duration,
		DeviceName: r.deviceName,
		PlayedAt:   time.Now().UnixMilli(),
	}
	if entry.Mode == "" {
		entry.Mode = types.ModeMusic
	}

	send := func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.httpClient.Timeout)
		defer cancel()
		if err := r.Send(ctx, entry); err != nil {
			r.log.Warn("history report failed", zap.String("track", entry.TrackID), zap.Error(err))
		}
	}

	if r.sync {
		send()
		return
	}
	go send()
}

// Send posts a single entry and returns any error
func (r *Reporter) Send(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/history", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
