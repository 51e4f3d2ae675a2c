package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Sink is a pluggable delivery target for replicated mutations.
type Sink interface {
	Deliver(ctx context.Context, item *Item) error
	// Describe returns an operator-safe, credential-redacted target string.
	Describe() string
}

// NewSinkFromTarget parses a "file:<dir>" or "http(s)://<url>" target.
func NewSinkFromTarget(target string, httpTimeout time.Duration) (Sink, error) {
	switch {
	case strings.HasPrefix(target, "file:"):
		return NewFileSink(strings.TrimPrefix(target, "file:"))
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return NewHTTPSink(target, httpTimeout), nil
	default:
		return nil, fmt.Errorf("unknown replication target %q", target)
	}
}

// FileSink writes one JSON file per delivered item.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create replica dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Deliver(_ context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	name := fmt.Sprintf("%d_%s_%s_%s.json", item.EnqueuedAt.UnixNano(), item.Table, item.Op, item.ID)
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write item: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit item: %w", err)
	}
	return nil
}

func (s *FileSink) Describe() string { return "file:" + s.dir }

// HTTPSink POSTs each item as JSON; any 2xx status is success. Sends are
// paced by a limiter so a hot queue cannot hammer the secondary.
type HTTPSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, item *Item) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Replication-Tenant", item.Tenant)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post item: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("replication target returned %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) Describe() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return "http:<unparseable>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
