// Package ingest reads scraper output files into raw postings.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/resilience"
)

// Format is the encoding of a scraper output file.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJSONL, FormatCSV:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	}
	return "", eris.Errorf("ingest: unknown format %q", s)
}

// DetectFormat picks the format from a file or URL extension.
func DetectFormat(path string) (Format, error) {
	if i := strings.IndexAny(path, "?#"); i >= 0 && isURL(path) {
		path = path[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", eris.Errorf("ingest: cannot detect format of %q", path)
	}
	return ParseFormat(ext)
}

// Options configures a Reader.
type Options struct {
	UserAgent string                 `mapstructure:"user_agent"`
	Timeout   time.Duration          `mapstructure:"timeout"`
	Retry     resilience.RetryConfig `mapstructure:"retry"`
}

// Reader opens local files and http(s) URLs and decodes them.
type Reader struct {
	client *http.Client
	opts   Options
	log    *zap.Logger
}

// NewReader creates a Reader. Zero options take defaults.
func NewReader(opts Options) *Reader {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "jobfeed/1.0"
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("ingest", "fetch")
	}
	return &Reader{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		log:    zap.L().With(zap.String("component", "ingest")),
	}
}

// Open returns the raw bytes of src, which is a path or an http(s) URL.
func (r *Reader) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	if !isURL(src) {
		f, err := os.Open(src)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", src)
		}
		return f, nil
	}
	return resilience.DoVal(ctx, r.opts.Retry, func(ctx context.Context) (io.ReadCloser, error) {
		return r.fetch(ctx, src)
	})
}

func (r *Reader) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: GET %s", rawURL)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	_ = resp.Body.Close()

	err = eris.Errorf("ingest: GET %s: status %d", rawURL, resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(err, resp.StatusCode)
	}
	return nil, err
}

// RecordError is one record a decoder could not turn into a posting. The
// identifying fields are filled in when the raw record still yields them.
// Index is the element index for JSON arrays and the line number otherwise.
type RecordError struct {
	Format         Format
	Index          int
	Title          string
	Company        string
	SourceURL      string
	SourcePlatform string
	Err            error
}

func (e RecordError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: record %d", e.Format, e.Index)
	}
	return e.Err.Error()
}

func (e RecordError) Unwrap() error { return e.Err }

// Rejection converts a skipped record into an audit-log entry.
func (e RecordError) Rejection(at time.Time) model.Rejection {
	return model.Rejection{
		Title:          e.Title,
		Company:        e.Company,
		SourceURL:      e.SourceURL,
		SourcePlatform: e.SourcePlatform,
		Reasons:        []model.ErrorKind{model.ErrDecodeFailed},
		RejectedAt:     at,
	}
}

// SkipFunc receives records a decoder skipped. It is called from the
// decoding goroutine, before the output channel closes. A nil SkipFunc
// drops them.
type SkipFunc func(RecordError)

func (f SkipFunc) call(re RecordError) {
	if f != nil {
		f(re)
	}
}

// Stream decodes postings from rd, sending each on the returned channel.
// Records that fail to decode go to skip. Both channels are closed when
// decoding completes.
func Stream(ctx context.Context, rd io.Reader, f Format, skip SkipFunc) (<-chan model.RawPosting, <-chan error) {
	switch f {
	case FormatJSON:
		return DecodeJSONArray[model.RawPosting](ctx, rd, skip)
	case FormatJSONL:
		return DecodeJSONLines[model.RawPosting](ctx, rd, skip)
	case FormatCSV:
		return DecodeCSV(ctx, rd, skip)
	}
	outCh := make(chan model.RawPosting)
	errCh := make(chan error, 1)
	errCh <- eris.Errorf("ingest: unknown format %q", f)
	close(outCh)
	close(errCh)
	return outCh, errCh
}

// ReadAll opens src and decodes every posting in it. An empty format is
// detected from the extension. Records that fail to decode are logged and
// returned alongside the postings; they do not fail the source.
func (r *Reader) ReadAll(ctx context.Context, src string, f Format) ([]model.RawPosting, []RecordError, error) {
	if f == "" {
		var err error
		if f, err = DetectFormat(src); err != nil {
			return nil, nil, err
		}
	}

	rc, err := r.Open(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close() //nolint:errcheck

	var skipped []RecordError
	skip := func(re RecordError) {
		r.log.Warn("record skipped",
			zap.String("source", src),
			zap.String("format", string(re.Format)),
			zap.Int("index", re.Index),
			zap.String("title", re.Title),
			zap.Error(re.Err),
		)
		skipped = append(skipped, re)
	}

	postings, err := Collect(Stream(ctx, rc, f, skip))
	if err != nil {
		return nil, skipped, eris.Wrapf(err, "ingest: read %s", src)
	}
	r.log.Info("source decoded",
		zap.String("source", src),
		zap.String("format", string(f)),
		zap.Int("postings", len(postings)),
		zap.Int("skipped", len(skipped)),
	)
	return postings, skipped, nil
}

// Collect drains a decode stream. A stream error discards the items.
func Collect[T any](outCh <-chan T, errCh <-chan error) ([]T, error) {
	var out []T
	for item := range outCh {
		out = append(out, item)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
