// SPDX-License-Identifier: MPL-2.0

package sysroot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/schollz/progressbar/v3"
)

// Compression identifies how a sysroot image is compressed on the wire.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

var (
	// ErrEmptyLocation is returned by Open when no sysroot location is configured.
	ErrEmptyLocation = errors.New("sysroot location is empty")

	// ErrFetch wraps failures to read or download the archive.
	ErrFetch = errors.New("cannot fetch sysroot")
)

type (
	// Source produces the raw (decompressed) sysroot archive.
	Source interface {
		Fetch(ctx context.Context) ([]byte, error)
	}

	// SourceOption configures a Source returned by Open.
	SourceOption func(*source)

	source struct {
		location    string
		compression Compression
		digest      Digest
		client      *http.Client
		progress    io.Writer
		userAgent   string
	}

	memoized struct {
		src  Source
		mu   sync.Mutex
		data []byte
	}
)

// WithDigest verifies the downloaded bytes (before decompression) against d.
func WithDigest(d Digest) SourceOption {
	return func(s *source) { s.digest = d }
}

// WithCompression overrides the compression detected from the location suffix.
func WithCompression(c Compression) SourceOption {
	return func(s *source) { s.compression = c }
}

// WithHTTPClient sets the client used for http and https locations.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *source) { s.client = c }
}

// WithProgress renders a download progress bar to w for remote locations.
func WithProgress(w io.Writer) SourceOption {
	return func(s *source) { s.progress = w }
}

// WithUserAgent sets the User-Agent header for remote locations.
func WithUserAgent(ua string) SourceOption {
	return func(s *source) { s.userAgent = ua }
}

// Open returns a Source for location, which is either a local file path
// or an http(s) URL.
func Open(location string, opts ...SourceOption) (Source, error) {
	if strings.TrimSpace(location) == "" {
		return nil, ErrEmptyLocation
	}
	s := &source{
		location:    location,
		compression: DetectCompression(location),
		client:      http.DefaultClient,
		userAgent:   "wasmcc/dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Memoize wraps src so that the archive is fetched at most once per
// process. Failed fetches are retried on the next call, so a canceled
// context does not poison later compiles.
func Memoize(src Source) Source {
	return &memoized{src: src}
}

// DetectCompression infers the compression from a file name or URL path.
func DetectCompression(location string) Compression {
	name := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.Path != "" {
		name = u.Path
	}
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".tgz"):
		return CompressionGzip
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".tzst"):
		return CompressionZstd
	case strings.HasSuffix(name, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Fetch reads, verifies and decompresses the archive.
func (s *source) Fetch(ctx context.Context) ([]byte, error) {
	raw, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if !s.digest.IsZero() {
		if err := s.digest.Verify(s.location, raw); err != nil {
			return nil, err
		}
	}
	data, err := Decompress(raw, s.compression)
	if err != nil {
		return nil, fmt.Errorf("decompress sysroot %s: %w", s.location, err)
	}
	return data, nil
}

func (s *source) read(ctx context.Context) ([]byte, error) {
	if !isRemote(s.location) {
		data, err := os.ReadFile(s.location)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading %s: %w", ErrFetch, s.location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: downloading %s: unexpected status %d", ErrFetch, s.location, resp.StatusCode)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	var w io.Writer = &buf
	if s.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(s.progress),
			progressbar.OptionSetDescription("sysroot"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		w = io.MultiWriter(&buf, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return nil, fmt.Errorf("%w: downloading %s: %w", ErrFetch, s.location, err)
	}
	return buf.Bytes(), nil
}

// Decompress returns data decoded according to c.
func Decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionZstd:
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		out, err := zr.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

func (m *memoized) Fetch(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		return m.data, nil
	}
	data, err := m.src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	m.data = data
	return data, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
