// SPDX-License-Identifier: MPL-2.0

package sysroot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/invowk/wasmcc/internal/testutil"
)

func sampleArchive() []byte {
	return testutil.Tarball(
		testutil.File("include/stdio.h", "int printf(const char *, ...);\n"),
		testutil.File("lib/wasm32-wasi/libc.a", "!<arch>\n"),
	)
}

func compress(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionNone:
		return data
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		t.Fatalf("unknown compression %q", c)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpenEmptyLocation(t *testing.T) {
	t.Parallel()

	for _, loc := range []string{"", "   "} {
		if _, err := Open(loc); !errors.Is(err, ErrEmptyLocation) {
			t.Errorf("Open(%q) error = %v, want ErrEmptyLocation", loc, err)
		}
	}
}

func TestFileSourceCompressions(t *testing.T) {
	t.Parallel()

	archive := sampleArchive()
	tests := []struct {
		file string
		c    Compression
	}{
		{"sysroot.tar", CompressionNone},
		{"sysroot.tar.gz", CompressionGzip},
		{"sysroot.tar.zst", CompressionZstd},
		{"sysroot.tar.lz4", CompressionLZ4},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, compress(t, tt.c, archive), 0o644); err != nil {
				t.Fatal(err)
			}

			src, err := Open(path)
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			got, err := src.Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch() error: %v", err)
			}
			if !bytes.Equal(got, archive) {
				t.Errorf("Fetch() returned %d bytes, want the %d-byte archive", len(got), len(archive))
			}
			if Count(got) != 2 {
				t.Errorf("Count() = %d, want 2", Count(got))
			}
		})
	}
}

func TestFileSourceMissing(t *testing.T) {
	t.Parallel()

	src, err := Open(filepath.Join(t.TempDir(), "nope.tar"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = src.Fetch(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Fetch() error = %v, want os.ErrNotExist", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Errorf("Fetch() error = %v, want ErrFetch", err)
	}
}

func TestHTTPSource(t *testing.T) {
	t.Parallel()

	archive := sampleArchive()
	payload := compress(t, CompressionGzip, archive)
	var gotUA atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/sysroot.tar.gz":
			_, _ = w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	var progress bytes.Buffer
	src, err := Open(srv.URL+"/sysroot.tar.gz",
		WithHTTPClient(srv.Client()),
		WithUserAgent("wasmcc-test"),
		WithProgress(&progress),
	)
	if err != nil {
		t.Fatal(err)
	}
	got, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !bytes.Equal(got, archive) {
		t.Error("Fetch() did not return the decompressed archive")
	}
	if ua, _ := gotUA.Load().(string); ua != "wasmcc-test" {
		t.Errorf("User-Agent = %q", ua)
	}

	missing, err := Open(srv.URL+"/missing.tar", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := missing.Fetch(context.Background()); err == nil {
		t.Error("Fetch() succeeded for a 404")
	}
}

func TestSourceDigest(t *testing.T) {
	t.Parallel()

	archive := sampleArchive()
	path := filepath.Join(t.TempDir(), "sysroot.tar")
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, algo := range []DigestAlgorithm{AlgorithmSHA256, AlgorithmBLAKE3} {
		t.Run(string(algo), func(t *testing.T) {
			t.Parallel()

			good, err := Compute(algo, archive)
			if err != nil {
				t.Fatal(err)
			}
			src, _ := Open(path, WithDigest(good))
			if _, err := src.Fetch(context.Background()); err != nil {
				t.Fatalf("Fetch() with matching digest error: %v", err)
			}

			bad, _ := Compute(algo, []byte("something else"))
			src, _ = Open(path, WithDigest(bad))
			_, err = src.Fetch(context.Background())
			if !errors.Is(err, ErrDigestMismatch) {
				t.Fatalf("error = %v, want ErrDigestMismatch", err)
			}
			var digestErr *DigestError
			if !errors.As(err, &digestErr) {
				t.Fatalf("error is not *DigestError: %T", err)
			}
			if digestErr.Got != good {
				t.Errorf("Got = %v, want %v", digestErr.Got, good)
			}
		})
	}
}

type countingSource struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (c *countingSource) Fetch(context.Context) ([]byte, error) {
	c.calls.Add(1)
	return c.data, c.err
}

func TestMemoize(t *testing.T) {
	t.Parallel()

	inner := &countingSource{data: []byte("archive")}
	src := Memoize(inner)
	for range 3 {
		got, err := src.Fetch(context.Background())
		if err != nil || string(got) != "archive" {
			t.Fatalf("Fetch() = %q, %v", got, err)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner Fetch called %d times, want 1", n)
	}

	failing := &countingSource{err: errors.New("offline")}
	src = Memoize(failing)
	for range 2 {
		if _, err := src.Fetch(context.Background()); err == nil {
			t.Fatal("expected fetch error")
		}
	}
	if n := failing.calls.Load(); n != 2 {
		t.Errorf("failing Fetch called %d times, want 2 (errors are not cached)", n)
	}
}

func TestDetectCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		location string
		want     Compression
	}{
		{"sysroot.tar", CompressionNone},
		{"/opt/sysroot.tar.gz", CompressionGzip},
		{"sysroot.TGZ", CompressionGzip},
		{"sysroot.tar.zst", CompressionZstd},
		{"sysroot.tzst", CompressionZstd},
		{"sysroot.tar.lz4", CompressionLZ4},
		{"https://example.com/sysroot.tar.zst?token=abc", CompressionZstd},
		{"https://example.com/download?f=sysroot.tar.gz", CompressionNone},
	}
	for _, tt := range tests {
		if got := DetectCompression(tt.location); got != tt.want {
			t.Errorf("DetectCompression(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestDecompressUnsupported(t *testing.T) {
	t.Parallel()

	if _, err := Decompress([]byte("x"), "brotli"); err == nil {
		t.Error("expected error for unsupported compression")
	}
	if _, err := Decompress([]byte("not gzip"), CompressionGzip); err == nil {
		t.Error("expected error for corrupt gzip data")
	}
}

func TestParseDigest(t *testing.T) {
	t.Parallel()

	const hex64 = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	tests := []struct {
		in      string
		want    Digest
		wantErr bool
	}{
		{in: "", want: Digest{}},
		{in: hex64, want: Digest{Algorithm: AlgorithmSHA256, Hex: hex64}},
		{in: "sha256:" + hex64, want: Digest{Algorithm: AlgorithmSHA256, Hex: hex64}},
		{in: "BLAKE3:" + hex64, want: Digest{Algorithm: AlgorithmBLAKE3, Hex: hex64}},
		{in: "md5:" + hex64, wantErr: true},
		{in: "sha256:abc", wantErr: true},
		{in: "sha256:" + hex64[:63] + "z", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDigest(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDigest) {
				t.Errorf("ParseDigest(%q) error = %v, want ErrInvalidDigest", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDigest(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDigest(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got.String() != "" && got.String() != string(got.Algorithm)+":"+hex64 {
			t.Errorf("String() = %q", got.String())
		}
	}
}
