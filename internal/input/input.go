// Package input opens record sources for the CLI: files or stdin, optionally
// gzip or zstd compressed, optionally in a legacy charset.
package input

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

// Compression names.
const (
	CompressionAuto = "auto"
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Options control how a source is decoded.
type Options struct {
	// Compression is auto (sniffed from magic bytes), none, gzip or zstd.
	Compression string
	// Encoding is a WHATWG charset label. Empty or utf-8 passes bytes through.
	Encoding string
}

// Open opens path, or stdin for "-", and returns a reader of plain UTF-8 bytes.
// Closing it closes every layer; stdin itself is left open.
func Open(path string, opts Options) (io.ReadCloser, error) {
	if path == Stdin {
		return Wrap(os.Stdin, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	adviseSequential(f)
	rc, err := Wrap(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &stack{Reader: rc, closers: []io.Closer{rc, f}}, nil
}

// Wrap decodes r. Closing the result does not close r.
func Wrap(r io.Reader, opts Options) (io.ReadCloser, error) {
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, 64<<10)
	kind, err := detectCompression(br, opts.Compression)
	if err != nil {
		return nil, err
	}

	s := &stack{Reader: br}
	switch kind {
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		s.Reader = zr
		s.closers = append(s.closers, zr)
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		s.Reader = zr
		s.closers = append(s.closers, zr.IOReadCloser())
	}

	if enc != nil {
		s.Reader = transform.NewReader(s.Reader, unicode.BOMOverride(enc.NewDecoder()))
	}
	return s, nil
}

// detectCompression trusts magic bytes over file names: a .gz file that is
// not gzip is read as is.
func detectCompression(br *bufio.Reader, want string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(want)) {
	case CompressionNone:
		return CompressionNone, nil
	case CompressionGzip:
		return CompressionGzip, nil
	case CompressionZstd:
		return CompressionZstd, nil
	case "", CompressionAuto:
	default:
		return "", fmt.Errorf("unknown compression %q", want)
	}

	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("sniff compression: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip, nil
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd, nil
	default:
		return CompressionNone, nil
	}
}

// lookupEncoding returns nil for UTF-8.
func lookupEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return nil, nil
	}
	return enc, nil
}

// stack is a decoded reader plus the layers to close, innermost first.
type stack struct {
	io.Reader
	closers []io.Closer
}

func (s *stack) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
