package upsert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
)

// binaryChunkSize is how much binary COPY data is forwarded per record.
const binaryChunkSize = 10240

type streamSource struct {
	br   *bufio.Reader
	opts Options

	cols     []string
	resolved bool
	chunk    []byte
}

func newStreamSource(r io.Reader, opts Options) *streamSource {
	return &streamSource{br: bufio.NewReaderSize(r, 64*1024), opts: opts}
}

func (s *streamSource) continuousWrite() bool { return true }

func (s *streamSource) framing() framing {
	return framing{format: s.opts.Format, delimiter: s.opts.Delimiter[0]}
}

// columns consumes the header line when header mode is on, whether or not an
// explicit column list overrides it.
func (s *streamSource) columns(context.Context) ([]string, error) {
	if s.resolved {
		return s.cols, nil
	}
	s.resolved = true

	cols := s.opts.Columns
	if s.opts.Format != FormatBinary && !s.opts.NoHeader {
		line, err := s.br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if len(cols) == 0 {
			header, err := parseHeader(line, s.opts.Delimiter[0])
			if err != nil {
				return nil, err
			}
			cols = header
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	s.cols = applyMap(cols, s.opts.Map)
	return s.cols, nil
}

func (s *streamSource) next() ([]byte, error) {
	if s.opts.Format == FormatBinary {
		if s.chunk == nil {
			s.chunk = make([]byte, binaryChunkSize)
		}
		n, err := io.ReadFull(s.br, s.chunk)
		if n > 0 {
			return s.chunk[:n], nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, err
	}

	for {
		line, err := s.br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if line[len(line)-1] != '\n' {
				line = append(line, '\n')
			}
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *streamSource) drain(ctx context.Context, w io.Writer) error {
	return feed(ctx, s, w)
}

// feed copies every record of a continuous adapter to w.
func feed(ctx context.Context, a readAdapter, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := a.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
}
