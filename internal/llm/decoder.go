package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// streamChunk is one line of a /api/generate response. Response is a pointer
// so that a missing field (the final metadata object) is distinguishable from
// an empty fragment.
type streamChunk struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

// ChunkDecoder turns a newline-delimited JSON byte stream into text fragments.
//
// Reads may return any number of bytes; lines are reassembled before decoding,
// so an object split across reads decodes the same as one delivered whole.
// Malformed lines are logged and skipped.
type ChunkDecoder struct {
	reader *bufio.Reader
	logger *slog.Logger
	err    error
}

// NewChunkDecoder creates a decoder reading from r. A nil logger uses slog.Default().
func NewChunkDecoder(r io.Reader, logger *slog.Logger) *ChunkDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkDecoder{
		reader: bufio.NewReader(r),
		logger: logger,
	}
}

// Next returns the next fragment. It returns io.EOF once the underlying reader
// is exhausted, or a wrapped read error if the transport fails.
func (d *ChunkDecoder) Next() (string, error) {
	for d.err == nil {
		line, err := d.reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
			} else {
				d.err = fmt.Errorf("reading stream: %w", err)
				return "", d.err
			}
		}

		// A trailing line without a newline is still decoded at EOF.
		if fragment, ok := d.decodeLine(line); ok {
			return fragment, nil
		}
	}
	return "", d.err
}

func (d *ChunkDecoder) decodeLine(line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}

	var chunk streamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		d.logger.Warn("error parsing ollama response",
			"error", err,
			"chunk", string(line),
		)
		return "", false
	}

	if chunk.Response == nil {
		return "", false
	}
	return *chunk.Response, true
}
