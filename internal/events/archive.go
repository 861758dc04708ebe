package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"credchain/internal/domain"
)

// WriteArchive encodes evts as zstd-compressed JSON lines.
func WriteArchive(w io.Writer, evts []domain.Event) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	for _, evt := range evts {
		b, err := json.Marshal(evt)
		if err != nil {
			_ = enc.Close()
			return err
		}
		if _, err := bw.Write(b); err != nil {
			_ = enc.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// WriteArchiveFile writes evts to path, creating parent directories.
func WriteArchiveFile(path string, evts []domain.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := WriteArchive(f, evts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadArchive decodes an archive produced by WriteArchive.
func ReadArchive(r io.Reader) ([]domain.Event, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []domain.Event
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return nil, fmt.Errorf("archive line %d: %w", line, err)
		}
		out = append(out, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
