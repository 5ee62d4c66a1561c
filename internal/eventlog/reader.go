package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ReadFile returns every complete, well-formed record in path. A missing
// file yields no records and no error; a trailing line without a newline is
// treated as still being written and left for the next read.
func ReadFile(path string) ([]Record, error) {
	var out []Record
	err := Scan(path, func(r Record) bool {
		out = append(out, r)
		return true
	})
	return out, err
}

// Scan rereads path from the start and calls fn for each record until fn
// returns false. Scan keeps no state between calls.
func Scan(path string, fn func(Record) bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading event log: %w", err)
	}
	scanLines(data, fn)
	return nil
}

// scanLines feeds complete lines of data to fn and returns the number of
// bytes consumed, which always ends on a newline boundary.
func scanLines(data []byte, fn func(Record) bool) int {
	off := 0
	for off < len(data) {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(data[off : off+i])
		off += i + 1
		if len(line) == 0 {
			continue
		}
		rec, ok := Parse(line)
		if !ok {
			continue
		}
		if !fn(rec) {
			return off
		}
	}
	return off
}

// Tail reads a log incrementally. It remembers the byte offset of the last
// complete line and buffers a trailing partial line until it is finished.
// A file that shrinks is assumed to have been truncated and is reread.
type Tail struct {
	path    string
	offset  int64
	partial []byte
}

func NewTail(path string) *Tail {
	return &Tail{path: path}
}

// Path returns the file being followed.
func (t *Tail) Path() string {
	return t.path
}

// Next returns the records completed since the previous call.
func (t *Tail) Next() ([]Record, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking event log: %w", err)
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	t.offset += int64(len(chunk))

	data := append(t.partial, chunk...)
	var out []Record
	n := scanLines(data, func(r Record) bool {
		out = append(out, r)
		return true
	})
	t.partial = append([]byte(nil), data[n:]...)
	return out, nil
}
