package parse

import (
	"bytes"
)

// forEachLine calls fn for every non-blank line of data with any trailing
// carriage return removed. It stops early when fn returns false.
func forEachLine(data []byte, fn func(line []byte) bool) {
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !fn(line) {
			return
		}
	}
}

// scanPrefix feeds lines from the start of path to fn, reading fixed-size
// chunks at increasing offsets until fn returns false or the file ends.
// It reports whether the whole file was consumed.
func scanPrefix(fsys FS, path string, fn func(line []byte) bool) (bool, error) {
	var (
		off     int64
		pending []byte
		stopped bool
	)
	for !stopped {
		chunk, err := fsys.ReadRange(path, off, readChunk)
		if err != nil {
			return false, err
		}
		off += int64(len(chunk))
		eof := len(chunk) < readChunk

		buf := append(pending, chunk...)
		end := bytes.LastIndexByte(buf, '\n')
		if eof {
			end = len(buf)
		}
		if end < 0 {
			if len(buf) > maxLineSize {
				// the rest of an oversized line fails to decode and is skipped
				buf = nil
			}
			pending = buf
			continue
		}

		complete := buf[:end]
		pending = append([]byte(nil), buf[min(end+1, len(buf)):]...)
		forEachLine(complete, func(line []byte) bool {
			if !fn(line) {
				stopped = true
				return false
			}
			return true
		})
		if eof {
			return !stopped, nil
		}
	}
	return false, nil
}
