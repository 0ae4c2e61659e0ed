package parse

import (
	"bytes"
	"context"
	"strings"
)

const excerptRadius = 160

// FileContains reports whether path contains term, ignoring case.
func FileContains(ctx context.Context, fsys FS, path, term string) (bool, error) {
	_, ok, err := FileMatch(ctx, fsys, path, term)
	return ok, err
}

// FileMatch searches path for term, ignoring case, and returns the text
// around the first match. The file is read in chunks at explicit
// offsets; ctx is checked between chunks and cancellation ends the search
// with ctx.Err().
func FileMatch(ctx context.Context, fsys FS, path, term string) (string, bool, error) {
	needle := bytes.ToLower([]byte(term))
	if len(needle) == 0 {
		return "", false, nil
	}
	overlap := int64(len(needle) - 1)

	var (
		off  int64
		tail []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		chunk, err := fsys.ReadRange(path, off, readChunk)
		if err != nil {
			return "", false, err
		}
		off += int64(len(chunk))

		window := append(tail, chunk...)
		lower := bytes.ToLower(window)
		if i := bytes.Index(lower, needle); i >= 0 {
			src := window
			if len(lower) != len(window) {
				src = lower
			}
			return excerpt(src, i, len(needle)), true, nil
		}
		if len(chunk) < readChunk {
			return "", false, nil
		}
		keep := min(overlap, int64(len(window)))
		tail = append([]byte(nil), window[int64(len(window))-keep:]...)
	}
}

func excerpt(buf []byte, at, n int) string {
	start := max(at-excerptRadius, 0)
	end := min(at+n+excerptRadius, len(buf))
	// runes cut at the edges are dropped
	s := strings.ToValidUTF8(string(buf[start:end]), "")
	s = strings.Join(strings.Fields(strings.NewReplacer(`\n`, " ", `\t`, " ", `\"`, `"`).Replace(s)), " ")
	if start > 0 {
		s = "..." + s
	}
	if end < len(buf) {
		s += "..."
	}
	return s
}
