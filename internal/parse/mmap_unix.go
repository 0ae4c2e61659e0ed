//go:build unix

package parse

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, noRelease, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, noRelease, err
	}
	size := info.Size()
	if size == 0 {
		return nil, noRelease, nil
	}
	if int64(int(size)) != size {
		return nil, noRelease, fmt.Errorf("mmap %s: file too large", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// some filesystems refuse mmap; fall back to a plain read
		plain, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, noRelease, rerr
		}
		return plain, noRelease, nil
	}
	return data, func() { _ = unix.Munmap(data) }, nil
}
