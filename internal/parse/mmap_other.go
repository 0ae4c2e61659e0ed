//go:build !unix

package parse

import "os"

func mapFile(path string) ([]byte, func(), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, noRelease, err
	}
	return data, noRelease, nil
}
