//go:build !unix

package pdl

import (
	"errors"
	"os"
)

// mapFile is unavailable here; the caller reads the file into memory.
func mapFile(f *os.File, size int64) ([]byte, func() error, error) {
	return nil, nil, errors.New("memory mapping not supported on this platform")
}
