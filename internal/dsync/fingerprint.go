package dsync

import (
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// Fingerprint identifies one observed state of a file: its relative path and
// modification time at millisecond resolution. Equal fingerprints on both
// sides mean the file is treated as unchanged without reading its bytes.
//
// Two writes inside the same millisecond produce the same fingerprint.
func Fingerprint(relPath string, mtime time.Time) string {
	key := filepath.ToSlash(relPath) + strconv.FormatInt(mtime.UnixMilli(), 10)
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Checksum returns the CRC32 (IEEE) of the file at path.
func Checksum(fsys FilesystemManager, path string) (uint32, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return h.Sum32(), nil
}
