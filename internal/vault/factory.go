package vault

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"dsync-go/internal/config"
	"dsync-go/internal/dsync"
)

// Opener opens the version archive of a tree as the archive config says.
type Opener struct {
	cfg    config.ArchiveConfig
	fsys   dsync.FilesystemManager
	clock  dsync.Clock
	logger dsync.Logger
}

// NewOpenerFromConfig validates cfg and returns an Opener for it.
func NewOpenerFromConfig(cfg config.ArchiveConfig, fsys dsync.FilesystemManager, clock dsync.Clock, logger dsync.Logger) (*Opener, error) {
	switch cfg.Type {
	case "", "tree":
	case "directory":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("directory archive requires dir to be set")
		}
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
	return &Opener{cfg: cfg, fsys: fsys, clock: clock, logger: logger}, nil
}

// OpenArchive opens the archive for the tree at root.
func (o *Opener) OpenArchive(root string) (dsync.Archive, error) {
	dir := ""
	if o.cfg.Type == "directory" {
		dir = filepath.Join(o.cfg.Dir, storeName(root))
	}
	a, err := OpenVersionArchive(o.fsys, root, dir, o.clock, o.logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// storeName names the store of the tree at root: the base name for
// readability and a BLAKE3 prefix of the cleaned path for uniqueness.
func storeName(root string) string {
	clean := filepath.ToSlash(filepath.Clean(root))
	sum := blake3.Sum256([]byte(clean))

	base := strings.ReplaceAll(filepath.Base(filepath.Clean(root)), ":", "")
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "root"
	}
	return base + "-" + hex.EncodeToString(sum[:8])
}

// Compile-time check that Opener implements dsync.ArchiveOpener.
var _ dsync.ArchiveOpener = (*Opener)(nil)
