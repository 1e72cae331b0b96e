package dsync

import "time"

// Archive keeps timestamped copies of paths inside one tree so that
// overwritten or deleted content can be recovered.
type Archive interface {
	// Root is the tree the archive belongs to.
	Root() string

	// AddVersion copies the current state of relPath into the store and
	// returns where it went. The version is recorded even if the copy fails.
	AddVersion(relPath string) (string, error)

	// Recover copies an archived version back over its original location.
	Recover(versionedPath string) error

	// RecoverLatest recovers the newest version of relPath.
	RecoverLatest(relPath string) error

	// Versions lists the recorded versions of relPath, oldest first.
	Versions(relPath string) []time.Time

	// VersionPath is where the version of relPath taken at t is stored.
	VersionPath(relPath string, t time.Time) string

	// Paths lists every relative path with at least one version.
	Paths() []string
}

// ArchiveOpener opens the archive belonging to a tree root.
type ArchiveOpener interface {
	OpenArchive(root string) (Archive, error)
}
