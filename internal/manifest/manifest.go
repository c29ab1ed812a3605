package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/hash"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Manifest records one committed generation of an item.
type Manifest struct {
	Version      int       `json:"version"`
	Generation   uint64    `json:"generation"`
	CreatedAt    time.Time `json:"created_at"`
	PartitionKey []string  `json:"partition_key"`
	// Partitions lists the partition directories written by the commit.
	// Appends may add more without a new manifest.
	Partitions []string `json:"partitions"`
	Files      int      `json:"files"`
	Rows       int64    `json:"rows"`
	// Checksum is the CRC32C of the manifest encoded with Checksum zeroed.
	Checksum uint32 `json:"checksum"`
}

func (m *Manifest) checksum() (uint32, error) {
	c := *m
	c.Checksum = 0
	b, err := codec.Default.Marshal(&c)
	if err != nil {
		return 0, err
	}
	return hash.CRC32C(b), nil
}

// FileName returns the manifest file name for a generation.
func FileName(gen uint64) string {
	return fmt.Sprintf("%s-%06d.json", ManifestFileName, gen)
}

// ParseFileName returns the generation encoded in a manifest file name.
func ParseFileName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, ManifestFileName+"-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return gen, true
}

// Store manages the manifests of one item directory.
type Store struct {
	fs  fs.FileSystem
	dir string
	mu  sync.Mutex
}

// NewStore creates a manifest store rooted at dir. A nil fsys selects fs.Default.
func NewStore(fsys fs.FileSystem, dir string) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Store{fs: fsys, dir: dir}
}

// Dir returns the item directory.
func (s *Store) Dir() string { return s.dir }

// Current returns the committed generation by reading CURRENT only.
func (s *Store) Current() (uint64, error) {
	b, err := fs.ReadFile(s.fs, filepath.Join(s.dir, CurrentFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	gen, ok := ParseFileName(strings.TrimSpace(string(b)))
	if !ok {
		return 0, fmt.Errorf("%w: CURRENT holds %q", ErrCorrupt, string(b))
	}
	return gen, nil
}

// Load loads the current manifest.
func (s *Store) Load() (*Manifest, error) {
	gen, err := s.Current()
	if err != nil {
		return nil, err
	}
	return s.LoadVersion(gen)
}

// LoadVersion loads the manifest of a specific generation.
func (s *Store) LoadVersion(gen uint64) (*Manifest, error) {
	name := FileName(gen)
	b, err := fs.ReadFile(s.fs, filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	m := &Manifest{}
	if err := codec.Default.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %s has version %d", ErrIncompatibleVersion, name, m.Version)
	}
	sum, err := m.checksum()
	if err != nil {
		return nil, err
	}
	if sum != m.Checksum {
		return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, name)
	}
	return m, nil
}

// Commit writes MANIFEST-<gen>.json and then atomically points CURRENT at it.
// Until CURRENT is replaced the previous generation stays visible.
func (s *Store) Commit(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.writeManifest(m)
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(s.fs, filepath.Join(s.dir, CurrentFileName), []byte(name), 0o644)
}

// Init publishes m only if the directory has no CURRENT yet. It reports
// false, leaving the published generation alone, when another writer got
// there first.
func (s *Store) Init(m *Manifest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := filepath.Join(s.dir, CurrentFileName)
	if ok, err := fs.Exists(s.fs, cur); err != nil || ok {
		return false, err
	}
	name, err := s.writeManifest(m)
	if err != nil {
		return false, err
	}
	return s.createCurrent(cur, []byte(name))
}

// createCurrent hard-links a fully written temp file to CURRENT, which fails
// if CURRENT exists. File systems without hard links get an O_EXCL create.
func (s *Store) createCurrent(cur string, data []byte) (bool, error) {
	tmp := fs.TempName(cur)
	if err := fs.WriteFileAtomic(s.fs, tmp, data, 0o644); err != nil {
		return false, err
	}
	defer s.fs.Remove(tmp)

	err := s.fs.Link(tmp, cur)
	switch {
	case err == nil:
		return true, fs.SyncDir(s.fs, s.dir)
	case errors.Is(err, os.ErrExist):
		return false, nil
	}

	f, err := s.fs.OpenFile(cur, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err == nil, err
}

func (s *Store) writeManifest(m *Manifest) (string, error) {
	if m.Generation == 0 {
		return "", fmt.Errorf("manifest: generation must be positive")
	}
	m.Version = CurrentVersion
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	sum, err := m.checksum()
	if err != nil {
		return "", err
	}
	m.Checksum = sum
	b, err := codec.Default.Marshal(m)
	if err != nil {
		return "", err
	}
	name := FileName(m.Generation)
	return name, fs.WriteFileAtomic(s.fs, filepath.Join(s.dir, name), b, 0o644)
}

// ListVersions returns the generations that have a manifest file, ascending.
// Unparseable names are skipped.
func (s *Store) ListVersions() ([]uint64, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var gens []uint64
	for _, e := range entries {
		if gen, ok := ParseFileName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// DeleteVersion deletes the manifest file for the given generation.
func (s *Store) DeleteVersion(gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.fs.Remove(filepath.Join(s.dir, FileName(gen)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Prune deletes every manifest other than keep.
func (s *Store) Prune(keep uint64) error {
	gens, err := s.ListVersions()
	if err != nil {
		return err
	}
	var errs []error
	for _, gen := range gens {
		if gen != keep {
			errs = append(errs, s.DeleteVersion(gen))
		}
	}
	return errors.Join(errs...)
}
