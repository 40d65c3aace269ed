package iconindex

import (
	"bufio"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/vmihailenco/msgpack"
)

// snapshot is the serialized form handed to worker processes so each of
// them loads the index once instead of rescanning the listing.
type snapshot struct {
	Icons    map[string][]candidate `msgpack:"icons"`
	Packages map[string]string      `msgpack:"packages"`
	Lines    int                    `msgpack:"lines"`
}

// Save writes the index to path atomically.
func (idx *Index) Save(path string) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("create index snapshot: %w", err)
	}
	defer t.Cleanup()

	w := bufio.NewWriter(t)
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(&snapshot{Icons: idx.icons, Packages: idx.packages, Lines: idx.lines}); err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace index snapshot: %w", err)
	}
	return nil
}

// Load reads an index written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(bufio.NewReader(f)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot %s: %w", path, err)
	}

	idx := New()
	if snap.Icons != nil {
		idx.icons = snap.Icons
	}
	if snap.Packages != nil {
		idx.packages = snap.Packages
	}
	idx.lines = snap.Lines
	return idx, nil
}
