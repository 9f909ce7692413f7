package engine

import (
	"path/filepath"
	"strconv"

	"crashdb/file"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// MetaFile records the settings a database directory was created with. Page addresses and the page LSNs
// stored in them only make sense at the original block size, so it cannot change afterwards.
//
//	[storage]
//	block_size = 4096
const MetaFile = "crashdb.meta"

// checkLayout writes MetaFile on first use of a directory and afterwards rejects a different block size.
func checkLayout(fm *file.Manager) error {
	path := filepath.Join(fm.Dir(), MetaFile)
	if !fm.Exists(MetaFile) {
		meta := ini.Empty()
		sec, err := meta.NewSection("storage")
		if err != nil {
			return errors.Wrap(err, "cannot build database metadata")
		}
		if _, err := sec.NewKey("block_size", strconv.Itoa(fm.BlockSize())); err != nil {
			return errors.Wrap(err, "cannot build database metadata")
		}
		return errors.Wrapf(meta.SaveTo(path), "cannot write %s", path)
	}

	meta, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s", path)
	}
	stored, err := meta.Section("storage").Key("block_size").Int()
	if err != nil {
		return errors.Wrapf(err, "%s has no valid block_size", path)
	}
	if stored != fm.BlockSize() {
		return errors.Errorf("database in %s uses block size %d, not %d", fm.Dir(), stored, fm.BlockSize())
	}
	return nil
}
