// Package iohelper provides safe file write helpers shared by the
// persistence layers.
package iohelper

import (
	"fmt"
	"os"
)

// WriteFileAtomic writes data to path via a same-directory temp file and
// rename. Readers never see a partially written file, and a crash leaves
// the previous contents intact.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("iohelper: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("iohelper: rename %s: %w", tmp, err)
	}
	return nil
}
