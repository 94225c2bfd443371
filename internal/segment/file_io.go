package segment

import (
	"fmt"
	"path/filepath"
)

// File naming for the three files one segment owns (spec §6: "<base_offset>
// padded to 20 digits" per file kind).
func logPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", baseOffset))
}

func offsetIndexPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", baseOffset))
}

func timeIndexPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.timeindex", baseOffset))
}
