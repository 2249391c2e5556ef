package compiler

import (
	"os"
	"path/filepath"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

// WriteFile atomically replaces name with an executable holding data.
// Nothing is left behind on failure.
func WriteFile(name string, data []byte) (err error) {
	dir, base := filepath.Split(name)
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return diag.Wrap(diag.KindEmit, err, diag.Where{}, "create output %v", name)
	}

	tmp := f.Name()

	defer func() {
		if err == nil {
			return
		}

		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	if _, err = f.Write(data); err != nil {
		return diag.Wrap(diag.KindEmit, err, diag.Where{}, "write output %v", name)
	}

	if err = f.Chmod(0o755); err != nil {
		return diag.Wrap(diag.KindEmit, err, diag.Where{}, "chmod output %v", name)
	}

	if err = f.Sync(); err != nil {
		return diag.Wrap(diag.KindEmit, err, diag.Where{}, "sync output %v", name)
	}

	if err = f.Close(); err != nil {
		return diag.Wrap(diag.KindEmit, err, diag.Where{}, "close output %v", name)
	}

	if err = os.Rename(tmp, name); err != nil {
		return diag.Wrap(diag.KindEmit, err, diag.Where{}, "rename output %v", name)
	}

	return nil
}
