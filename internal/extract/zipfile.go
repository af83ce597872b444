package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
)

// ReadMember reads the bytes of the archive member whose base name equals
// name, wherever it sits in the directory tree. The archive is opened and
// closed within the call.
func ReadMember(zipPath, name string) ([]byte, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if path.Base(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read member %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("member %s not found in %s", name, zipPath)
}
