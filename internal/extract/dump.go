package extract

import (
	"archive/zip"
	"encoding/json"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"portside/internal/denest"
)

// DumpJSON flattens every JSON member of the archive into one big
// file/key/value frame. Useful to eyeball an unknown export before writing a
// proper extractor for it.
func DumpJSON(zipPath string, log *zap.Logger) Frame {
	if log == nil {
		log = zap.NewNop()
	}
	f := Frame{Columns: []string{"file name", "key", "value"}}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		log.Error("dump: open archive failed", zap.Error(err))
		return f
	}
	defer r.Close()

	for _, member := range r.File {
		base := path.Base(member.Name)
		if strings.ToLower(path.Ext(base)) != ".json" {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			log.Error("dump: open member failed", zap.String("member", member.Name), zap.Error(err))
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Error("dump: read member failed", zap.String("member", member.Name), zap.Error(err))
			continue
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			log.Error("dump: member not valid json", zap.String("member", member.Name), zap.Error(err))
			continue
		}
		tree := denest.Flatten(v)
		for _, k := range tree.Keys() {
			f.Append(base, k, tree.String(k))
		}
	}
	return f
}
