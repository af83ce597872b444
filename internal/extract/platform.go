package extract

import (
	"bytes"
	"encoding/csv"

	"portside/internal/ddp"
)

// Platform bundles everything the workflow needs to process one platform's
// exports: the validation catalogue and the extraction dispatch. Extract is
// only called with a recognized classification; it returns the tables to
// review plus, when display rows are capped, the donation dict to donate
// instead of the tables.
type Platform struct {
	Name      string
	FileHint  string
	Catalogue ddp.Catalogue
	Validate  func(zipPath string) ddp.Classification
	Extract   func(zipPath string, c ddp.Classification) ([]Table, DonationDict)
}

// Settings tune extraction behavior shared across platforms.
type Settings struct {
	// ChunkSize caps the rows shown per table; larger tables are split and
	// fan out through the donation dict.
	ChunkSize int
	// MatchThreshold is forwarded to the classifier (zero = any overlap).
	MatchThreshold float64
}

// DefaultChunkSize is the display row cap applied when Settings leaves
// ChunkSize at zero.
const DefaultChunkSize = 250000

func (s Settings) chunkSize() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

// readCSVFrame parses CSV bytes into a Frame using the first row as header.
// Ragged rows are tolerated; a parse failure yields an empty frame.
func readCSVFrame(data []byte) Frame {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil || len(rows) == 0 {
		return Frame{}
	}
	f := Frame{Columns: rows[0]}
	for _, row := range rows[1:] {
		// exports mix encodings per locale; repair mojibake cell by cell
		for i, v := range row {
			row[i] = FixLatin1(v)
		}
		f.Append(row...)
	}
	return f
}
