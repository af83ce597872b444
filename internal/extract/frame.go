// Package extract turns a recognized data download package into named tables
// ready for consent review and donation. Each platform contributes a Platform
// value bundling its validation catalogue and extraction dispatch; everything
// else in the package is shared tabular plumbing.
package extract

import "encoding/json"

// Frame is a small column-ordered table. Records hold one string per column.
type Frame struct {
	Columns []string   `json:"columns"`
	Records [][]string `json:"records"`
}

// Empty reports whether the frame has no rows.
func (f Frame) Empty() bool { return len(f.Records) == 0 }

// Append adds one row. Short rows are padded, long rows truncated, so a frame
// stays rectangular no matter what an extractor scraped together.
func (f *Frame) Append(row ...string) {
	if len(row) < len(f.Columns) {
		padded := make([]string, len(f.Columns))
		copy(padded, row)
		row = padded
	} else if len(row) > len(f.Columns) {
		row = row[:len(f.Columns)]
	}
	f.Records = append(f.Records, row)
}

// Split cuts the frame into chunks of at most size rows. A non-positive size
// or a frame that fits returns the frame unchanged as the only chunk.
func (f Frame) Split(size int) []Frame {
	if size <= 0 || len(f.Records) <= size {
		return []Frame{f}
	}
	var chunks []Frame
	for start := 0; start < len(f.Records); start += size {
		end := start + size
		if end > len(f.Records) {
			end = len(f.Records)
		}
		chunks = append(chunks, Frame{Columns: f.Columns, Records: f.Records[start:end]})
	}
	return chunks
}

// Maps returns the rows in records orientation, one column->value map per row.
func (f Frame) Maps() []map[string]string {
	out := make([]map[string]string, 0, len(f.Records))
	for _, rec := range f.Records {
		m := make(map[string]string, len(f.Columns))
		for i, col := range f.Columns {
			if i < len(rec) {
				m[col] = rec[i]
			} else {
				m[col] = ""
			}
		}
		out = append(out, m)
	}
	return out
}

// Translatable is localized copy keyed by language code.
type Translatable map[string]string

// VizGroup selects the column and date bucketing a visualization groups by.
type VizGroup struct {
	Column     string `json:"column"`
	DateFormat string `json:"dateFormat,omitempty"`
}

// VizValue is one aggregated series of a visualization.
type VizValue struct {
	Aggregate string       `json:"aggregate,omitempty"`
	Label     Translatable `json:"label,omitempty"`
}

// Visualization describes a chart rendered next to a table during consent
// review: a wordcloud over a text column, or an area/bar chart over a grouped
// date column.
type Visualization struct {
	Title      Translatable `json:"title"`
	Type       string       `json:"type"`
	TextColumn string       `json:"textColumn,omitempty"`
	Tokenize   bool         `json:"tokenize,omitempty"`
	Group      *VizGroup    `json:"group,omitempty"`
	Values     []VizValue   `json:"values,omitempty"`
}

// Table is one named, localized table produced by extraction and shown for
// consent. It is not mutated after creation.
type Table struct {
	Name           string          `json:"name"`
	Title          Translatable    `json:"title"`
	Data           Frame           `json:"data"`
	Description    Translatable    `json:"description,omitempty"`
	Visualizations []Visualization `json:"visualizations,omitempty"`
}

// DonationDict maps a sub-key to the row payloads to donate under it instead
// of the displayed tables. Platforms whose tables are truncated for display
// fill it so the preview stays bounded while the full dataset is captured.
type DonationDict map[string][]map[string]string

// Payload serializes one dict entry the way it is donated: an object keyed by
// the entry's name.
func (d DonationDict) Payload(key string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{key: d[key]})
}
