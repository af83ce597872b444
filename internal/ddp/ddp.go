// Package ddp recognizes which known export variant a user-supplied data
// download package is. A platform declares an ordered list of categories
// (file layout x language x container type); the classifier fingerprints an
// archive by the overlap between its member names and each category's known
// files.
package ddp

import (
	"archive/zip"
	"path"
	"strings"
)

// Filetype is the container type of a category's payload files.
type Filetype string

const (
	FiletypeJSON Filetype = "json"
	FiletypeHTML Filetype = "html"
	FiletypeCSV  Filetype = "csv"
	FiletypeTXT  Filetype = "txt"
)

// Language is the UI language the export was generated under. File names and
// scraped copy differ per language, so extraction routes on it.
type Language string

const (
	LanguageEN Language = "en"
	LanguageNL Language = "nl"
)

// StatusCode is one entry of a platform's fixed rejection catalogue.
// ID 0 always means recognized; any other id is a distinct rejection reason.
type StatusCode struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Category describes one concrete shape a platform's export can take.
type Category struct {
	ID         string   `json:"id"`
	Filetype   Filetype `json:"filetype"`
	Language   Language `json:"language"`
	KnownFiles []string `json:"known_files"`
}

// Classification is the immutable result of one validation attempt. Category
// is nil unless Status.ID == 0.
type Classification struct {
	Status   StatusCode `json:"status"`
	Category *Category  `json:"category,omitempty"`
}

// Recognized reports whether the archive matched a known category.
func (c Classification) Recognized() bool {
	return c.Status.ID == 0 && c.Category != nil
}

// Options tune the classifier match rule.
type Options struct {
	// MatchThreshold is the minimum fraction of a category's known files that
	// must be present in the archive. Zero keeps the default rule: any
	// overlap (at least one known file) matches.
	MatchThreshold float64
}

// Classify picks the first category, in declared order, whose known files
// overlap the archive's member names. Declared order encodes priority: when
// several categories overlap, the earliest wins regardless of overlap size.
func Classify(names []string, categories []Category, opts Options) (Category, bool) {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, cat := range categories {
		overlap := 0
		for _, f := range cat.KnownFiles {
			if present[f] {
				overlap++
			}
		}
		if matches(overlap, len(cat.KnownFiles), opts.MatchThreshold) {
			return cat, true
		}
	}
	return Category{}, false
}

func matches(overlap, known int, threshold float64) bool {
	if overlap == 0 {
		return false
	}
	if threshold <= 0 {
		return true
	}
	if known == 0 {
		return false
	}
	return float64(overlap)/float64(known) >= threshold
}

// dataSuffixes are the member extensions a DDP can carry payload data in.
// Anything else (media, css, fonts) is ignored when fingerprinting.
var dataSuffixes = map[string]bool{
	".json": true,
	".csv":  true,
	".html": true,
	".txt":  true,
}

// ScanZip lists the base names of an archive's data members. A nil error with
// an empty list means the zip opened fine but carries no data files at all.
func ScanZip(zipPath string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		base := path.Base(f.Name)
		if dataSuffixes[strings.ToLower(path.Ext(base))] {
			names = append(names, base)
		}
	}
	return names, nil
}

// Catalogue pairs a platform's status codes with its categories. It is built
// once at startup and never mutated.
type Catalogue struct {
	Statuses   []StatusCode
	Categories []Category
}

// Status looks up a status code by id, falling back to a bare code when the
// catalogue misses it.
func (c Catalogue) Status(id int) StatusCode {
	for _, s := range c.Statuses {
		if s.ID == id {
			return s
		}
	}
	return StatusCode{ID: id, Description: "unknown status"}
}

// Reserved status ids shared by every platform catalogue.
const (
	StatusValid           = 0
	StatusUnhandledFormat = 1
	StatusNotValidPackage = 2
	StatusBadArchive      = 3
)

// ValidateZip opens the archive, fingerprints its member names against the
// catalogue and returns the resulting classification. The archive handle is
// closed before returning; nothing is retained for later suspensions.
//
// Failure modes are distinct on purpose: a corrupt container maps to
// StatusBadArchive, a healthy container without any data members to
// StatusNotValidPackage, and a healthy container whose layout is unknown to
// StatusUnhandledFormat, so the user can be told whether retrying with a
// different file makes sense.
func ValidateZip(zipPath string, cat Catalogue, opts Options) Classification {
	names, err := ScanZip(zipPath)
	if err != nil {
		return Classification{Status: cat.Status(StatusBadArchive)}
	}
	if len(names) == 0 {
		return Classification{Status: cat.Status(StatusNotValidPackage)}
	}
	matched, ok := Classify(names, cat.Categories, opts)
	if !ok {
		return Classification{Status: cat.Status(StatusUnhandledFormat)}
	}
	return Classification{Status: cat.Status(StatusValid), Category: &matched}
}
