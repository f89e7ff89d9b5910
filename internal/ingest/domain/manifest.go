package domain

import (
	"strings"
	"time"

	clipdomain "github.com/offsetsdb/offsetsdb/internal/clip/domain"
	creditdomain "github.com/offsetsdb/offsetsdb/internal/credit/domain"
	projectdomain "github.com/offsetsdb/offsetsdb/internal/project/domain"
)

// FileCategory identifies which entity a source file carries.
type FileCategory string

const (
	CategoryProjects FileCategory = "projects"
	CategoryCredits  FileCategory = "credits"
	CategoryClips    FileCategory = "clips"
	CategoryUnknown  FileCategory = "unknown"
)

// ParseCategory maps a raw category name onto the enumeration.
func ParseCategory(raw string) FileCategory {
	switch FileCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryProjects:
		return CategoryProjects
	case CategoryCredits:
		return CategoryCredits
	case CategoryClips:
		return CategoryClips
	default:
		return CategoryUnknown
	}
}

// Entry describes one source file of a refresh run.
type Entry struct {
	URL      string       `json:"url"`
	Category FileCategory `json:"category"`
	Checksum string       `json:"checksum,omitempty"`
	ByteSize int64        `json:"byte_size,omitempty"`
	RowCount int64        `json:"row_count,omitempty"`

	// FileID links the entry to a files-table audit row when the run
	// was submitted through the API. Zero when the CLI resolved the
	// manifest itself.
	FileID int64 `json:"-"`
}

// Manifest lists the input files for one ingestion run. It is produced
// externally (or discovered from the bucket layout) and consumed by
// the fetcher.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"files"`
}

// LocalFile is a manifest entry that has been downloaded and
// checksum-verified into local staging storage.
type LocalFile struct {
	Entry
	Path string `json:"path"`
}

// LocalManifest is the fully assembled local input set for validation
// and load. The caller owns StagingDir and removes it once the files
// have been consumed.
type LocalManifest struct {
	Manifest
	Files      []LocalFile `json:"local_files"`
	StagingDir string      `json:"-"`
}

// Dataset is the validated, typed content of a LocalManifest.
type Dataset struct {
	Projects     []projectdomain.Project
	Credits      []creditdomain.Credit
	Clips        []clipdomain.Clip
	ClipProjects []clipdomain.ClipProject

	// Categories present in the manifest, in load order.
	Categories []FileCategory
	// Declared maps each category to the manifest's declared row count
	// (zero when the manifest did not declare one).
	Declared map[FileCategory]int64
	// RecordedAt is the manifest timestamp stamped onto every loaded
	// row and used for last-writer-wins merging.
	RecordedAt time.Time
}

// Has reports whether the dataset carries the given category.
func (d *Dataset) Has(category FileCategory) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// LoadResult reports what one load/swap did to the live table set.
type LoadResult struct {
	RowsBefore map[string]int64 `json:"rows_before"`
	RowsAfter  map[string]int64 `json:"rows_after"`
	Loaded     map[string]int64 `json:"loaded"`
	Anomalies  []Anomaly        `json:"anomalies,omitempty"`
}
