package models

import (
	"path"
	"time"

	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/reader"
)

// UploadKind distinguishes the extensions an Upload may carry.
type UploadKind string

const (
	UploadData    UploadKind = "data"
	UploadRelated UploadKind = "related"
	UploadExport  UploadKind = "export"
)

// Upload is a stored file. The shared fields live here; exactly one of
// Data, Related or Export is set according to Kind.
type Upload struct {
	ID               string     `gorm:"primaryKey;size:36"`
	Kind             UploadKind `gorm:"size:16;not null;index"`
	Filename         string     `gorm:"size:256;not null"`
	OriginalFilename string     `gorm:"size:256"`
	Size             int64
	Creator          string  `gorm:"size:128"`
	DatasetSlug      *string `gorm:"size:128;index"`
	CreatedAt        time.Time

	Data    *DataUpload    `gorm:"serializer:json;type:text"`
	Related *RelatedUpload `gorm:"serializer:json;type:text"`
	Export  *ExportUpload  `gorm:"serializer:json;type:text"`
}

// DataUpload is what registration learned about an importable file.
type DataUpload struct {
	Encoding     string         `json:"encoding"`
	Format       reader.Format  `json:"format"`
	Dialect      reader.Dialect `json:"dialect"`
	Columns      []string       `json:"columns"`
	SampleRows   [][]string     `json:"sample_rows"`
	GuessedTypes []coerce.Type  `json:"guessed_types"`
	Imported     bool           `json:"imported"`
}

// RelatedUpload is a supporting document attached to a dataset.
type RelatedUpload struct {
	Title string `json:"title"`
}

// ExportUpload records the query an export artifact was produced from.
type ExportUpload struct {
	Query        string `json:"query"`
	DatasetCount int    `json:"dataset_count"`
}

// Dir is the storage directory for uploads of kind k.
func (k UploadKind) Dir() string {
	switch k {
	case UploadExport:
		return "exports"
	case UploadRelated:
		return "related"
	}
	return "uploads"
}

// StoragePath is the upload's path relative to the storage root.
func (u *Upload) StoragePath() string {
	return path.Join(u.Kind.Dir(), u.Filename)
}

// Imported reports whether a data upload's rows are in the index.
func (u *Upload) Imported() bool {
	return u.Data != nil && u.Data.Imported
}
