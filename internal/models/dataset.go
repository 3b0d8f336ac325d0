package models

import (
	"time"

	"github.com/zulandar/datayard/internal/schema"
	"gorm.io/datatypes"
)

// Dataset is a catalog entry whose rows live in the index.
type Dataset struct {
	Slug          string `gorm:"primaryKey;size:128"`
	Name          string `gorm:"size:256;not null"`
	Description   string `gorm:"type:text"`
	ColumnSchema  datatypes.JSONType[[]schema.Column]
	RowCount      *int
	Locked        bool       `gorm:"default:false;index"`
	LockedAt      *time.Time `gorm:"precision:6"`
	CurrentTaskID *string    `gorm:"size:36"`
	Creator       string     `gorm:"size:128"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Columns returns the dataset's column schema, nil when none is set yet.
func (d *Dataset) Columns() []schema.Column {
	return d.ColumnSchema.Data()
}

// SetColumns replaces the column schema.
func (d *Dataset) SetColumns(cols []schema.Column) {
	d.ColumnSchema = datatypes.NewJSONType(cols)
}

// HasSchema reports whether a column schema has been established.
func (d *Dataset) HasSchema() bool {
	return len(d.Columns()) > 0
}

// Rows returns RowCount or zero.
func (d *Dataset) Rows() int {
	if d.RowCount == nil {
		return 0
	}
	return *d.RowCount
}
