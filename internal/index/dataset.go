package index

import (
	"context"
	"fmt"
	"time"
)

// DatasetDocument is a dataset's entry in the datasets core, used for
// catalog search.
type DatasetDocument struct {
	Slug         string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	RowCount     int       `json:"row_count"`
	Columns      []string  `json:"columns"`
	IndexedNames []string  `json:"indexed_names,omitempty"`
	Updated      time.Time `json:"updated"`
}

// PutDataset replaces the dataset's catalog document and commits.
func (c *Client) PutDataset(ctx context.Context, core string, doc DatasetDocument) error {
	doc.Updated = doc.Updated.UTC().Truncate(time.Second)
	if err := c.update(ctx, core, []DatasetDocument{doc}, true); err != nil {
		return fmt.Errorf("index: put dataset %s: %w", doc.Slug, err)
	}
	return nil
}

// DeleteDataset removes the dataset's catalog document and commits.
func (c *Client) DeleteDataset(ctx context.Context, core, slug string) error {
	return c.Delete(ctx, core, FieldID+":"+Escape(slug), true)
}
