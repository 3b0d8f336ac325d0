package index

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/zulandar/datayard/internal/coerce"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reserved document fields.
const (
	FieldID           = "id"
	FieldDatasetSlug  = "dataset_slug"
	FieldDataUploadID = "data_upload_id"
	FieldData         = "data"
	FieldFullText     = "full_text"
)

// Document is one dataset row in the index: the raw cells plus a typed
// secondary field per indexed column, keyed by indexed name.
type Document struct {
	ID           string
	DatasetSlug  string
	DataUploadID string
	Data         []string
	Fields       map[string]coerce.Value
	// Stored holds any other fields returned by a query, undecoded.
	Stored map[string]any
}

// MarshalJSON flattens the document into the index's field layout. Raw
// cells are stored as a JSON string so empty cells and order survive.
func (d Document) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		FieldID:          d.ID,
		FieldDatasetSlug: d.DatasetSlug,
		FieldData:        string(data),
		FieldFullText:    strings.Join(d.Data, "\n"),
	}
	if d.DataUploadID != "" {
		m[FieldDataUploadID] = d.DataUploadID
	}
	for name, v := range d.Fields {
		if v.IsNull() {
			continue
		}
		m[name] = v.Interface()
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a stored document back. Typed fields are kept in
// Stored since their declared types live in the dataset schema.
func (d *Document) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*d = Document{Stored: make(map[string]any)}
	for k, v := range m {
		switch k {
		case FieldID:
			d.ID = fmt.Sprint(v)
		case FieldDatasetSlug:
			d.DatasetSlug = fmt.Sprint(v)
		case FieldDataUploadID:
			d.DataUploadID = fmt.Sprint(v)
		case FieldData:
			cells, err := decodeData(v)
			if err != nil {
				return fmt.Errorf("index: document %v data: %w", m[FieldID], err)
			}
			d.Data = cells
		case FieldFullText:
		default:
			d.Stored[k] = v
		}
	}
	return nil
}

// decodeData accepts the stored JSON string or, from a multi-valued field,
// a list of strings.
func decodeData(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		var cells []string
		if err := json.Unmarshal([]byte(t), &cells); err != nil {
			return nil, err
		}
		return cells, nil
	case []any:
		cells := make([]string, len(t))
		for i, c := range t {
			cells[i] = fmt.Sprint(c)
		}
		return cells, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected type %T", v)
}
