package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// The nbformat v4 subset mercury reads and writes.
type nbFile struct {
	Cells         []nbCell                   `json:"cells"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	NBFormat      int                        `json:"nbformat"`
	NBFormatMinor int                        `json:"nbformat_minor"`
}

type nbCell struct {
	ID             string         `json:"id,omitempty"`
	CellType       string         `json:"cell_type"`
	Source         multiline      `json:"source"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []nbOutput     `json:"outputs,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

type nbOutput struct {
	OutputType     string                     `json:"output_type"`
	Data           map[string]json.RawMessage `json:"data,omitempty"`
	Metadata       map[string]any             `json:"metadata,omitempty"`
	Name           string                     `json:"name,omitempty"`
	Text           multiline                  `json:"text,omitempty"`
	ExecutionCount *int                       `json:"execution_count,omitempty"`
	EName          string                     `json:"ename,omitempty"`
	EValue         string                     `json:"evalue,omitempty"`
	Traceback      []string                   `json:"traceback,omitempty"`
}

// multiline accepts nbformat's "string or list of strings" encoding.
type multiline string

func (m *multiline) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("[")) {
		var parts []string
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*m = multiline(strings.Join(parts, ""))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*m = multiline(s)
	return nil
}

// Load reads an .ipynb file into a Document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	doc, err := Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse notebook %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes notebook JSON. path is recorded on the document only.
func Parse(path string, data []byte) (*Document, error) {
	var f nbFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.NBFormat != 0 && f.NBFormat < 4 {
		return nil, fmt.Errorf("unsupported nbformat %d", f.NBFormat)
	}

	cells := make([]*Cell, 0, len(f.Cells))
	for i, nc := range f.Cells {
		id := nc.ID
		if id == "" {
			id = fmt.Sprintf("cell-%d", i)
		}
		var c *Cell
		switch Kind(nc.CellType) {
		case KindCode:
			outs := make([]Output, 0, len(nc.Outputs))
			for _, no := range nc.Outputs {
				outs = append(outs, Output{
					Type:           no.OutputType,
					Data:           no.Data,
					Name:           no.Name,
					Text:           string(no.Text),
					ExecutionCount: no.ExecutionCount,
					ErrorName:      no.EName,
					ErrorValue:     no.EValue,
					Traceback:      no.Traceback,
				})
			}
			c = NewCodeCell(id, string(nc.Source), outs...)
			if nc.ExecutionCount != nil {
				c.SetExecutionCount(*nc.ExecutionCount)
			}
		case KindMarkdown:
			c = NewMarkdownCell(id, string(nc.Source))
		case KindRaw:
			c = NewRawCell(id, string(nc.Source))
		default:
			return nil, fmt.Errorf("cell %d: unknown cell_type %q", i, nc.CellType)
		}
		c.Metadata = nc.Metadata
		cells = append(cells, c)
	}

	doc := NewDocument(path, cells...)
	for k, v := range f.Metadata {
		if k == MetadataKey {
			var m Metadata
			if err := json.Unmarshal(v, &m); err != nil {
				return nil, fmt.Errorf("metadata.%s: %w", MetadataKey, err)
			}
			doc.meta = m
			continue
		}
		doc.extra[k] = v
	}
	return doc, nil
}

// Save writes the document back as nbformat 4.5 JSON.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write notebook: %w", err)
	}
	return nil
}

// Marshal encodes the document as nbformat JSON.
func (d *Document) Marshal() ([]byte, error) {
	f := nbFile{NBFormat: 4, NBFormatMinor: 5, Metadata: map[string]json.RawMessage{}}

	d.mu.Lock()
	for k, v := range d.extra {
		raw, err := json.Marshal(v)
		if err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("metadata.%s: %w", k, err)
		}
		f.Metadata[k] = raw
	}
	meta, err := json.Marshal(d.meta)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("metadata.%s: %w", MetadataKey, err)
	}
	f.Metadata[MetadataKey] = meta

	for _, c := range d.Cells.Items() {
		nc := nbCell{ID: c.ID, CellType: string(c.Kind), Source: multiline(c.Source()), Metadata: c.Metadata}
		if nc.Metadata == nil {
			nc.Metadata = map[string]any{}
		}
		if c.IsCode() {
			if n, ok := c.ExecutionCount(); ok {
				nc.ExecutionCount = &n
			}
			for _, o := range c.Outputs.Items() {
				nc.Outputs = append(nc.Outputs, nbOutput{
					OutputType:     o.Type,
					Data:           o.Data,
					Name:           o.Name,
					Text:           multiline(o.Text),
					ExecutionCount: o.ExecutionCount,
					EName:          o.ErrorName,
					EValue:         o.ErrorValue,
					Traceback:      o.Traceback,
				})
			}
		}
		f.Cells = append(f.Cells, nc)
	}
	return json.MarshalIndent(f, "", " ")
}
