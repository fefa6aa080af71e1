// Package searchindex provides the search document store. It is a derived
// read model: documents are rebuilt from the system of record and never read
// back as truth.
package searchindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrIndexNotFound is returned for operations on an index that was never created
	ErrIndexNotFound = errors.New("search index not found")
	// ErrDocumentNotFound is returned when deleting a key that is not indexed
	ErrDocumentNotFound = errors.New("search document not found")
	// ErrInvalidDocument is returned for documents without a usable key
	ErrInvalidDocument = errors.New("invalid search document")
	// ErrInvalidSpec is returned for malformed index definitions
	ErrInvalidSpec = errors.New("invalid index spec")
)

// FieldType describes how a field value is stored
type FieldType string

const (
	FieldString           FieldType = "string"
	FieldStringCollection FieldType = "string_collection"
	FieldDate             FieldType = "date"
	FieldCollection       FieldType = "collection" // nested objects, stored but not searchable
)

// Field is one field of an index definition
type Field struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Key        bool      `json:"key,omitempty"`
	Searchable bool      `json:"searchable,omitempty"`
	Filterable bool      `json:"filterable,omitempty"`
}

// IndexSpec defines an index
type IndexSpec struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

var (
	indexNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
	fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)
)

// Validate checks names and requires exactly one string key field
func (s IndexSpec) Validate() error {
	if !indexNamePattern.MatchString(s.Name) {
		return fmt.Errorf("%w: index name %q", ErrInvalidSpec, s.Name)
	}
	keys := 0
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if !fieldNamePattern.MatchString(f.Name) {
			return fmt.Errorf("%w: field name %q", ErrInvalidSpec, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSpec, f.Name)
		}
		seen[f.Name] = true
		if f.Key {
			if f.Type != FieldString {
				return fmt.Errorf("%w: key field %q must be a string", ErrInvalidSpec, f.Name)
			}
			keys++
		}
		if f.Searchable && f.Type != FieldString && f.Type != FieldStringCollection {
			return fmt.Errorf("%w: field %q of type %s cannot be searchable", ErrInvalidSpec, f.Name, f.Type)
		}
	}
	if keys != 1 {
		return fmt.Errorf("%w: index %q needs exactly one key field", ErrInvalidSpec, s.Name)
	}
	return nil
}

// KeyField returns the name of the key field
func (s IndexSpec) KeyField() string {
	for _, f := range s.Fields {
		if f.Key {
			return f.Name
		}
	}
	return ""
}

// SearchableFields returns the full-text fields in declaration order
func (s IndexSpec) SearchableFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Searchable {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s IndexSpec) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Document is a flat projection written to an index
type Document map[string]any

// SearchOptions narrows a search
type SearchOptions struct {
	Filter map[string]string // equality on filterable fields
	Top    int               // page size (0 = 50)
	Skip   int
}

// Hit is one matching document
type Hit struct {
	Key      string   `json:"key"`
	Score    float64  `json:"score"` // higher is better
	Document Document `json:"document"`
}

// SearchResult is a page of hits plus the total match count
type SearchResult struct {
	Count int   `json:"count"`
	Hits  []Hit `json:"hits"`
}

// Gateway is the search document store
type Gateway interface {
	CreateIndexIfNotExists(ctx context.Context, spec IndexSpec) error
	IndexDocument(ctx context.Context, index string, doc Document) error
	DeleteDocument(ctx context.Context, index, key string) error
	Search(ctx context.Context, index, text string, opts SearchOptions) (*SearchResult, error)
}
