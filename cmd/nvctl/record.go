package main

import (
	"nvcore/pkg/dto"
)

// record is a schemaless entity: the CLI reads and writes arbitrary
// collections, so the body is carried as-is.
type record struct {
	dto.Base
	fields dto.Document
}

// Body returns the record's business fields.
func (r *record) Body() (dto.Document, error) { return r.fields, nil }

var reserved = map[string]bool{
	dto.FieldID:        true,
	dto.FieldCreatedAt: true,
	dto.FieldUpdatedAt: true,
	dto.FieldUpdatedBy: true,
	dto.FieldOwner:     true,
}

// recordType builds the descriptor for a collection of schemaless records.
func recordType(collection string, hints []dto.IndexHint) dto.Type[*record] {
	return dto.Type[*record]{
		Collection: collection,
		Indexes:    hints,
		Hydrate: func(doc dto.Document, _ dto.HydrateOptions) (*record, error) {
			rec := &record{fields: dto.Document{}}
			if err := rec.LoadMeta(doc); err != nil {
				return nil, err
			}
			for k, v := range doc {
				if !reserved[k] {
					rec.fields[k] = v
				}
			}
			return rec, nil
		},
	}
}

// document renders the record as its full stored document for output.
func (r *record) document() (dto.Document, error) { return dto.DocumentOf(r) }
