package upsert

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

// Model is a pre-resolved table schema, typically supplied by an ORM.
type Model interface {
	// TableName is the possibly schema-qualified table name, in the form
	// accepted by ParseIdentifier.
	TableName() string
	// ColumnNames lists the table's columns in table order.
	ColumnNames() []string
	// PrimaryKey lists the primary key columns, or nil if there is none.
	PrimaryKey() []string
}

// StaticModel is a Model for callers that already know the schema.
type StaticModel struct {
	Table   string
	Columns []string
	Key     []string
}

func (m StaticModel) TableName() string     { return m.Table }
func (m StaticModel) ColumnNames() []string { return slices.Clone(m.Columns) }
func (m StaticModel) PrimaryKey() []string  { return slices.Clone(m.Key) }

type destinationKind int

const (
	destinationTable destinationKind = iota + 1
	destinationModel
)

// Destination describes the table rows are upserted into. Build one with
// TableDestination or ModelDestination; the zero value is invalid.
type Destination struct {
	kind  destinationKind
	table string
	model Model
}

// TableDestination targets a table by name. Columns and primary key are
// read from the catalog on the Writer's connection.
func TableDestination(table string) Destination {
	return Destination{kind: destinationTable, table: table}
}

// ModelDestination targets the table described by m; the catalog is not
// consulted.
func ModelDestination(m Model) Destination {
	return Destination{kind: destinationModel, model: m}
}

func (d Destination) String() string {
	switch d.kind {
	case destinationTable:
		return d.table
	case destinationModel:
		if d.model != nil {
			return d.model.TableName()
		}
	}
	return "invalid destination"
}

// writeAdapter normalizes a Destination into a table identifier, its column
// list and its primary key.
type writeAdapter interface {
	table() pgx.Identifier
	columnNames(ctx context.Context) ([]string, error)
	primaryKey(ctx context.Context) ([]string, error)
}

func (d Destination) adapter(conn Conn) (writeAdapter, error) {
	switch d.kind {
	case destinationTable:
		if len(ParseIdentifier(d.table)) == 0 {
			return nil, fmt.Errorf("%w: empty destination table name", ErrInvalidOptions)
		}
		return newCatalogTable(conn, d.table), nil
	case destinationModel:
		if d.model == nil || len(ParseIdentifier(d.model.TableName())) == 0 {
			return nil, fmt.Errorf("%w: destination model has no table name", ErrInvalidOptions)
		}
		return modelTable{m: d.model}, nil
	default:
		return nil, fmt.Errorf("%w: no destination given", ErrInvalidOptions)
	}
}

type modelTable struct {
	m Model
}

func (t modelTable) table() pgx.Identifier { return ParseIdentifier(t.m.TableName()) }

func (t modelTable) columnNames(context.Context) ([]string, error) {
	return t.m.ColumnNames(), nil
}

func (t modelTable) primaryKey(context.Context) ([]string, error) {
	return t.m.PrimaryKey(), nil
}
