package indexer

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single table column. Table definitions and INSERT statements are both derived
// from the same list so they cannot drift apart.
type ColumnDef struct {
	Name string
	// Type is the ClickHouse data type (e.g., "UInt64", "String", "DateTime64(6)").
	Type string
	// Codec is the optional compression codec (e.g., "ZSTD(1)", "Delta, ZSTD(3)").
	Codec string
}

// SQL returns the column clause of a CREATE TABLE statement, e.g. "address String CODEC(ZSTD(1))".
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", c.Name, c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Validate checks that the column has a name and a type.
func (c ColumnDef) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if c.Type == "" {
		return fmt.Errorf("column %s: type cannot be empty", c.Name)
	}
	return nil
}

// ColumnsToSchemaSQL joins column clauses for a CREATE TABLE body.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, col.SQL())
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// ColumnsToNameList returns the column names, in order, for INSERT statements.
func ColumnsToNameList(columns []ColumnDef) []string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.Name)
	}
	return names
}
