package migrations

import _ "embed"

//go:embed schema.sql
var initialSchema string

// InitialSchema returns the embedded database schema.
func InitialSchema() string {
	return initialSchema
}
