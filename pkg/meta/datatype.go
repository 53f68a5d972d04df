package meta

// DataType enumerates the value kinds a Field can hold.
type DataType string

const (
	// DataTypeText is a length-limited string value.
	DataTypeText DataType = "text"
	// DataTypeNumber is a numeric value (stored as a decimal).
	DataTypeNumber DataType = "number"
	// DataTypeBoolean is a true/false value.
	DataTypeBoolean DataType = "boolean"
	// DataTypeDateTime is a point-in-time value.
	DataTypeDateTime DataType = "datetime"
	// DataTypeEnum is a string restricted to a declared value set.
	DataTypeEnum DataType = "enum"
	// DataTypeKID is a raw identifier value.
	DataTypeKID DataType = "kid"
	// DataTypeReference is a pointer to a record of another type,
	// optionally cascading on delete.
	DataTypeReference DataType = "reference"
	// DataTypeAssociation is a many-to-many relationship materialized
	// through a linking type with two reference fields.
	DataTypeAssociation DataType = "association"
	// DataTypeCollection is the virtual, read-only reverse side of a
	// reference field. It is never persisted.
	DataTypeCollection DataType = "collection"
)

// Persisted reports whether fields of this data type occupy a physical
// column. Associations live in the linking type's table and collections are
// computed at query time.
func (d DataType) Persisted() bool {
	switch d {
	case DataTypeAssociation, DataTypeCollection:
		return false
	}
	return true
}

// Relational reports whether the data type points at other records.
func (d DataType) Relational() bool {
	switch d {
	case DataTypeReference, DataTypeAssociation, DataTypeCollection:
		return true
	}
	return false
}

// valid reports whether d is a known data type.
func (d DataType) valid() bool {
	switch d {
	case DataTypeText, DataTypeNumber, DataTypeBoolean, DataTypeDateTime,
		DataTypeEnum, DataTypeKID, DataTypeReference, DataTypeAssociation,
		DataTypeCollection:
		return true
	}
	return false
}
