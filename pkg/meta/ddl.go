package meta

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QuoteIdent quotes a physical identifier for the database behind db.
// Identifiers reaching this point have already passed api-name validation,
// quoting guards against reserved words only.
func QuoteIdent(db *gorm.DB, ident string) string {
	if db.Dialector.Name() == "mysql" {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

// columnSQLType maps a field definition to a physical column type for the
// database behind db.
func columnSQLType(db *gorm.DB, f *Field) string {
	dialect := db.Dialector.Name()
	switch f.Kind {
	case DataTypeText:
		length := f.Length
		if length <= 0 {
			length = 255
		}
		return fmt.Sprintf("varchar(%d)", length)
	case DataTypeNumber:
		return "numeric"
	case DataTypeBoolean:
		return "boolean"
	case DataTypeDateTime:
		if dialect == "mysql" {
			return "datetime"
		}
		return "timestamp"
	case DataTypeEnum:
		return "varchar(255)"
	case DataTypeKID, DataTypeReference:
		return "varchar(16)"
	}
	return "text"
}

// createRecordTable creates the physical table behind a type, containing
// only the identifier column. Field columns are added one by one as fields
// are defined.
func createRecordTable(tx *gorm.DB, table string) error {
	stmt := fmt.Sprintf("CREATE TABLE %s (%s varchar(16) PRIMARY KEY)",
		QuoteIdent(tx, table), QuoteIdent(tx, "kid"))
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create record table %s: %w", table, err)
	}
	return nil
}

// dropRecordTable removes the physical table behind a type.
func dropRecordTable(tx *gorm.DB, table string) error {
	stmt := fmt.Sprintf("DROP TABLE %s", QuoteIdent(tx, table))
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("drop record table %s: %w", table, err)
	}
	return nil
}

// addColumn adds the physical column for a persisted field.
func addColumn(tx *gorm.DB, table string, f *Field) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		QuoteIdent(tx, table), QuoteIdent(tx, f.Column), columnSQLType(tx, f))
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, f.Column, err)
	}
	return nil
}

// dropColumn removes the physical column of a persisted field.
func dropColumn(tx *gorm.DB, table, column string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		QuoteIdent(tx, table), QuoteIdent(tx, column))
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("drop column %s.%s: %w", table, column, err)
	}
	return nil
}

// renameColumn rewrites the physical column name of a persisted field.
func renameColumn(tx *gorm.DB, table, oldName, newName string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		QuoteIdent(tx, table), QuoteIdent(tx, oldName), QuoteIdent(tx, newName))
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("rename column %s.%s: %w", table, oldName, err)
	}
	return nil
}

// alterColumnType changes a column's physical type where the dialect
// supports it. sqlite does not enforce varchar widths, and length limits
// are enforced at validation time on every dialect, so the sqlite case is a
// metadata-only change.
func alterColumnType(tx *gorm.DB, table string, f *Field) error {
	var stmt string
	switch tx.Dialector.Name() {
	case "sqlite":
		return nil
	case "mysql":
		stmt = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s",
			QuoteIdent(tx, table), QuoteIdent(tx, f.Column), columnSQLType(tx, f))
	default:
		stmt = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s",
			QuoteIdent(tx, table), QuoteIdent(tx, f.Column), columnSQLType(tx, f))
	}
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("alter column %s.%s: %w", table, f.Column, err)
	}
	return nil
}

// recordTableName derives the physical table name for a type prefix.
func recordTableName(prefix string) string {
	return "rt_" + strings.ToLower(prefix)
}
