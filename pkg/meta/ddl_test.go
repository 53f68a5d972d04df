package meta

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dialectDB opens a gorm handle over a sqlmock connection so DDL statements
// can be asserted per dialect without a real server.
func dialectDB(t *testing.T, dialect string) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var dialector gorm.Dialector
	switch dialect {
	case "mysql":
		dialector = mysql.New(mysql.Config{
			Conn:                      conn,
			SkipInitializeWithVersion: true,
		})
	case "postgres":
		dialector = postgres.New(postgres.Config{Conn: conn})
	default:
		t.Fatalf("unknown dialect %q", dialect)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestQuoteIdentPerDialect(t *testing.T) {
	my, _ := dialectDB(t, "mysql")
	pg, _ := dialectDB(t, "postgres")

	assert.Equal(t, "`first_name`", QuoteIdent(my, "first_name"))
	assert.Equal(t, `"first_name"`, QuoteIdent(pg, "first_name"))
}

func TestCreateRecordTableSQL(t *testing.T) {
	my, myMock := dialectDB(t, "mysql")
	myMock.ExpectExec(regexp.QuoteMeta("CREATE TABLE `rt_emp` (`kid` varchar(16) PRIMARY KEY)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, createRecordTable(my, "rt_emp"))
	assert.NoError(t, myMock.ExpectationsWereMet())

	pg, pgMock := dialectDB(t, "postgres")
	pgMock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "rt_emp" ("kid" varchar(16) PRIMARY KEY)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, createRecordTable(pg, "rt_emp"))
	assert.NoError(t, pgMock.ExpectationsWereMet())
}

func TestAddColumnTypesPerDialect(t *testing.T) {
	joined := &Field{Column: "joined_at", Kind: DataTypeDateTime}

	my, myMock := dialectDB(t, "mysql")
	myMock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `rt_emp` ADD COLUMN `joined_at` datetime")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, addColumn(my, "rt_emp", joined))
	assert.NoError(t, myMock.ExpectationsWereMet())

	pg, pgMock := dialectDB(t, "postgres")
	pgMock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "rt_emp" ADD COLUMN "joined_at" timestamp`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, addColumn(pg, "rt_emp", joined))
	assert.NoError(t, pgMock.ExpectationsWereMet())
}

func TestAlterColumnTypePerDialect(t *testing.T) {
	name := &Field{Column: "name", Kind: DataTypeText, Length: 80}

	my, myMock := dialectDB(t, "mysql")
	myMock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `rt_emp` MODIFY COLUMN `name` varchar(80)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, alterColumnType(my, "rt_emp", name))
	assert.NoError(t, myMock.ExpectationsWereMet())

	pg, pgMock := dialectDB(t, "postgres")
	pgMock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "rt_emp" ALTER COLUMN "name" TYPE varchar(80)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, alterColumnType(pg, "rt_emp", name))
	assert.NoError(t, pgMock.ExpectationsWereMet())
}
