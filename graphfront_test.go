package graphfront

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jscomplete/graphfront/internal/compiler"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

var columnCols = []string{"table_schema", "table_name", "column_name", "is_nullable", "data_type",
	"column_default", "constraint_type", "ordinal_position", "related_table_name", "related_column_name"}

func expectCompile(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("learners"))
	mock.ExpectQuery("FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows(columnCols).
			AddRow("public", "learners", "idx", "NO", "bigint", "nextval(...)", "PRIMARY KEY", 1, nil, nil).
			AddRow("public", "learners", "id", "NO", "text", "md5(now()::text)", "UNIQUE", 2, nil, nil).
			AddRow("public", "learners", "email", "NO", "text", nil, "UNIQUE", 3, nil, nil))
}

func newTestGenerator(t *testing.T) (*Generator, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, Options{Logger: logger.NewTestLogger()}), mock
}

func TestGetSchemaCachesCompilation(t *testing.T) {
	g, mock := newTestGenerator(t)
	expectCompile(mock)

	first, err := g.GetSchema(context.Background(), "public")
	assert.NoError(t, err)
	assert.Contains(t, first.Compiled.SDL, "type Learner {")
	assert.Equal(t, "idx", first.Engine.Keys("learners").PrimaryKey)
	_, ok := first.Root.Handler("learners")
	assert.True(t, ok)

	// second call must not touch the database
	second, err := g.GetSchema(context.Background(), "public")
	assert.NoError(t, err)
	assert.Same(t, first.Compiled, second.Compiled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetSchemaRecompiles(t *testing.T) {
	g, mock := newTestGenerator(t)
	expectCompile(mock)
	expectCompile(mock)

	first, err := g.GetSchema(context.Background(), "public")
	assert.NoError(t, err)

	g.ResetSchema("public")
	second, err := g.GetSchema(context.Background(), "public")
	assert.NoError(t, err)
	assert.NotSame(t, first.Compiled, second.Compiled)
	assert.Equal(t, first.Compiled.Fingerprint, second.Compiled.Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableInvalidatesCache(t *testing.T) {
	g, mock := newTestGenerator(t)
	expectCompile(mock)

	_, err := g.GetSchema(context.Background(), "public")
	assert.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "public"."courses"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "courses").
		WillReturnRows(sqlmock.NewRows(columnCols).
			AddRow("public", "courses", "id", "NO", "text", "md5(now()::text)", "UNIQUE", 2, nil, nil).
			AddRow("public", "courses", "title", "NO", "text", nil, nil, 3, nil, nil))

	meta, err := g.CreateTable(context.Background(), "public", compiler.TableDefinition{
		CollectionName: "courses",
		Fields: []Field{
			{ID: "courses_title", Name: "title", Type: "String", Required: true},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, "Course", meta.ModelName)

	// the cached schema was dropped so the next read recompiles
	expectCompile(mock)
	_, err = g.GetSchema(context.Background(), "public")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
