package dispatch

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jscomplete/graphfront/internal/compiler"
	"github.com/jscomplete/graphfront/internal/engine"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

var learnerSchema = &compiler.CompiledSchema{
	Namespace: "public",
	Keys: map[string]engine.TableKeys{
		"learners": {PrimaryKey: "idx", UniqueKeys: []string{"idx", "id", "email"}},
	},
	QueryMethods: []string{"learners", "findLearner"},
	MutationMethods: []string{
		"createLearner", "updateLearner", "deleteLearner",
		"findOrCreateLearner", "createOrUpdateLearner",
	},
}

func newTestRoot(t *testing.T, validate KeyValidator) (*Root, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	eng := engine.New(db, logger.NewTestLogger(), "public", learnerSchema.Keys)
	return New(eng, validate, logger.NewTestLogger(), learnerSchema), mock
}

func learnerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"idx", "id", "email"}).
		AddRow(int64(1), "abc123", "ada@test.com")
}

func TestRootMethods(t *testing.T) {
	root, _ := newTestRoot(t, nil)
	assert.Equal(t, []string{
		"createLearner", "createOrUpdateLearner", "deleteLearner",
		"findLearner", "findOrCreateLearner", "learners",
		"updateLearner", "viewer",
	}, root.Methods())
}

func TestViewerRequiresValidKey(t *testing.T) {
	root, _ := newTestRoot(t, func(apiKey, class, verb string) bool {
		return apiKey == "good-key"
	})

	_, err := root.Execute(context.Background(), "viewer", map[string]any{"apiKey": "bad-key"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	res, err := root.Execute(context.Background(), "viewer", map[string]any{"apiKey": "good-key"})
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{"namespace": "public"}, res)
}

func TestListDispatch(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	query := `SELECT * FROM (SELECT * FROM "public"."learners" WHERE "idx" > 0 ORDER BY "idx" DESC LIMIT 100) limited_set ORDER BY "idx" DESC`
	mock.ExpectQuery(regexp.QuoteMeta(query)).WillReturnRows(learnerRows())

	res, err := root.Execute(context.Background(), "learners", nil)
	assert.NoError(t, err)
	recs := res.([]*engine.Record)
	assert.Len(t, recs, 1)
	email, _ := recs[0].Get("email")
	assert.Equal(t, "ada@test.com", email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDispatchPassesOptions(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	query := `SELECT * FROM (SELECT * FROM "public"."learners" WHERE "idx" > 0 AND lower("email") like $1 ORDER BY "idx" DESC LIMIT 5) limited_set ORDER BY "email" ASC`
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("%ada%").
		WillReturnRows(learnerRows())

	_, err := root.Execute(context.Background(), "learners", map[string]any{
		"filters": map[string]any{"email": "Ada"},
		"limit":   float64(5),
		"sortBy":  "email",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDispatch(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."learners" WHERE "email" = $1 LIMIT 1`)).
		WithArgs("ada@test.com").
		WillReturnRows(learnerRows())

	res, err := root.Execute(context.Background(), "findLearner", map[string]any{
		"filters": map[string]any{"email": "ada@test.com"},
	})
	assert.NoError(t, err)
	rec := res.(*engine.Record)
	id, _ := rec.Get("id")
	assert.Equal(t, "abc123", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDispatchEmptyResult(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."learners" WHERE "email" = $1 LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"idx", "id", "email"}))

	res, err := root.Execute(context.Background(), "findLearner", map[string]any{
		"filters": map[string]any{"email": "nobody@test.com"},
	})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestMutationDenied(t *testing.T) {
	root, mock := newTestRoot(t, func(apiKey, class, verb string) bool { return false })

	_, err := root.Execute(context.Background(), "createLearner", map[string]any{
		"apiKey": "whatever",
		"input":  map[string]any{"email": "ada@test.com"},
	})
	assert.ErrorIs(t, err, ErrAccessDenied)
	// nothing reached the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueriesDenied(t *testing.T) {
	var gotClass, gotVerb string
	root, mock := newTestRoot(t, func(apiKey, class, verb string) bool {
		gotClass, gotVerb = class, verb
		return false
	})

	_, err := root.Execute(context.Background(), "learners", map[string]any{"apiKey": "bad-key"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, "query", gotClass)
	assert.Equal(t, "learners", gotVerb)

	_, err = root.Execute(context.Background(), "findLearner", map[string]any{
		"apiKey":  "bad-key",
		"filters": map[string]any{"email": "ada@test.com"},
	})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, "findLearner", gotVerb)

	// nothing reached the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDispatch(t *testing.T) {
	var gotClass, gotVerb string
	root, mock := newTestRoot(t, func(apiKey, class, verb string) bool {
		gotClass, gotVerb = class, verb
		return apiKey == "good-key"
	})

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."learners" ("email") VALUES ($1) RETURNING *`)).
		WithArgs("ada@test.com").
		WillReturnRows(learnerRows())

	res, err := root.Execute(context.Background(), "createLearner", map[string]any{
		"apiKey": "good-key",
		"input":  map[string]any{"email": "ada@test.com"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "mutation", gotClass)
	assert.Equal(t, "create", gotVerb)
	assert.NotNil(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateDispatchUsesUniqueKeys(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	// only the unique email column is used for the lookup
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."learners" WHERE "email" = $1`)).
		WithArgs("ada@test.com").
		WillReturnRows(learnerRows())

	res, err := root.Execute(context.Background(), "findOrCreateLearner", map[string]any{
		"input": map[string]any{"email": "ada@test.com", "fullName": "Ada"},
	})
	assert.NoError(t, err)
	assert.NotNil(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateDispatchExplicitFindFields(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	// the caller's findFields win over the unique-key default
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."learners" WHERE "full_name" = $1`)).
		WithArgs("Ada").
		WillReturnRows(learnerRows())

	res, err := root.Execute(context.Background(), "findOrCreateLearner", map[string]any{
		"input":      map[string]any{"email": "ada@test.com", "fullName": "Ada"},
		"findFields": []any{"fullName"},
	})
	assert.NoError(t, err)
	assert.NotNil(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDispatchAppliesOperations(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	matchRows := sqlmock.NewRows([]string{"idx", "id", "count"}).AddRow(int64(1), "abc123", 10)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."learners" WHERE "id" = $1`)).
		WithArgs("abc123").
		WillReturnRows(matchRows)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "public"."learners" SET updated_at = now() at time zone 'utc', "count" = "count" + $1 WHERE "id" = $2 RETURNING *`)).
		WithArgs(5, "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"idx", "id", "count"}).AddRow(int64(1), "abc123", 15))

	res, err := root.Execute(context.Background(), "updateLearner", map[string]any{
		"filters": map[string]any{"id": "abc123"},
		"operations": []any{
			map[string]any{"type": "increment", "field": "count", "value": 5},
		},
	})
	assert.NoError(t, err)
	count, _ := res.(*engine.Record).Get("count")
	assert.EqualValues(t, 15, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDispatch(t *testing.T) {
	root, mock := newTestRoot(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."learners" WHERE "id" = $1`)).
		WithArgs("abc123").
		WillReturnRows(learnerRows())
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."learners" WHERE "id" = $1`)).
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := root.Execute(context.Background(), "deleteLearner", map[string]any{
		"filters": map[string]any{"id": "abc123"},
	})
	assert.NoError(t, err)
	assert.Equal(t, &engine.DeletedRecord{DeletedID: "abc123"}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUnknownOperation(t *testing.T) {
	root, _ := newTestRoot(t, nil)
	_, err := root.Execute(context.Background(), "dropEverything", nil)
	assert.ErrorIs(t, err, ErrAccessDenied)
}
