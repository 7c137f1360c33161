// Package graphfront compiles a GraphQL-style schema from a PostgreSQL
// namespace and serves generic CRUD operations over its tables. The schema
// is derived entirely from introspected catalog metadata: each base table
// becomes a model type with query and mutation operations, relations are
// resolved lazily from foreign keys, and an external execution engine drives
// the generated operation table.
package graphfront

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jscomplete/graphfront/internal/compiler"
	"github.com/jscomplete/graphfront/internal/dispatch"
	"github.com/jscomplete/graphfront/internal/engine"
	"github.com/shopmonkeyus/go-common/logger"

	_ "github.com/lib/pq" // postgres driver
)

// KeyValidator re-exports the dispatch authorization hook.
type KeyValidator = dispatch.KeyValidator

// TableDefinition and Field re-export the data-definition surface.
type (
	TableDefinition = compiler.TableDefinition
	Field           = compiler.Field
)

// Schema bundles everything compiled for one namespace: the schema text and
// metadata, the operation table, and the query engine behind it.
type Schema struct {
	Compiled *compiler.CompiledSchema
	Root     *dispatch.Root
	Engine   *engine.Engine
}

// Options configures a Generator.
type Options struct {
	// Logger receives diagnostic output. When nil, an error-level console
	// logger is used.
	Logger logger.Logger
	// Validator authorizes operations. Everything is allowed when nil.
	Validator KeyValidator
}

// Generator compiles and caches schemas for the namespaces of one database.
type Generator struct {
	db        *sql.DB
	logger    logger.Logger
	validator KeyValidator
	cache     *compiler.Cache
}

// New returns a Generator over the database connection.
func New(db *sql.DB, opts Options) *Generator {
	log := opts.Logger
	if log == nil {
		log = logger.NewConsoleLogger(logger.LevelError)
	}
	return &Generator{
		db:        db,
		logger:    log,
		validator: opts.Validator,
		cache:     compiler.NewCache(),
	}
}

// GetSchema returns the schema for the namespace, compiling it on first use.
// Subsequent calls reuse the cached compilation until ResetSchema.
func (g *Generator) GetSchema(ctx context.Context, namespace string) (*Schema, error) {
	compiled, ok := g.cache.Get(namespace)
	if !ok {
		var err error
		compiled, err = compiler.New(g.db, g.logger, namespace).Compile(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "error compiling schema for %s", namespace)
		}
		g.cache.Put(compiled)
	}
	eng := engine.New(g.db, g.logger, namespace, compiled.Keys)
	return &Schema{
		Compiled: compiled,
		Root:     dispatch.New(eng, g.validator, g.logger, compiled),
		Engine:   eng,
	}, nil
}

// SchemaDB returns a raw engine for the namespace without compiled key
// metadata: list operations take the no-primary-key path and cursors are
// unavailable. Useful for querying tables before (or without) compilation.
func (g *Generator) SchemaDB(namespace string) *engine.Engine {
	return engine.New(g.db, g.logger, namespace, nil)
}

// ResetSchema drops the cached compilation for the namespace.
func (g *Generator) ResetSchema(namespace string) {
	g.cache.Reset(namespace)
}

// CreateTable creates a table in the namespace and invalidates its cached
// schema.
func (g *Generator) CreateTable(ctx context.Context, namespace string, def compiler.TableDefinition) (*compiler.TableMetadata, error) {
	meta, err := compiler.New(g.db, g.logger, namespace).CreateTable(ctx, def)
	if err != nil {
		return nil, err
	}
	g.cache.Reset(namespace)
	return meta, nil
}

// AlterTable alters a table in the namespace and invalidates its cached
// schema.
func (g *Generator) AlterTable(ctx context.Context, namespace string, def compiler.TableDefinition) (*compiler.TableMetadata, error) {
	meta, err := compiler.New(g.db, g.logger, namespace).AlterTable(ctx, def)
	if err != nil {
		return nil, err
	}
	g.cache.Reset(namespace)
	return meta, nil
}

// ModelsInfo returns the compiled metadata for every table in the namespace,
// read fresh from the catalog.
func (g *Generator) ModelsInfo(ctx context.Context, namespace string) (map[string]*compiler.TableMetadata, error) {
	return compiler.New(g.db, g.logger, namespace).ModelsInfo(ctx, false)
}

// Connect opens a postgres connection and verifies it with a bounded ping.
func Connect(ctx context.Context, urlstr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", urlstr)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database connection")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error pinging database")
	}
	return db, nil
}
