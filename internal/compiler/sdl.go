package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/jscomplete/graphfront/internal/datatypes"
	"github.com/jscomplete/graphfront/internal/engine"
	"github.com/jscomplete/graphfront/internal/introspect"
	"github.com/jscomplete/graphfront/internal/naming"
	"github.com/jscomplete/graphfront/internal/util"
)

// CompiledSchema is the result of compiling one namespace: the schema
// definition text handed to the external execution engine, the generated
// operation names, and the key metadata that parameterizes the query engine.
type CompiledSchema struct {
	Namespace       string                      `json:"namespace"`
	SDL             string                      `json:"sdl"`
	QueryMethods    []string                    `json:"queryMethods"`
	MutationMethods []string                    `json:"mutationMethods"`
	Keys            map[string]engine.TableKeys `json:"keys"`
	Tables          map[string][]FieldMetadata  `json:"tables"`
	Fingerprint     string                      `json:"fingerprint"`
}

// tableSchema carries the generated text fragments for one table.
type tableSchema struct {
	keys           engine.TableKeys
	types          string
	queryFields    string
	mutationFields string
}

// graphType renders a field's type reference, with non-null marker when the
// column rejects nulls.
func graphType(dataType string, required bool) string {
	t := datatypes.ToFieldType(dataType)
	if required {
		t += "!"
	}
	return t
}

// buildTableSchema generates the type, input, and operation definitions for
// one table from its column descriptors.
func buildTableSchema(modelName, collectionName string, columns []introspect.ColumnDescriptor) tableSchema {
	var keys engine.TableKeys
	for _, col := range columns {
		if col.IsPrimaryKey() {
			keys.PrimaryKey = col.ColumnName
		}
		if col.ConstraintType == introspect.ConstraintPrimaryKey || col.ConstraintType == introspect.ConstraintUnique {
			keys.UniqueKeys = append(keys.UniqueKeys, col.ColumnName)
		}
	}

	var viewerFields []string
	var relationFields []string
	var inputFields []string
	var optionalFields []string
	var searchFields []string

	for _, col := range columns {
		// whatever column is the primary key stays off the generated
		// surface, as does the internal surrogate key
		if col.ColumnName == keys.PrimaryKey || col.ColumnName == introspect.InternalKeyColumn {
			continue
		}

		name := naming.ToCamelCase(col.ColumnName)
		viewerFields = append(viewerFields,
			fmt.Sprintf("  %s(hashWith: String, asIs: Boolean): %s", name, graphType(col.DataType, !col.IsNullable)))
		if col.IsForeignKey() {
			relationFields = append(relationFields,
				fmt.Sprintf("  %s: %s", naming.ToCamelCase(naming.ToSingular(col.RelatedTableName)), naming.ToModelName(col.RelatedTableName)))
		}

		if col.ColumnName == "created_at" || col.ColumnName == "updated_at" {
			continue
		}
		// Inputs never carry nullability from the identifier column and a
		// field is only mandatory when the database would reject its absence.
		required := !col.IsNullable && col.ColumnDefault == nil && col.ColumnName != "id"
		inputFields = append(inputFields, fmt.Sprintf("  %s: %s", name, graphType(col.DataType, required)))
		optionalFields = append(optionalFields, fmt.Sprintf("  %s: %s", name, graphType(col.DataType, false)))
		if col.DataType == "text" {
			searchFields = append(searchFields, fmt.Sprintf("  %s: String", name))
		}
	}

	types := fmt.Sprintf(`type %[1]s {
%[2]s
}

input %[1]sInput {
%[3]s
}

input %[1]sOptionalInput {
%[4]s
}

input %[1]sSearchInput {
%[5]s
}`,
		modelName,
		strings.Join(append(viewerFields, relationFields...), "\n"),
		strings.Join(inputFields, "\n"),
		strings.Join(optionalFields, "\n"),
		strings.Join(searchFields, "\n"))

	queryFields := fmt.Sprintf(`  %[2]s(filters: %[1]sOptionalInput, search: %[1]sSearchInput, before: String, after: String, limit: Int, idField: String, sortBy: String): [%[1]s]
  find%[1]s(filters: %[1]sOptionalInput!): %[1]s`, modelName, collectionName)

	// findFields picks the lookup columns for the match-then-mutate verbs;
	// updates take a list of operations, each applied as its own statement
	// in order
	mutationFields := fmt.Sprintf(`  create%[1]s(apiKey: String!, input: %[1]sInput!): %[1]s
  update%[1]s(apiKey: String!, filters: %[1]sOptionalInput!, operations: [UpdateOperationInput], findFields: [String]): %[1]s
  delete%[1]s(apiKey: String!, filters: %[1]sOptionalInput!, findFields: [String]): deletedObject
  findOrCreate%[1]s(apiKey: String!, input: %[1]sOptionalInput!, findFields: [String]): %[1]s
  createOrUpdate%[1]s(apiKey: String!, input: %[1]sOptionalInput!, findFields: [String]): %[1]s`, modelName)

	return tableSchema{
		keys:           keys,
		types:          types,
		queryFields:    queryFields,
		mutationFields: mutationFields,
	}
}

// Compile introspects the namespace and generates its schema. Tables are
// processed in name order so the output is stable for a given catalog state.
func (c *Compiler) Compile(ctx context.Context) (*CompiledSchema, error) {
	data, err := c.intro.AllColumns(ctx, true)
	if err != nil {
		return nil, err
	}
	tables := sortedTables(data)

	schema := &CompiledSchema{
		Namespace: c.namespace,
		Keys:      make(map[string]engine.TableKeys, len(tables)),
		Tables:    make(map[string][]FieldMetadata, len(tables)),
	}
	var types, queryFields, mutationFields []string
	for _, tableName := range tables {
		modelName := naming.ToModelName(tableName)
		collectionName := naming.ToCollectionName(tableName)
		ts := buildTableSchema(modelName, collectionName, data[tableName])
		schema.Keys[tableName] = ts.keys
		schema.Tables[tableName] = c.tableMetadata(tableName, data[tableName]).Fields
		schema.QueryMethods = append(schema.QueryMethods, collectionName, "find"+modelName)
		schema.MutationMethods = append(schema.MutationMethods,
			"create"+modelName, "update"+modelName, "delete"+modelName,
			"findOrCreate"+modelName, "createOrUpdate"+modelName)
		types = append(types, ts.types)
		queryFields = append(queryFields, ts.queryFields)
		mutationFields = append(mutationFields, ts.mutationFields)
	}

	schema.SDL = fmt.Sprintf(`%s

type Viewer {
%s
}

type Query {
  viewer(apiKey: String!): Viewer
}

input UpdateOperationInput {
  type: String!
  field: String!
  value: Float
}

type deletedObject {
  deletedId: String!
}

type Mutation {
%s
}`,
		strings.Join(types, "\n\n"),
		strings.Join(queryFields, "\n"),
		strings.Join(mutationFields, "\n"))
	schema.Fingerprint = util.Hash(c.namespace, schema.SDL)

	c.logger.Debug("compiled namespace %s: %d tables, %d query methods, %d mutation methods",
		c.namespace, len(tables), len(schema.QueryMethods), len(schema.MutationMethods))
	return schema, nil
}
