package schemarefresh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"queryengine/internal/introspection"
	"queryengine/internal/junction"
	"queryengine/internal/logging"
	"queryengine/internal/naming"
	"queryengine/internal/scalars"
	"queryengine/internal/schema"
	"queryengine/internal/schemafilter"
)

// singletonComment marks a table whose collection holds exactly one row.
const singletonComment = "singleton"

// BuildSchemaConfig defines inputs for shared schema assembly.
type BuildSchemaConfig struct {
	Queryer      introspection.Queryer
	DatabaseName string
	Filters      schemafilter.Config
	Naming       naming.Config
	// Singletons lists extra tables to expose as singletons, next to the ones
	// whose comment says so.
	Singletons []string
	// Relations are appended to the introspected ones. They carry what foreign
	// keys cannot express, such as polymorphic item pointers, and replace an
	// introspected relation declared on the same field.
	Relations []schema.RelationDef
	Logger    *logging.Logger
}

// BuildSchemaResult contains schema artifacts produced by BuildSchema.
type BuildSchemaResult struct {
	DBSchema   *introspection.Schema
	Junctions  junction.Map
	Definition schema.Definition
	Graph      *schema.Graph
}

// BuildSchema runs the canonical schema assembly pipeline:
// introspect, filter, classify junctions, name, then build the graph.
func BuildSchema(ctx context.Context, cfg BuildSchemaConfig) (*BuildSchemaResult, error) {
	if cfg.Queryer == nil {
		return nil, fmt.Errorf("schema builder requires an introspection queryer")
	}

	dbSchema, err := introspection.IntrospectDatabase(ctx, cfg.Queryer, cfg.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect database: %w", err)
	}
	return BuildFromIntrospection(dbSchema, cfg)
}

// BuildFromIntrospection turns an already introspected schema into a graph.
func BuildFromIntrospection(dbSchema *introspection.Schema, cfg BuildSchemaConfig) (*BuildSchemaResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}

	if report := schemafilter.Apply(dbSchema, cfg.Filters); !report.Empty() {
		logger.Debug("schema filters removed tables and columns",
			slog.Any("tables", report.Tables),
			slog.Any("columns", report.Columns),
		)
	}
	junctions := junction.Classify(dbSchema)

	b := &definitionBuilder{
		namer:       naming.New(cfg.Naming, logger.Logger),
		logger:      logger,
		junctions:   junctions,
		collections: make(map[string]string, len(dbSchema.Tables)),
		columns:     make(map[string]map[string]bool, len(dbSchema.Tables)),
	}
	singletons := make(map[string]bool, len(cfg.Singletons))
	for _, name := range cfg.Singletons {
		singletons[name] = true
	}

	b.addCollections(dbSchema, singletons)
	b.addForeignKeyRelations(dbSchema)
	b.def.Relations = mergeRelations(b.def.Relations, cfg.Relations)

	graph, err := schema.Build(b.def)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema graph: %w", err)
	}

	logger.Info("schema assembled",
		slog.Int("collections", len(b.def.Collections)),
		slog.Int("relations", len(b.def.Relations)),
		slog.Int("junctions", len(junctions)),
	)
	return &BuildSchemaResult{
		DBSchema:   dbSchema,
		Junctions:  junctions,
		Definition: b.def,
		Graph:      graph,
	}, nil
}

type definitionBuilder struct {
	namer     *naming.Namer
	logger    *logging.Logger
	junctions junction.Map
	def       schema.Definition
	// collections maps table name to collection name.
	collections map[string]string
	// columns holds, per table, the columns that became fields.
	columns map[string]map[string]bool
}

func (b *definitionBuilder) addCollections(dbSchema *introspection.Schema, singletons map[string]bool) {
	for _, table := range dbSchema.Tables {
		if _, ok := table.PrimaryKey(); !ok {
			b.logger.Warn("table has no single-column primary key, skipped",
				slog.String("table", table.Name),
			)
			continue
		}

		collection := b.namer.RegisterCollection(table.Name)
		b.collections[table.Name] = collection
		b.columns[table.Name] = make(map[string]bool, len(table.Columns))
		b.def.Collections = append(b.def.Collections, schema.CollectionDef{
			Collection: collection,
			Singleton:  singletons[table.Name] || strings.EqualFold(table.Comment, singletonComment),
		})

		for _, col := range table.Columns {
			name, ok := b.namer.RegisterColumnField(collection, col.Name)
			if !ok {
				if col.IsPrimaryKey {
					b.logger.Warn("primary key column cannot be addressed", slog.String("table", table.Name))
				}
				continue
			}
			kind := col.Kind()
			if kind == scalars.Unknown {
				continue
			}
			b.columns[table.Name][col.Name] = true
			b.def.Fields = append(b.def.Fields, schema.FieldDef{
				Collection: collection,
				Field:      name,
				Type:       kind.String(),
				PrimaryKey: col.IsPrimaryKey,
				Nullable:   col.IsNullable,
			})
		}
	}
}

// addForeignKeyRelations declares every single-column foreign key as a
// ManyToOne and names its inverse. Junction keys get ManyToMany inverses.
func (b *definitionBuilder) addForeignKeyRelations(dbSchema *introspection.Schema) {
	for _, table := range dbSchema.Tables {
		collection, ok := b.collections[table.Name]
		if !ok {
			continue
		}
		constraints := table.ForeignKeyConstraints()
		perTarget := make(map[string]int, len(constraints))
		for _, fk := range constraints {
			perTarget[fk.ReferencedTable]++
		}

		info, isJunction := b.junctions[table.Name]
		for _, fk := range constraints {
			if fk.IsComposite() {
				b.logger.Debug("composite foreign key skipped",
					slog.String("table", table.Name),
					slog.String("constraint", fk.ConstraintName),
				)
				continue
			}
			column := fk.ColumnNames[0]
			related, ok := b.collections[fk.ReferencedTable]
			if !ok || !b.columns[table.Name][column] {
				continue
			}
			if pk, _ := mustTable(dbSchema, fk.ReferencedTable).PrimaryKey(); pk.Name != fk.ReferencedColumns[0] {
				continue
			}

			rel := schema.RelationDef{
				Collection:        collection,
				Field:             column,
				RelatedCollection: related,
			}
			if isJunction {
				if other, owns := b.junctionOwner(info, column); owns {
					name := b.namer.JunctionFieldName(table.Name, fk.ReferencedTable, other.ReferencedTable)
					rel.OneField = b.namer.RegisterAliasField(related, name, "m2m:"+table.Name+"."+column)
					rel.JunctionField = other.ColumnName
				}
			} else {
				name := b.namer.OneToManyFieldName(table.Name, column, perTarget[fk.ReferencedTable] == 1)
				rel.OneField = b.namer.RegisterAliasField(related, name, "o2m:"+table.Name+"."+column)
			}
			b.def.Relations = append(b.def.Relations, rel)
		}
	}
}

// junctionOwner reports whether column is a side of the junction that gets a
// ManyToMany alias, and returns the key on the far side. A self-referencing
// junction gets a single alias, owned by the key that does not read as a
// pointer to the target (parent_id rather than food_id).
func (b *definitionBuilder) junctionOwner(info junction.Info, column string) (junction.FKInfo, bool) {
	other, ok := info.Other(column)
	if !ok {
		return junction.FKInfo{}, false
	}
	if !info.IsSelfReferencing() {
		return other, true
	}
	pointer := b.namer.Singularize(info.LeftFK.ReferencedTable) + "_id"
	switch {
	case info.RightFK.ColumnName == pointer:
		return other, column == info.LeftFK.ColumnName
	default:
		return other, column == info.RightFK.ColumnName
	}
}

func mustTable(dbSchema *introspection.Schema, name string) *introspection.Table {
	if table, ok := dbSchema.Table(name); ok {
		return table
	}
	return &introspection.Table{}
}

func mergeRelations(introspected, extra []schema.RelationDef) []schema.RelationDef {
	if len(extra) == 0 {
		return introspected
	}
	replaced := make(map[string]bool, len(extra))
	for _, rel := range extra {
		replaced[rel.Collection+"."+rel.Field] = true
	}
	out := make([]schema.RelationDef, 0, len(introspected)+len(extra))
	for _, rel := range introspected {
		if !replaced[rel.Collection+"."+rel.Field] {
			out = append(out, rel)
		}
	}
	return append(out, extra...)
}
