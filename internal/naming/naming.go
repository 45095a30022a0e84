package naming

import (
	"log/slog"
	"strings"
)

// Namer turns introspected tables and foreign keys into collection and
// alias field names. It handles pluralization, reserved names, and collisions.
type Namer struct {
	config   Config
	logger   *slog.Logger
	names    *nameRegistry
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		names:    newNameRegistry(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset forgets every claimed name so the namer can serve a new schema build.
func (n *Namer) Reset() {
	n.names = newNameRegistry(n.logger)
}

// CollectionName returns the collection name for a table. Tables whose name
// would read as an aggregate root get a trailing underscore.
func (n *Namer) CollectionName(tableName string) string {
	name := tableName
	if !ValidCollectionName(name) {
		name = sanitize(name)
		if strings.HasSuffix(strings.ToLower(name), AggregatedSuffix) {
			name += "_"
		}
		n.logger.Warn("collection name is reserved, renamed",
			slog.String("table", tableName),
			slog.String("renamed", name),
		)
	}
	return name
}

// OneToManyFieldName names the inverse of a foreign key.
// If isOnlyFK is true (single FK from the source table to this target), the
// pluralized source table is used. Otherwise the FK column prefixes it.
// Example: isOnlyFK=true: "foods" -> "foods"
// Example: isOnlyFK=false, fkColumn="author_id": "posts" -> "author_posts"
func (n *Namer) OneToManyFieldName(sourceTable, fkColumn string, isOnlyFK bool) string {
	plural := n.Pluralize(sourceTable)
	if isOnlyFK {
		return plural
	}
	return stripKeySuffix(fkColumn) + "_" + plural
}

// ManyToManyFieldName names a direct M2M alias after the pluralized target.
// Example: "category" -> "categories"
func (n *Namer) ManyToManyFieldName(targetTable string) string {
	return n.Pluralize(targetTable)
}

// JunctionFieldName names the M2M alias that ownerTable gets through a
// junction. When the junction is a plain combination of both table names the
// target is used; otherwise the junction name minus the owner's tokens is.
// Example: ("foods_categories", "foods", "categories") -> "categories"
// Example: ("food_ingredients", "foods", "foods") -> "ingredients"
func (n *Namer) JunctionFieldName(junctionTable, ownerTable, targetTable string) string {
	if ownerTable != targetTable && n.isSimpleJunctionName(junctionTable, ownerTable, targetTable) {
		return n.ManyToManyFieldName(targetTable)
	}

	owner := make(map[string]struct{})
	n.addNameTokens(owner, ownerTable)
	var rest []string
	for _, token := range splitTokens(junctionTable) {
		if _, ok := owner[token]; !ok {
			rest = append(rest, token)
		}
	}
	if len(rest) == 0 {
		return n.Pluralize(junctionTable)
	}
	return n.Pluralize(strings.Join(rest, "_"))
}

func (n *Namer) isSimpleJunctionName(junctionTable, leftTable, rightTable string) bool {
	junctionTokens := splitTokens(junctionTable)
	if len(junctionTokens) == 0 {
		return false
	}

	allowed := make(map[string]struct{})
	n.addNameTokens(allowed, leftTable)
	n.addNameTokens(allowed, rightTable)

	for _, token := range junctionTokens {
		if _, ok := allowed[token]; !ok {
			return false
		}
	}
	return true
}

func (n *Namer) addNameTokens(set map[string]struct{}, name string) {
	for _, token := range splitTokens(name) {
		set[token] = struct{}{}
		set[n.Singularize(token)] = struct{}{}
		set[n.Pluralize(token)] = struct{}{}
	}
}

func splitTokens(name string) []string {
	tokens := strings.Split(strings.ToLower(name), "_")
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		out = append(out, token)
	}
	return out
}

func stripKeySuffix(column string) string {
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(column), suffix) && len(column) > len(suffix) {
			return column[:len(column)-len(suffix)]
		}
	}
	return column
}

// RegisterCollection registers a table and returns its resolved collection name.
func (n *Namer) RegisterCollection(tableName string) string {
	return n.names.claimCollection(n.CollectionName(tableName), tableName)
}

// RegisterColumnField registers a stored column. Columns always win in
// precedence, so the name is kept as is; it reports false for columns that
// cannot be addressed in a field path.
func (n *Namer) RegisterColumnField(collection, columnName string) (string, bool) {
	if !ValidFieldName(columnName) {
		n.logger.Warn("column name cannot be used in field paths, skipped",
			slog.String("collection", collection),
			slog.String("column", columnName),
		)
		return "", false
	}
	return n.names.claimField(collection, columnName, "column:"+columnName), true
}

// RegisterAliasField registers a generated alias field and returns the
// resolved name. A collision with a column gets a "_rel" suffix first and a
// numeric suffix after that.
func (n *Namer) RegisterAliasField(collection, fieldName, source string) string {
	name := fieldName
	if !ValidFieldName(name) {
		name = sanitize(name)
	}
	if n.names.fieldTaken(collection, name) {
		name += "_rel"
	}
	return n.names.claimField(collection, name, "relation:"+source)
}
