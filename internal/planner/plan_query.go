package planner

import (
	"errors"
	"strings"
	"time"

	"queryengine/internal/catalog"
	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

// Plan is the resolved form of a Query. Every name in it has been checked
// against the schema, so executors only translate it.
type Plan struct {
	Collection   string                 `json:"collection"`
	PrimaryKey   string                 `json:"primaryKey"`
	Singleton    bool                   `json:"singleton,omitempty"`
	Fields       []FieldNode            `json:"fields"`
	Filter       FilterNode             `json:"filter,omitempty"`
	Sort         []SortKey              `json:"sort,omitempty"`
	Limit        int                    `json:"limit"`
	Offset       int                    `json:"offset"`
	Page         int                    `json:"page"`
	Search       string                 `json:"search,omitempty"`
	SearchFields []string               `json:"searchFields,omitempty"`
	Deep         map[string]*DeepClause `json:"deep,omitempty"`
	Aggregate    []Aggregation          `json:"aggregate,omitempty"`
	GroupBy      []GroupKey             `json:"groupBy,omitempty"`
	Depth        int                    `json:"depth"`
	Cost         PlanCost               `json:"cost"`
}

type resolveOptions struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

// ResolveOption customizes Resolve.
type ResolveOption func(*resolveOptions)

// WithCatalog resolves operators against c instead of the default catalog.
func WithCatalog(c *catalog.Catalog) ResolveOption {
	return func(o *resolveOptions) {
		o.catalog = c
	}
}

// WithClock sets the clock used for $NOW operands.
func WithClock(now func() time.Time) ResolveOption {
	return func(o *resolveOptions) {
		o.now = now
	}
}

// Resolve is the planning entrypoint. The whole query shares one depth guard,
// so a path over the limit fails regardless of the part of the query it
// appears in.
func Resolve(graph *schema.Graph, collection string, q Query, limits Limits, opts ...ResolveOption) (*Plan, error) {
	if graph == nil {
		return nil, errors.New("schema graph is required")
	}
	options := &resolveOptions{catalog: catalog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(options)
	}
	limits = limits.normalized()

	coll, err := graph.Collection(collection)
	if err != nil {
		return nil, unresolved(collection, "", err)
	}
	if err := validateAliases(q.Alias); err != nil {
		return nil, err
	}
	if err := checkLimit("limit", q.Limit, limits); err != nil {
		return nil, err
	}
	if err := checkLimit("offset", q.Offset, limits); err != nil {
		return nil, err
	}
	if q.Page != nil && *q.Page < 1 {
		return nil, invalidQuery("page must be 1 or greater")
	}

	now := options.now().UTC()
	guard := NewDepthGuard(limits.MaxRelationalDepth)
	newFilters := func(surface Surface) *filterParser {
		return &filterParser{graph: graph, catalog: options.catalog, guard: guard, surface: surface, now: now}
	}

	deep := &deepParser{
		graph:   graph,
		guard:   guard,
		filters: newFilters(SurfaceDeep),
		sorts:   &sortParser{graph: graph, guard: guard, surface: SurfaceDeep},
		limits:  limits,
	}
	clauses, err := deep.parse(coll.Name, q.Deep, 0, "")
	if err != nil {
		return nil, err
	}
	applyDeepPages(clauses, limits)

	fields := q.Fields
	if len(fields) == 0 && len(q.Aggregate) == 0 {
		fields = []string{"*"}
	}
	fp := &fieldParser{graph: graph, guard: guard}
	paths := make([]fieldPath, 0, len(fields))
	for _, f := range fields {
		paths = append(paths, fieldPath{expr: strings.TrimSpace(f)})
	}
	nodes, err := fp.parse(coll.Name, paths, q.Alias, clauses, 0, "")
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Collection: coll.Name,
		PrimaryKey: coll.PrimaryKey,
		Singleton:  coll.Singleton,
		Fields:     nodes,
		Deep:       clauses,
		Search:     q.Search,
	}

	if q.Filter != nil {
		if plan.Filter, err = newFilters(SurfaceFilter).parse(coll.Name, q.Filter, 0, ""); err != nil {
			return nil, err
		}
	}
	sorts := &sortParser{graph: graph, guard: guard, surface: SurfaceSort}
	if plan.Sort, err = sorts.parse(coll.Name, q.Sort, 0, ""); err != nil {
		return nil, err
	}
	if plan.Aggregate, err = ParseAggregate(coll, q.Aggregate); err != nil {
		return nil, err
	}
	if plan.GroupBy, err = ParseGroupBy(coll, q.GroupBy); err != nil {
		return nil, err
	}
	if plan.Search != "" {
		plan.SearchFields = searchFields(coll)
	}

	plan.Limit, plan.Offset, plan.Page = paginate(q.Limit, q.Offset, q.Page, limits.DefaultLimit)
	if plan.Singleton {
		plan.Limit, plan.Offset, plan.Page = 1, 0, 1
	}

	plan.Depth = guard.Deepest()
	plan.Cost = EstimateCost(plan.Fields, plan.Limit, limits.DefaultLimit)
	if plan.Cost.Depth > plan.Depth {
		plan.Depth = plan.Cost.Depth
	}
	if err := validateLimits(plan.Cost, limits); err != nil {
		return nil, err
	}
	return plan, nil
}

// paginate returns the effective limit and offset. A page overrides the
// offset unless the limit is -1, which means all rows.
func paginate(limit, offset, page *int, fallback int) (int, int, int) {
	l := fallback
	if limit != nil {
		l = *limit
	}
	o := 0
	if offset != nil {
		o = *offset
	}
	p := 1
	if page != nil {
		p = *page
		if l > 0 {
			o = (p - 1) * l
		}
	}
	return l, o, p
}

func applyDeepPages(clauses map[string]*DeepClause, limits Limits) {
	for _, clause := range clauses {
		if clause.Page != nil {
			l, o, _ := paginate(clause.Limit, clause.Offset, clause.Page, limits.DefaultLimit)
			clause.Limit, clause.Offset = &l, &o
		}
		applyDeepPages(clause.Children, limits)
	}
}

// searchFields lists the fields a search term is matched against: text
// fields by substring, numbers and uuids by equality.
func searchFields(coll *schema.Collection) []string {
	var out []string
	for _, f := range coll.Fields() {
		if !f.IsStored() || f.IsRelational() {
			continue
		}
		switch {
		case f.Kind == scalars.String, f.Kind == scalars.Text, f.Kind == scalars.CSV:
		case f.Kind.IsNumeric(), f.Kind == scalars.UUID:
		default:
			continue
		}
		out = append(out, f.Name)
	}
	return out
}
