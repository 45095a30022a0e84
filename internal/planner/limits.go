package planner

const (
	// DefaultMaxRelationalDepth is used when Limits leaves the depth unset.
	DefaultMaxRelationalDepth = 5
	// DefaultListLimit is the row limit applied when a query sets none.
	DefaultListLimit = 100
)

// Limits bounds what a single query may ask for.
type Limits struct {
	// MaxRelationalDepth is the number of relation hops any path may traverse.
	MaxRelationalDepth int
	// DefaultLimit applies to the root and to every to-many relation without a
	// limit of its own.
	DefaultLimit int
	// MaxLimit caps explicit limits. Zero means no cap.
	MaxLimit int
	// MaxRows caps the estimated row count of the whole plan. Zero means no cap.
	MaxRows int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxRelationalDepth: DefaultMaxRelationalDepth,
		DefaultLimit:       DefaultListLimit,
	}
}

func (l Limits) normalized() Limits {
	if l.MaxRelationalDepth <= 0 {
		l.MaxRelationalDepth = DefaultMaxRelationalDepth
	}
	if l.DefaultLimit == 0 {
		l.DefaultLimit = DefaultListLimit
	}
	return l
}

// Surface names the part of a query a path came from.
type Surface string

const (
	SurfaceFields    Surface = "fields"
	SurfaceFilter    Surface = "filter"
	SurfaceSort      Surface = "sort"
	SurfaceDeep      Surface = "deep"
	SurfaceAggregate Surface = "aggregate"
)

// DepthGuard enforces the relational depth limit for one query. Every parser
// reports each relation hop it takes; the first hop past the limit fails the
// whole query.
type DepthGuard struct {
	max     int
	deepest int
}

// NewDepthGuard returns a guard allowing max hops.
func NewDepthGuard(max int) *DepthGuard {
	return &DepthGuard{max: max}
}

// Enter records that path reached depth hops on surface.
func (g *DepthGuard) Enter(surface Surface, path string, depth int) error {
	if depth > g.max {
		return &MaxDepthExceededError{Surface: surface, Path: path, Depth: depth, Max: g.max}
	}
	if depth > g.deepest {
		g.deepest = depth
	}
	return nil
}

// Deepest returns the largest depth entered so far.
func (g *DepthGuard) Deepest() int {
	return g.deepest
}

// Max returns the configured limit.
func (g *DepthGuard) Max() int {
	return g.max
}

// PlanCost captures the estimated cost of a plan.
type PlanCost struct {
	Depth      int `json:"depth"`
	Rows       int `json:"rows"`
	Complexity int `json:"complexity"`
}

// EstimateCost walks a field tree. Rows multiplies the limits of nested
// to-many relations; Complexity counts selected nodes weighted by the rows
// they are read for.
func EstimateCost(nodes []FieldNode, rootLimit int, fallbackLimit int) PlanCost {
	if rootLimit <= 0 {
		rootLimit = fallbackLimit
	}
	cost := PlanCost{Rows: rootLimit}
	walkCost(nodes, 0, rootLimit, fallbackLimit, &cost)
	return cost
}

func walkCost(nodes []FieldNode, depth, rows, fallbackLimit int, cost *PlanCost) {
	if depth > cost.Depth {
		cost.Depth = depth
	}
	for _, node := range nodes {
		cost.Complexity += rows
		rel, ok := node.(*RelationalField)
		if !ok || rel.KeysOnly {
			continue
		}
		childRows := rows
		if rel.Kind.IsToMany() {
			limit := fallbackLimit
			if rel.Deep != nil && rel.Deep.Limit != nil && *rel.Deep.Limit > 0 {
				limit = *rel.Deep.Limit
			}
			if limit > 0 {
				childRows = rows * limit
				cost.Rows += childRows
			}
		}
		if len(rel.Arms) > 0 {
			for _, arm := range rel.Arms {
				walkCost(arm.Children, depth+1, childRows, fallbackLimit, cost)
			}
			continue
		}
		walkCost(rel.Children, depth+1, childRows, fallbackLimit, cost)
	}
}

func validateLimits(cost PlanCost, limits Limits) error {
	if limits.MaxRows > 0 && cost.Rows > limits.MaxRows {
		return invalidQuery("query exceeds maximum rows of %d (estimated: %d)", limits.MaxRows, cost.Rows)
	}
	return nil
}

func checkLimit(name string, value *int, limits Limits) error {
	if value == nil {
		return nil
	}
	switch {
	case name != "limit" && *value < 0:
		return invalidQuery("%s must be 0 or greater", name)
	case *value < -1:
		return invalidQuery("%s must be -1 or greater", name)
	case name == "limit" && limits.MaxLimit > 0 && (*value == -1 || *value > limits.MaxLimit):
		return invalidQuery("limit exceeds maximum of %d", limits.MaxLimit)
	}
	return nil
}
