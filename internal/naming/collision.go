package naming

import (
	"log/slog"
	"strconv"
)

// scope maps each taken name to the source that claimed it.
type scope map[string]string

// claim takes name for source. A taken name gets the first free numeric
// suffix, starting at 2.
func (s scope) claim(name, source string, logger *slog.Logger) string {
	owner, taken := s[name]
	if !taken {
		s[name] = source
		return name
	}
	n := 2
	for ; ; n++ {
		if _, taken := s[name+"_"+strconv.Itoa(n)]; !taken {
			break
		}
	}
	resolved := name + "_" + strconv.Itoa(n)
	logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", owner),
		slog.String("new_source", source),
		slog.String("resolved", resolved),
	)
	s[resolved] = source
	return resolved
}

// nameRegistry keeps collection names unique in the graph and field names
// unique per collection.
type nameRegistry struct {
	collections scope
	fields      map[string]scope
	logger      *slog.Logger
}

func newNameRegistry(logger *slog.Logger) *nameRegistry {
	return &nameRegistry{
		collections: scope{},
		fields:      map[string]scope{},
		logger:      logger,
	}
}

func (r *nameRegistry) claimCollection(name, table string) string {
	return r.collections.claim(name, "table:"+table, r.logger)
}

func (r *nameRegistry) claimField(collection, name, source string) string {
	s := r.fields[collection]
	if s == nil {
		s = scope{}
		r.fields[collection] = s
	}
	return s.claim(name, source, r.logger)
}

func (r *nameRegistry) fieldTaken(collection, name string) bool {
	_, ok := r.fields[collection][name]
	return ok
}
