// Package planner resolves declarative collection queries against a schema
// graph. It turns field selections, filters, sorts, deep clauses and
// aggregates into a typed Plan, enforcing one relational depth limit across
// all of them.
package planner
