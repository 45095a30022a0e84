// Package testutil provides the schema fixture shared by package tests.
//
// The fixture covers every relation kind: foods.category_id (m2o),
// categories.foods (o2m), foods.ingredients (self-referential m2m through
// food_ingredients), shapes.children (m2a through shapes_children onto
// circles_integer and squares_integer), and users, which holds one field of
// most scalar kinds.
package testutil

import (
	_ "embed"
	"testing"

	"queryengine/internal/schema"
)

//go:embed fixture.yaml
var fixtureYAML []byte

// FixtureDefinition decodes the fixture definition.
func FixtureDefinition(t testing.TB) schema.Definition {
	t.Helper()
	def, err := schema.Decode(fixtureYAML, schema.FormatYAML)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return def
}

// FixtureGraph builds the fixture graph.
func FixtureGraph(t testing.TB) *schema.Graph {
	t.Helper()
	g, err := schema.Build(FixtureDefinition(t))
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	return g
}
