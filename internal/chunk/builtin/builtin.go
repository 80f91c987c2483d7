// Package builtin wires every built-in chunk strategy into a
// chunk.Registry. It exists only to break the import cycle between
// chunk (which strategies depend on for Strategy/Config/Metadata) and
// chunk/strategies (which chunk must not import).
package builtin

import (
	"ragindex/internal/chunk"
	"ragindex/internal/chunk/strategies"
)

// NewRegistry returns a registry with every built-in strategy
// registered in spec order, "default" first so it always exists as the
// fallback target.
func NewRegistry() *chunk.Registry {
	r := chunk.NewRegistry()
	r.Register(strategies.NewDefault())
	r.Register(strategies.NewFreeText())
	r.Register(strategies.NewPagePlusTableAware())
	r.Register(strategies.NewSemanticSections())
	r.Register(strategies.NewConversationTurns())
	r.Register(strategies.NewTableAware())
	r.Register(strategies.NewFinancialTables())
	r.Register(strategies.NewLegal())
	r.Register(strategies.NewAdministrative())
	r.Register(strategies.NewReviews())
	r.Register(strategies.NewMenus())
	return r
}
