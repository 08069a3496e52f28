package core

import "kincore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in graph
// invariant policy set. Every structural transaction commits only if the
// post-state passes all of these.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewEdgeSymmetryRule())
	engine.Register(NewReferentialIntegrityRule())
	engine.Register(NewAncestryAcyclicityRule())
	return engine
}
