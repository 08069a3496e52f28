package core

import (
	"context"
	"fmt"

	"kincore/pkg/domain"
)

// NewAncestryAcyclicityRule returns the in-transaction rule rejecting any
// state in which a node is reachable from itself via a chain of parent
// edges. The consistency engine already refuses cycle-creating edge adds;
// this rule guards direct transaction misuse.
func NewAncestryAcyclicityRule() domain.Rule {
	return ancestryAcyclicityRule{}
}

type ancestryAcyclicityRule struct{}

func (ancestryAcyclicityRule) Name() string { return "ancestry_acyclicity" }

func (ancestryAcyclicityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, tree := range view.ListTrees() {
		nodes := view.ListPersons(tree.ID)
		parents := make(map[string][]string, len(nodes))
		for _, n := range nodes {
			for _, e := range n.Parents {
				parents[n.ID] = append(parents[n.ID], e.TargetID)
			}
		}
		// Color-marked depth-first walk over the parent relation.
		const (
			unvisited = 0
			visiting  = 1
			done      = 2
		)
		state := make(map[string]int, len(nodes))
		var visit func(id string) bool
		visit = func(id string) bool {
			switch state[id] {
			case visiting:
				return true
			case done:
				return false
			}
			state[id] = visiting
			for _, p := range parents[id] {
				if visit(p) {
					return true
				}
			}
			state[id] = done
			return false
		}
		for _, n := range nodes {
			if state[n.ID] == unvisited && visit(n.ID) {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "ancestry_acyclicity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("node %s participates in an ancestry cycle", n.ID),
					Entity:   domain.EntityPerson,
					EntityID: n.ID,
				})
			}
		}
	}
	return res, nil
}
