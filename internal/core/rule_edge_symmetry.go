package core

import (
	"context"
	"fmt"

	"kincore/pkg/domain"
)

// NewEdgeSymmetryRule returns the in-transaction rule enforcing that every
// stored relation edge has its symmetric counterpart: parent edges mirror
// child edges with the same type, spouse and sibling edges mirror themselves.
func NewEdgeSymmetryRule() domain.Rule {
	return edgeSymmetryRule{}
}

type edgeSymmetryRule struct{}

func (edgeSymmetryRule) Name() string { return "edge_symmetry" }

func (edgeSymmetryRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, tree := range view.ListTrees() {
		nodes := view.ListPersons(tree.ID)
		index := make(map[string]domain.PersonNode, len(nodes))
		for _, n := range nodes {
			index[n.ID] = n
		}
		for _, n := range nodes {
			for _, e := range n.Parents {
				parent, ok := index[e.TargetID]
				if !ok {
					continue // referential integrity rule reports missing targets
				}
				if !domain.HasEdge(parent.Children, n.ID, e.Type) {
					res.Violations = append(res.Violations, symmetryViolation(n.ID, fmt.Sprintf("node %s lists parent %s (%s) without the mirrored child edge", n.ID, e.TargetID, e.Type)))
				}
			}
			for _, e := range n.Children {
				child, ok := index[e.TargetID]
				if !ok {
					continue
				}
				if !domain.HasEdge(child.Parents, n.ID, e.Type) {
					res.Violations = append(res.Violations, symmetryViolation(n.ID, fmt.Sprintf("node %s lists child %s (%s) without the mirrored parent edge", n.ID, e.TargetID, e.Type)))
				}
			}
			for _, e := range n.Spouses {
				spouse, ok := index[e.TargetID]
				if !ok {
					continue
				}
				if !domain.HasEdge(spouse.Spouses, n.ID, e.Type) {
					res.Violations = append(res.Violations, symmetryViolation(n.ID, fmt.Sprintf("node %s lists spouse %s (%s) without the mirrored spouse edge", n.ID, e.TargetID, e.Type)))
				}
			}
			for _, e := range n.Siblings {
				sibling, ok := index[e.TargetID]
				if !ok {
					continue
				}
				if !domain.HasEdge(sibling.Siblings, n.ID, e.Type) {
					res.Violations = append(res.Violations, symmetryViolation(n.ID, fmt.Sprintf("node %s lists sibling %s (%s) without the mirrored sibling edge", n.ID, e.TargetID, e.Type)))
				}
			}
		}
	}
	return res, nil
}

func symmetryViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "edge_symmetry",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityPerson,
		EntityID: entityID,
	}
}
