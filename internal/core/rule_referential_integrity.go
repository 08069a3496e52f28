package core

import (
	"context"
	"fmt"

	"kincore/pkg/domain"
)

// NewReferentialIntegrityRule returns the in-transaction rule enforcing that
// edge targets exist within the same tree, that no node references itself,
// and that no (target, type) pair appears twice in one list.
func NewReferentialIntegrityRule() domain.Rule {
	return referentialIntegrityRule{}
}

type referentialIntegrityRule struct{}

func (referentialIntegrityRule) Name() string { return "referential_integrity" }

func (referentialIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, tree := range view.ListTrees() {
		nodes := view.ListPersons(tree.ID)
		index := make(map[string]struct{}, len(nodes))
		for _, n := range nodes {
			index[n.ID] = struct{}{}
		}
		for _, n := range nodes {
			checkEdgeList(&res, index, n.ID, "parents", n.Parents)
			checkEdgeList(&res, index, n.ID, "children", n.Children)
			checkEdgeList(&res, index, n.ID, "spouses", n.Spouses)
			checkEdgeList(&res, index, n.ID, "siblings", n.Siblings)
		}
	}
	return res, nil
}

func checkEdgeList(res *domain.Result, index map[string]struct{}, nodeID, listName string, list []domain.RelationEdge) {
	seen := make(map[domain.RelationEdge]struct{}, len(list))
	for _, e := range list {
		if e.TargetID == nodeID {
			res.Violations = append(res.Violations, integrityViolation(nodeID, fmt.Sprintf("node %s references itself in %s", nodeID, listName)))
			continue
		}
		if _, ok := index[e.TargetID]; !ok {
			res.Violations = append(res.Violations, integrityViolation(nodeID, fmt.Sprintf("node %s references missing node %s in %s", nodeID, e.TargetID, listName)))
		}
		if _, dup := seen[e]; dup {
			res.Violations = append(res.Violations, integrityViolation(nodeID, fmt.Sprintf("node %s lists %s (%s) multiple times in %s", nodeID, e.TargetID, e.Type, listName)))
			continue
		}
		seen[e] = struct{}{}
	}
}

func integrityViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "referential_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityPerson,
		EntityID: entityID,
	}
}
