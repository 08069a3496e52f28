package core

import (
	"fmt"

	"kincore/pkg/domain"
)

// EdgeAction distinguishes edge additions from removals.
type EdgeAction string

// Supported edge actions.
const (
	EdgeAdd    EdgeAction = "add"
	EdgeRemove EdgeAction = "remove"
)

// EdgeKind identifies which stored relation an operation targets. Child
// views are the symmetric counterpart of parent-of edges and are never
// written independently. Sibling-of covers the explicit sibling relation
// used when no shared parent derives the siblinghood.
type EdgeKind string

// Supported edge kinds.
const (
	KindParentOf  EdgeKind = "parent-of"
	KindSpouseOf  EdgeKind = "spouse-of"
	KindSiblingOf EdgeKind = "sibling-of"
)

// EdgeOp requests one directed edge mutation. The engine always applies the
// mandatory symmetric counterpart together with the requested edge.
type EdgeOp struct {
	Action EdgeAction
	FromID string
	ToID   string
	Type   domain.RelType
	Kind   EdgeKind
}

// ConsistencyEngine computes and applies the full symmetric set of node
// updates required to keep a family graph internally consistent. It never
// touches storage: callers persist the returned copies inside one
// transaction, which gives multi-edge requests all-or-nothing semantics.
type ConsistencyEngine struct{}

// NewConsistencyEngine constructs an engine instance.
func NewConsistencyEngine() *ConsistencyEngine {
	return &ConsistencyEngine{}
}

// edgeStage overlays in-flight node copies on top of a read snapshot so the
// validation of later ops observes the effects of earlier ones.
type edgeStage struct {
	view   domain.TransactionView
	treeID string
	nodes  map[string]*domain.PersonNode
	dirty  map[string]bool
}

func newEdgeStage(view domain.TransactionView, treeID string) *edgeStage {
	return &edgeStage{
		view:   view,
		treeID: treeID,
		nodes:  make(map[string]*domain.PersonNode),
		dirty:  make(map[string]bool),
	}
}

func (st *edgeStage) node(id string) (*domain.PersonNode, error) {
	if n, ok := st.nodes[id]; ok {
		return n, nil
	}
	n, ok := st.view.FindPerson(st.treeID, id)
	if !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityPerson, ID: id}
	}
	st.nodes[id] = &n
	return &n, nil
}

// ApplyEdgeDelta validates the whole batch, then applies each op together
// with its symmetric counterpart to in-memory copies of the affected nodes.
// It returns only the nodes whose edge lists actually changed; idempotent
// adds and removals of absent edges contribute nothing.
func (e *ConsistencyEngine) ApplyEdgeDelta(view domain.TransactionView, treeID string, ops []EdgeOp) (map[string]domain.PersonNode, error) {
	stage := newEdgeStage(view, treeID)

	for _, op := range ops {
		if err := validateOpShape(op); err != nil {
			return nil, err
		}
		if _, err := stage.node(op.FromID); err != nil {
			return nil, err
		}
		if _, err := stage.node(op.ToID); err != nil {
			return nil, err
		}
	}

	for _, op := range ops {
		if err := stage.apply(op); err != nil {
			return nil, err
		}
	}

	updated := make(map[string]domain.PersonNode, len(stage.dirty))
	for id := range stage.dirty {
		updated[id] = *stage.nodes[id]
	}
	return updated, nil
}

func validateOpShape(op EdgeOp) error {
	if op.Action != EdgeAdd && op.Action != EdgeRemove {
		return domain.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown edge action %q", op.Action)}
	}
	switch op.Kind {
	case KindParentOf, KindSpouseOf, KindSiblingOf:
	default:
		return domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown edge kind %q", op.Kind)}
	}
	if !op.Type.Valid() {
		return domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown relation type %q", op.Type)}
	}
	if op.FromID == "" || op.ToID == "" {
		return domain.ValidationError{Field: "target", Reason: "edge endpoints must be set"}
	}
	if op.FromID == op.ToID {
		return domain.ConflictError{Reason: fmt.Sprintf("node %s may not reference itself", op.FromID)}
	}
	return nil
}

func (st *edgeStage) apply(op EdgeOp) error {
	from, err := st.node(op.FromID)
	if err != nil {
		return err
	}
	to, err := st.node(op.ToID)
	if err != nil {
		return err
	}

	switch op.Kind {
	case KindParentOf:
		if op.Action == EdgeAdd {
			if domain.HasEdge(from.Children, to.ID, op.Type) && domain.HasEdge(to.Parents, from.ID, op.Type) {
				return nil // idempotent add
			}
			if st.wouldCreateAncestryCycle(from.ID, to.ID) {
				return domain.ConflictError{Reason: fmt.Sprintf("adding %s as parent of %s would create an ancestry cycle", from.ID, to.ID)}
			}
			if st.appendEdge(&from.Children, to.ID, op.Type) {
				st.dirty[from.ID] = true
			}
			if st.appendEdge(&to.Parents, from.ID, op.Type) {
				st.dirty[to.ID] = true
			}
			return nil
		}
		if st.removeEdge(&from.Children, to.ID, op.Type) {
			st.dirty[from.ID] = true
		}
		if st.removeEdge(&to.Parents, from.ID, op.Type) {
			st.dirty[to.ID] = true
		}
		return nil
	case KindSpouseOf:
		return st.applySymmetric(op, func(n *domain.PersonNode) *[]domain.RelationEdge { return &n.Spouses }, from, to)
	case KindSiblingOf:
		return st.applySymmetric(op, func(n *domain.PersonNode) *[]domain.RelationEdge { return &n.Siblings }, from, to)
	}
	return domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown edge kind %q", op.Kind)}
}

func (st *edgeStage) applySymmetric(op EdgeOp, list func(*domain.PersonNode) *[]domain.RelationEdge, from, to *domain.PersonNode) error {
	if op.Action == EdgeAdd {
		if domain.HasEdge(*list(from), to.ID, op.Type) && domain.HasEdge(*list(to), from.ID, op.Type) {
			return nil
		}
		if st.appendEdge(list(from), to.ID, op.Type) {
			st.dirty[from.ID] = true
		}
		if st.appendEdge(list(to), from.ID, op.Type) {
			st.dirty[to.ID] = true
		}
		return nil
	}
	if st.removeEdge(list(from), to.ID, op.Type) {
		st.dirty[from.ID] = true
	}
	if st.removeEdge(list(to), from.ID, op.Type) {
		st.dirty[to.ID] = true
	}
	return nil
}

func (st *edgeStage) appendEdge(list *[]domain.RelationEdge, targetID string, relType domain.RelType) bool {
	if domain.HasEdge(*list, targetID, relType) {
		return false
	}
	*list = append(*list, domain.RelationEdge{TargetID: targetID, Type: relType})
	return true
}

func (st *edgeStage) removeEdge(list *[]domain.RelationEdge, targetID string, relType domain.RelType) bool {
	for i, e := range *list {
		if e.TargetID == targetID && e.Type == relType {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// wouldCreateAncestryCycle walks the staged parent chain of the proposed
// parent; finding the child there means the child is already an ancestor of
// the parent and the new edge would close a cycle.
func (st *edgeStage) wouldCreateAncestryCycle(parentID, childID string) bool {
	visited := map[string]bool{}
	queue := []string{parentID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		if current == childID {
			return true
		}
		var parents []domain.RelationEdge
		if n, ok := st.nodes[current]; ok {
			parents = n.Parents
		} else if n, ok := st.view.FindPerson(st.treeID, current); ok {
			parents = n.Parents
		}
		for _, p := range parents {
			if !visited[p.TargetID] {
				queue = append(queue, p.TargetID)
			}
		}
	}
	return false
}

// SharesParent reports whether two nodes in the same tree have at least one
// parent in common, which derives their siblinghood without an explicit edge.
func SharesParent(view domain.TransactionView, treeID, aID, bID string) bool {
	a, ok := view.FindPerson(treeID, aID)
	if !ok {
		return false
	}
	b, ok := view.FindPerson(treeID, bID)
	if !ok {
		return false
	}
	seen := make(map[string]bool, len(a.Parents))
	for _, p := range a.Parents {
		seen[p.TargetID] = true
	}
	for _, p := range b.Parents {
		if seen[p.TargetID] {
			return true
		}
	}
	return false
}
