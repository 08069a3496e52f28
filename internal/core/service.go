package core

import (
	"context"
	"fmt"
	"sort"

	"kincore/pkg/domain"
)

// Service exposes the member lifecycle operations of the family graph:
// member creation with linking options, bulk relationship updates, cascade
// deletion, and renderer-ready tree snapshots. Every mutation runs inside
// one store transaction and flows through the consistency engine, which is
// what makes multi-edge requests all-or-nothing.
type Service struct {
	store   domain.PersistentStore
	engine  *ConsistencyEngine
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
	authz   Authorizer
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithLogger installs a structured logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditRecorder installs an audit recorder.
func WithAuditRecorder(r AuditRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(r MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time provider.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithAuthorizer overrides the authorization policy.
func WithAuthorizer(a Authorizer) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.authz = a
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		engine:  NewConsistencyEngine(),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   systemClock{},
		authz:   RoleAuthorizer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// MemberRelation describes a new member's relation to its anchor node.
type MemberRelation string

// Supported member relations.
const (
	RelationParent  MemberRelation = "parent"
	RelationChild   MemberRelation = "child"
	RelationSpouse  MemberRelation = "spouse"
	RelationSibling MemberRelation = "sibling"
)

// LinkOptions tune the edge set derived during member creation.
type LinkOptions struct {
	ConnectToSpouse         bool
	ConnectToExistingParent bool
	ConnectToChildren       bool
}

// NewMemberInput carries the payload for CreateMember.
type NewMemberInput struct {
	Gender       domain.Gender
	Attributes   domain.PersonAttributes
	Relation     MemberRelation
	AnchorNodeID string
	Options      LinkOptions
}

// CreateMemberResult reports the created node and every node whose edge
// lists changed, formatted for client-side cache refresh.
type CreateMemberResult struct {
	NewNodeID    string
	UpdatedNodes []RenderNode
}

// RelationshipUpdates names the add/remove lists of one bulk relationship
// request. Targets default to the blood relation type unless overridden in
// RelationshipTypes.
type RelationshipUpdates struct {
	AddParents     []string
	RemoveParents  []string
	AddChildren    []string
	RemoveChildren []string
	AddSpouses     []string
	RemoveSpouses  []string
	AddSiblings    []string
	RemoveSiblings []string
	// RelationshipTypes overrides the relation type per target node id.
	RelationshipTypes map[string]domain.RelType
}

// UpdateRelationshipsResult reports every node whose edge lists changed.
type UpdateRelationshipsResult struct {
	UpdatedNodes []RenderNode
}

// DeleteMemberResult reports the outcome of a cascade delete. UpdatedNodes
// holds every former neighbor, never the deleted node.
type DeleteMemberResult struct {
	Success      bool
	UpdatedNodes []RenderNode
}

// TreeData is the renderer-ready snapshot of one tree.
type TreeData struct {
	Nodes  []RenderNode
	RootID string
}

// NewTreeInput carries the payload for CreateFamilyTree.
type NewTreeInput struct {
	Privacy         domain.TreePrivacy
	OwnerGender     domain.Gender
	OwnerAttributes domain.PersonAttributes
}

// NewTreeResult reports the created aggregate and its owner node.
type NewTreeResult struct {
	TreeID      string
	OwnerNodeID string
}

// CreateFamilyTree creates a new tree aggregate together with its owner
// node in one transaction. The acting user becomes the tree owner.
func (s *Service) CreateFamilyTree(ctx context.Context, actorID string, input NewTreeInput) (NewTreeResult, error) {
	var result NewTreeResult
	err := s.instrument(ctx, "create_family_tree", actorID, func(ctx context.Context) (string, error) {
		if actorID == "" {
			return "", domain.ValidationError{Field: "actor", Reason: "acting user id is required"}
		}
		if input.OwnerGender == "" {
			return "", domain.ValidationError{Field: "gender", Reason: "owner gender is required"}
		}
		if !input.OwnerGender.Valid() {
			return "", domain.ValidationError{Field: "gender", Reason: fmt.Sprintf("unknown gender %q", input.OwnerGender)}
		}
		privacy := input.Privacy
		if privacy == "" {
			privacy = domain.PrivacyPrivate
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			tree, err := tx.CreateTree(domain.FamilyTree{
				OwnerUserID: actorID,
				Privacy:     privacy,
				Roles:       []domain.AccessRole{{UserID: actorID, Role: domain.RoleOwner}},
			})
			if err != nil {
				return err
			}
			attrs := input.OwnerAttributes
			attrs.TreeOwnerID = actorID
			owner, err := tx.CreatePerson(domain.PersonNode{
				TreeID:     tree.ID,
				Gender:     input.OwnerGender,
				Status:     domain.StageActive,
				Attributes: attrs,
			})
			if err != nil {
				return err
			}
			if _, err := tx.UpdateTree(tree.ID, func(t *domain.FamilyTree) error {
				t.OwnerNodeID = owner.ID
				return nil
			}); err != nil {
				return err
			}
			result = NewTreeResult{TreeID: tree.ID, OwnerNodeID: owner.ID}
			return nil
		})
		return result.TreeID, err
	})
	if err != nil {
		return NewTreeResult{}, err
	}
	return result, nil
}

// CreateMember allocates a new node, links it to the anchor according to the
// requested relation and options, and returns every changed node.
func (s *Service) CreateMember(ctx context.Context, actorID, treeID string, input NewMemberInput) (CreateMemberResult, error) {
	var result CreateMemberResult
	err := s.instrument(ctx, "create_member", actorID, func(ctx context.Context) (string, error) {
		if input.Gender == "" {
			return "", domain.ValidationError{Field: "gender", Reason: "gender is required"}
		}
		if !input.Gender.Valid() {
			return "", domain.ValidationError{Field: "gender", Reason: fmt.Sprintf("unknown gender %q", input.Gender)}
		}
		switch input.Relation {
		case RelationParent, RelationChild, RelationSpouse, RelationSibling:
		default:
			return "", domain.ValidationError{Field: "relation", Reason: fmt.Sprintf("unknown relation %q", input.Relation)}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			tree, ok := tx.FindTree(treeID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
			}
			if err := s.authz.Authorize(ctx, tree, actorID, true); err != nil {
				return err
			}
			anchor, ok := tx.FindPerson(treeID, input.AnchorNodeID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityPerson, ID: input.AnchorNodeID}
			}

			attrs := input.Attributes
			attrs.TreeOwnerID = tree.OwnerUserID
			created, err := tx.CreatePerson(domain.PersonNode{
				TreeID:     treeID,
				Gender:     input.Gender,
				Status:     domain.StageProvisional,
				Attributes: attrs,
			})
			if err != nil {
				return err
			}

			ops := deriveCreationOps(anchor, created.ID, input.Relation, input.Options)
			updated, err := s.engine.ApplyEdgeDelta(tx.Snapshot(), treeID, ops)
			if err != nil {
				return err
			}
			persisted, err := persistUpdatedNodes(tx, treeID, updated)
			if err != nil {
				return err
			}
			// Creation edges are in place: provisional -> linked -> active.
			final, err := tx.UpdatePerson(treeID, created.ID, func(n *domain.PersonNode) error {
				n.Status = domain.StageActive
				return nil
			})
			if err != nil {
				return err
			}
			if _, changed := updated[created.ID]; changed {
				persisted[created.ID] = final
			}

			result = CreateMemberResult{
				NewNodeID:    created.ID,
				UpdatedNodes: formatUpdated(persisted),
			}
			return nil
		})
		return result.NewNodeID, err
	})
	if err != nil {
		return CreateMemberResult{}, err
	}
	return result, nil
}

// UpdateRelationships translates one bulk request into a single edge-op
// batch. The whole batch succeeds or the whole call fails; there is no
// partial relinking.
func (s *Service) UpdateRelationships(ctx context.Context, actorID, treeID, nodeID string, updates RelationshipUpdates) (UpdateRelationshipsResult, error) {
	var result UpdateRelationshipsResult
	err := s.instrument(ctx, "update_relationships", actorID, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			tree, ok := tx.FindTree(treeID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
			}
			if err := s.authz.Authorize(ctx, tree, actorID, true); err != nil {
				return err
			}
			if _, ok := tx.FindPerson(treeID, nodeID); !ok {
				return domain.NotFoundError{Entity: domain.EntityPerson, ID: nodeID}
			}

			view := tx.Snapshot()
			ops := translateUpdates(view, treeID, nodeID, updates)
			updated, err := s.engine.ApplyEdgeDelta(view, treeID, ops)
			if err != nil {
				return err
			}
			persisted, err := persistUpdatedNodes(tx, treeID, updated)
			if err != nil {
				return err
			}
			result = UpdateRelationshipsResult{UpdatedNodes: formatUpdated(persisted)}
			return nil
		})
		return nodeID, err
	})
	if err != nil {
		return UpdateRelationshipsResult{}, err
	}
	return result, nil
}

// DeleteMember strips the node from every neighbor's edge lists and removes
// the record. Deleting the tree owner node is a conflict: a tree must
// always retain its owner.
func (s *Service) DeleteMember(ctx context.Context, actorID, treeID, nodeID string) (DeleteMemberResult, error) {
	var result DeleteMemberResult
	err := s.instrument(ctx, "delete_member", actorID, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			tree, ok := tx.FindTree(treeID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
			}
			if err := s.authz.Authorize(ctx, tree, actorID, true); err != nil {
				return err
			}
			node, ok := tx.FindPerson(treeID, nodeID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityPerson, ID: nodeID}
			}
			if tree.OwnerNodeID == nodeID {
				return domain.ConflictError{Reason: fmt.Sprintf("node %s is the tree owner and cannot be deleted", nodeID)}
			}

			if _, err := tx.UpdatePerson(treeID, nodeID, func(n *domain.PersonNode) error {
				n.Status = domain.StagePendingRemoval
				return nil
			}); err != nil {
				return err
			}

			ops := deriveRemovalOps(node)
			updated, err := s.engine.ApplyEdgeDelta(tx.Snapshot(), treeID, ops)
			if err != nil {
				return err
			}
			delete(updated, nodeID)
			persisted, err := persistUpdatedNodes(tx, treeID, updated)
			if err != nil {
				return err
			}
			if err := tx.DeletePerson(treeID, nodeID); err != nil {
				return err
			}
			result = DeleteMemberResult{Success: true, UpdatedNodes: formatUpdated(persisted)}
			return nil
		})
		return nodeID, err
	})
	if err != nil {
		return DeleteMemberResult{}, err
	}
	return result, nil
}

// GetFamilyTreeData returns the renderer-ready snapshot of a tree. The root
// defaults to the tree's owner node. Snapshots reflect either the pre- or
// post-state of concurrent mutations, never a partially applied one.
func (s *Service) GetFamilyTreeData(ctx context.Context, actorID, treeID, rootID string) (TreeData, error) {
	var result TreeData
	err := s.instrument(ctx, "get_family_tree_data", actorID, func(ctx context.Context) (string, error) {
		err := s.store.View(ctx, func(view domain.TransactionView) error {
			tree, ok := view.FindTree(treeID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
			}
			if err := s.authz.Authorize(ctx, tree, actorID, false); err != nil {
				return err
			}
			root := rootID
			if root == "" {
				root = tree.OwnerNodeID
			} else if _, ok := view.FindPerson(treeID, root); !ok {
				return domain.NotFoundError{Entity: domain.EntityPerson, ID: root}
			}
			result = TreeData{
				Nodes:  FormatTree(view.ListPersons(treeID)),
				RootID: root,
			}
			return nil
		})
		return treeID, err
	})
	if err != nil {
		return TreeData{}, err
	}
	return result, nil
}

// deriveCreationOps computes the edge batch for a new member relative to its
// anchor. Spouse edges default to the married type, everything else to blood.
func deriveCreationOps(anchor domain.PersonNode, newID string, relation MemberRelation, opts LinkOptions) []EdgeOp {
	var ops []EdgeOp
	switch relation {
	case RelationChild:
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: anchor.ID, ToID: newID, Type: domain.RelBlood, Kind: KindParentOf})
		if opts.ConnectToSpouse && len(anchor.Spouses) > 0 {
			ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: anchor.Spouses[0].TargetID, ToID: newID, Type: domain.RelBlood, Kind: KindParentOf})
		}
	case RelationParent:
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: newID, ToID: anchor.ID, Type: domain.RelBlood, Kind: KindParentOf})
		if opts.ConnectToChildren {
			for _, child := range anchor.Children {
				ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: newID, ToID: child.TargetID, Type: domain.RelBlood, Kind: KindParentOf})
			}
		}
	case RelationSpouse:
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: anchor.ID, ToID: newID, Type: domain.RelMarried, Kind: KindSpouseOf})
	case RelationSibling:
		if opts.ConnectToExistingParent && len(anchor.Parents) > 0 {
			for _, parent := range anchor.Parents {
				ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: parent.TargetID, ToID: newID, Type: parent.Type, Kind: KindParentOf})
			}
		} else {
			// No shared parent to derive from: store the explicit sibling edge.
			ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: anchor.ID, ToID: newID, Type: domain.RelBlood, Kind: KindSiblingOf})
		}
	}
	return ops
}

// translateUpdates converts the named add/remove lists into edge ops.
// Parent edges always point parent-of(parent, child), so AddParents and
// AddChildren differ only in which endpoint is the subject node.
func translateUpdates(view domain.TransactionView, treeID, nodeID string, updates RelationshipUpdates) []EdgeOp {
	relType := func(targetID string) domain.RelType {
		if t, ok := updates.RelationshipTypes[targetID]; ok {
			return t
		}
		return domain.RelBlood
	}
	var ops []EdgeOp
	for _, target := range updates.AddParents {
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: target, ToID: nodeID, Type: relType(target), Kind: KindParentOf})
	}
	for _, target := range updates.RemoveParents {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: target, ToID: nodeID, Type: relType(target), Kind: KindParentOf})
	}
	for _, target := range updates.AddChildren {
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: nodeID, ToID: target, Type: relType(target), Kind: KindParentOf})
	}
	for _, target := range updates.RemoveChildren {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: nodeID, ToID: target, Type: relType(target), Kind: KindParentOf})
	}
	for _, target := range updates.AddSpouses {
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: nodeID, ToID: target, Type: relType(target), Kind: KindSpouseOf})
	}
	for _, target := range updates.RemoveSpouses {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: nodeID, ToID: target, Type: relType(target), Kind: KindSpouseOf})
	}
	for _, target := range updates.AddSiblings {
		// Skip explicit sibling edges already implied by a shared parent.
		if SharesParent(view, treeID, nodeID, target) {
			continue
		}
		ops = append(ops, EdgeOp{Action: EdgeAdd, FromID: nodeID, ToID: target, Type: relType(target), Kind: KindSiblingOf})
	}
	for _, target := range updates.RemoveSiblings {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: nodeID, ToID: target, Type: relType(target), Kind: KindSiblingOf})
	}
	return ops
}

// deriveRemovalOps enumerates every edge on the node and requests the
// symmetric removal on the other endpoint.
func deriveRemovalOps(node domain.PersonNode) []EdgeOp {
	var ops []EdgeOp
	for _, e := range node.Parents {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: e.TargetID, ToID: node.ID, Type: e.Type, Kind: KindParentOf})
	}
	for _, e := range node.Children {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: node.ID, ToID: e.TargetID, Type: e.Type, Kind: KindParentOf})
	}
	for _, e := range node.Spouses {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: node.ID, ToID: e.TargetID, Type: e.Type, Kind: KindSpouseOf})
	}
	for _, e := range node.Siblings {
		ops = append(ops, EdgeOp{Action: EdgeRemove, FromID: node.ID, ToID: e.TargetID, Type: e.Type, Kind: KindSiblingOf})
	}
	return ops
}

func persistUpdatedNodes(tx domain.Transaction, treeID string, updated map[string]domain.PersonNode) (map[string]domain.PersonNode, error) {
	ids := make([]string, 0, len(updated))
	for id := range updated {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	persisted := make(map[string]domain.PersonNode, len(updated))
	for _, id := range ids {
		next := updated[id]
		n, err := tx.UpdatePerson(treeID, id, func(current *domain.PersonNode) error {
			current.Parents = next.Parents
			current.Children = next.Children
			current.Spouses = next.Spouses
			current.Siblings = next.Siblings
			if current.Status == domain.StageProvisional {
				current.Status = domain.StageLinked
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		persisted[id] = n
	}
	return persisted, nil
}

func formatUpdated(nodes map[string]domain.PersonNode) []RenderNode {
	out := make([]domain.PersonNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return FormatTree(out)
}

// instrument wraps one operation with tracing, metrics, audit, and logging.
// fn returns the entity id to record.
func (s *Service) instrument(ctx context.Context, operation, actorID string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)

	entry := AuditEntry{
		Operation: operation,
		Actor:     actorID,
		EntityID:  entityID,
		Duration:  duration,
		Timestamp: start,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Code = domain.ErrorCode(err)
		s.logger.Warn("graph operation failed", "operation", operation, "actor", actorID, "code", entry.Code, "error", err)
	} else {
		entry.Status = AuditStatusSuccess
		s.logger.Debug("graph operation completed", "operation", operation, "actor", actorID, "entity", entityID)
	}
	s.audit.Record(ctx, entry)
	return err
}
