package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"kincore/internal/infra/persistence/memory"
	"kincore/pkg/domain"
)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	return NewService(store, opts...)
}

func mustCreateTree(t *testing.T, svc *Service, actor string) NewTreeResult {
	t.Helper()
	result, err := svc.CreateFamilyTree(context.Background(), actor, NewTreeInput{
		OwnerGender:     domain.GenderFemale,
		OwnerAttributes: domain.PersonAttributes{DisplayName: strPtr("Alice")},
	})
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	return result
}

func findRendered(t *testing.T, nodes []RenderNode, id string) RenderNode {
	t.Helper()
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not in updated set %+v", id, nodes)
	return RenderNode{}
}

func TestCreateFamilyTree(t *testing.T) {
	svc := newTestService(t)
	result := mustCreateTree(t, svc, "alice")

	tree, ok := svc.Store().GetTree(result.TreeID)
	if !ok {
		t.Fatalf("tree not persisted")
	}
	if tree.OwnerUserID != "alice" || tree.OwnerNodeID != result.OwnerNodeID {
		t.Fatalf("owner wiring wrong: %+v", tree)
	}
	if tree.Privacy != domain.PrivacyPrivate {
		t.Fatalf("privacy default: %q", tree.Privacy)
	}
	if role, ok := tree.RoleFor("alice"); !ok || role != domain.RoleOwner {
		t.Fatalf("actor must hold the owner role: %+v", tree.Roles)
	}
	owner, ok := svc.Store().GetPerson(result.TreeID, result.OwnerNodeID)
	if !ok {
		t.Fatalf("owner node not persisted")
	}
	if owner.Status != domain.StageActive {
		t.Fatalf("owner node status: %q", owner.Status)
	}
	if owner.Attributes.TreeOwnerID != "alice" {
		t.Fatalf("owner attribution: %+v", owner.Attributes)
	}
}

func TestCreateFamilyTreeRequiresGender(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateFamilyTree(context.Background(), "alice", NewTreeInput{})
	var validation domain.ValidationError
	if !errors.As(err, &validation) || validation.Field != "gender" {
		t.Fatalf("expected gender validation error, got %v", err)
	}
}

func TestCreateMemberChild(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	result, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationChild,
		AnchorNodeID: tree.OwnerNodeID,
		Attributes:   domain.PersonAttributes{DisplayName: strPtr("Bob")},
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if result.NewNodeID == "" {
		t.Fatalf("missing new node id")
	}
	if len(result.UpdatedNodes) != 2 {
		t.Fatalf("expected anchor and child updated, got %d", len(result.UpdatedNodes))
	}
	child := findRendered(t, result.UpdatedNodes, result.NewNodeID)
	if len(child.Parents) != 1 || child.Parents[0].ID != tree.OwnerNodeID {
		t.Fatalf("child parents wrong: %+v", child.Parents)
	}
	if child.Attributes.Status != string(domain.StageActive) {
		t.Fatalf("new member must end active, got %q", child.Attributes.Status)
	}
	anchor := findRendered(t, result.UpdatedNodes, tree.OwnerNodeID)
	if len(anchor.Children) != 1 || anchor.Children[0].ID != result.NewNodeID {
		t.Fatalf("anchor children wrong: %+v", anchor.Children)
	}
}

func TestCreateMemberChildConnectsToSpouse(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	spouse, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationSpouse,
		AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create spouse: %v", err)
	}

	child, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderFemale,
		Relation:     RelationChild,
		AnchorNodeID: tree.OwnerNodeID,
		Options:      LinkOptions{ConnectToSpouse: true},
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	node := findRendered(t, child.UpdatedNodes, child.NewNodeID)
	if len(node.Parents) != 2 {
		t.Fatalf("expected both spouses as parents, got %+v", node.Parents)
	}
	ids := map[string]bool{node.Parents[0].ID: true, node.Parents[1].ID: true}
	if !ids[tree.OwnerNodeID] || !ids[spouse.NewNodeID] {
		t.Fatalf("unexpected parent set: %+v", node.Parents)
	}
}

func TestCreateMemberSpouseUsesMarriedType(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	result, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationSpouse,
		AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create spouse: %v", err)
	}
	spouse := findRendered(t, result.UpdatedNodes, result.NewNodeID)
	if len(spouse.Spouses) != 1 || spouse.Spouses[0].Type != domain.RelMarried {
		t.Fatalf("spouse edge wrong: %+v", spouse.Spouses)
	}
}

func TestCreateMemberSiblingInheritsParents(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	child, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationChild,
		AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	sibling, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderFemale,
		Relation:     RelationSibling,
		AnchorNodeID: child.NewNodeID,
		Options:      LinkOptions{ConnectToExistingParent: true},
	})
	if err != nil {
		t.Fatalf("create sibling: %v", err)
	}
	node := findRendered(t, sibling.UpdatedNodes, sibling.NewNodeID)
	if len(node.Parents) != 1 || node.Parents[0].ID != tree.OwnerNodeID {
		t.Fatalf("sibling must inherit the shared parent: %+v", node.Parents)
	}
	if len(node.Siblings) != 0 {
		t.Fatalf("derived siblinghood must not store an explicit edge: %+v", node.Siblings)
	}
}

func TestCreateMemberSiblingWithoutParentStoresExplicitEdge(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	sibling, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderFemale,
		Relation:     RelationSibling,
		AnchorNodeID: tree.OwnerNodeID,
		Options:      LinkOptions{ConnectToExistingParent: true},
	})
	if err != nil {
		t.Fatalf("create sibling: %v", err)
	}
	node := findRendered(t, sibling.UpdatedNodes, sibling.NewNodeID)
	if len(node.Siblings) != 1 || node.Siblings[0].ID != tree.OwnerNodeID {
		t.Fatalf("expected explicit sibling edge: %+v", node.Siblings)
	}
}

func TestCreateMemberValidation(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	cases := []struct {
		name  string
		input NewMemberInput
	}{
		{"missing gender", NewMemberInput{Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID}},
		{"unknown gender", NewMemberInput{Gender: "robot", Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID}},
		{"unknown relation", NewMemberInput{Gender: domain.GenderMale, Relation: "cousin", AnchorNodeID: tree.OwnerNodeID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, tc.input)
			var validation domain.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateMemberUnknownAnchor(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	_, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationChild,
		AnchorNodeID: "ghost",
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRelationshipsBatchIsAtomic(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	child, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationChild,
		AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	// Second target does not exist: the valid first op must not apply either.
	_, err = svc.UpdateRelationships(context.Background(), "alice", tree.TreeID, child.NewNodeID, RelationshipUpdates{
		RemoveParents: []string{tree.OwnerNodeID},
		AddSpouses:    []string{"ghost"},
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	node, ok := svc.Store().GetPerson(tree.TreeID, child.NewNodeID)
	if !ok {
		t.Fatalf("child missing")
	}
	if len(node.Parents) != 1 {
		t.Fatalf("failed batch must leave parents intact: %+v", node.Parents)
	}
}

func TestUpdateRelationshipsTypeOverride(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	spouse, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender:       domain.GenderMale,
		Relation:     RelationSpouse,
		AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create spouse: %v", err)
	}

	// Divorce bookkeeping: removal must name the stored edge type.
	if _, err := svc.UpdateRelationships(context.Background(), "alice", tree.TreeID, tree.OwnerNodeID, RelationshipUpdates{
		RemoveSpouses: []string{spouse.NewNodeID},
		RelationshipTypes: map[string]domain.RelType{
			spouse.NewNodeID: domain.RelMarried,
		},
	}); err != nil {
		t.Fatalf("remove married edge: %v", err)
	}
	result, err := svc.UpdateRelationships(context.Background(), "alice", tree.TreeID, tree.OwnerNodeID, RelationshipUpdates{
		AddSpouses: []string{spouse.NewNodeID},
		RelationshipTypes: map[string]domain.RelType{
			spouse.NewNodeID: domain.RelDivorced,
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	owner := findRendered(t, result.UpdatedNodes, tree.OwnerNodeID)
	if len(owner.Spouses) != 1 || owner.Spouses[0].Type != domain.RelDivorced {
		t.Fatalf("expected divorced edge: %+v", owner.Spouses)
	}
}

func TestUpdateRelationshipsSkipsDerivedSiblings(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	first, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender: domain.GenderMale, Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create first child: %v", err)
	}
	second, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender: domain.GenderFemale, Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create second child: %v", err)
	}

	result, err := svc.UpdateRelationships(context.Background(), "alice", tree.TreeID, first.NewNodeID, RelationshipUpdates{
		AddSiblings: []string{second.NewNodeID},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(result.UpdatedNodes) != 0 {
		t.Fatalf("shared-parent siblings need no explicit edge, got %+v", result.UpdatedNodes)
	}
}

func TestDeleteMemberCascades(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	child, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender: domain.GenderMale, Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	grandchild, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender: domain.GenderFemale, Relation: RelationChild, AnchorNodeID: child.NewNodeID,
	})
	if err != nil {
		t.Fatalf("create grandchild: %v", err)
	}

	result, err := svc.DeleteMember(context.Background(), "alice", tree.TreeID, child.NewNodeID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !result.Success {
		t.Fatalf("delete reported failure")
	}
	if len(result.UpdatedNodes) != 2 {
		t.Fatalf("expected both neighbors, got %+v", result.UpdatedNodes)
	}
	for _, n := range result.UpdatedNodes {
		if n.ID == child.NewNodeID {
			t.Fatalf("deleted node must not appear in updated set")
		}
	}
	if _, ok := svc.Store().GetPerson(tree.TreeID, child.NewNodeID); ok {
		t.Fatalf("node still present after delete")
	}
	owner := findRendered(t, result.UpdatedNodes, tree.OwnerNodeID)
	if len(owner.Children) != 0 {
		t.Fatalf("owner still references deleted child: %+v", owner.Children)
	}
	gc := findRendered(t, result.UpdatedNodes, grandchild.NewNodeID)
	if len(gc.Parents) != 0 {
		t.Fatalf("grandchild still references deleted parent: %+v", gc.Parents)
	}
}

func TestDeleteMemberProtectsOwnerNode(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	_, err := svc.DeleteMember(context.Background(), "alice", tree.TreeID, tree.OwnerNodeID)
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, ok := svc.Store().GetPerson(tree.TreeID, tree.OwnerNodeID); !ok {
		t.Fatalf("owner node must survive the rejected delete")
	}
}

func TestWriteOperationsRequireEditRole(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")

	_, err := svc.CreateMember(context.Background(), "mallory", tree.TreeID, NewMemberInput{
		Gender: domain.GenderMale, Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID,
	})
	var denied domain.PermissionError
	if !errors.As(err, &denied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if domain.ErrorCode(err) != domain.CodePermission {
		t.Fatalf("wrong code: %s", domain.ErrorCode(err))
	}

	// The denial must leave no partial writes behind.
	nodes := svc.Store().ListPersons(tree.TreeID)
	if len(nodes) != 1 {
		t.Fatalf("denied write leaked state: %d nodes", len(nodes))
	}
}

func TestGetFamilyTreeData(t *testing.T) {
	svc := newTestService(t)
	tree := mustCreateTree(t, svc, "alice")
	child, err := svc.CreateMember(context.Background(), "alice", tree.TreeID, NewMemberInput{
		Gender: domain.GenderMale, Relation: RelationChild, AnchorNodeID: tree.OwnerNodeID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	data, err := svc.GetFamilyTreeData(context.Background(), "alice", tree.TreeID, "")
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	if data.RootID != tree.OwnerNodeID {
		t.Fatalf("root must default to the owner node, got %s", data.RootID)
	}
	if len(data.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(data.Nodes))
	}

	data, err = svc.GetFamilyTreeData(context.Background(), "alice", tree.TreeID, child.NewNodeID)
	if err != nil {
		t.Fatalf("get tree with root: %v", err)
	}
	if data.RootID != child.NewNodeID {
		t.Fatalf("explicit root ignored: %s", data.RootID)
	}

	_, err = svc.GetFamilyTreeData(context.Background(), "alice", tree.TreeID, "ghost")
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found for unknown root, got %v", err)
	}
}

func TestServiceRecordsAuditAndMetrics(t *testing.T) {
	audit := NewMemoryAuditRecorder()
	metrics := NewExpvarMetricsRecorder("")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := newTestService(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithClock(ClockFunc(func() time.Time { return now })),
	)

	mustCreateTree(t, svc, "alice")
	if _, err := svc.CreateFamilyTree(context.Background(), "alice", NewTreeInput{}); err == nil {
		t.Fatalf("expected validation failure")
	}

	entries := audit.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Status != AuditStatusSuccess || entries[0].Operation != "create_family_tree" {
		t.Fatalf("first entry wrong: %+v", entries[0])
	}
	if entries[1].Status != AuditStatusError || entries[1].Code != domain.CodeValidation {
		t.Fatalf("second entry wrong: %+v", entries[1])
	}
	if !entries[0].Timestamp.Equal(now) {
		t.Fatalf("clock not used: %v", entries[0].Timestamp)
	}

	snap := metrics.Snapshot()
	if snap.Results["create_family_tree"]["success"] != 1 || snap.Results["create_family_tree"]["error"] != 1 {
		t.Fatalf("metrics wrong: %+v", snap.Results)
	}
}
