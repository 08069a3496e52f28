// Package memory provides an in-memory implementation of the graph
// persistence store used for tests and ephemeral environments. Durable
// backends reuse it for transactional semantics and snapshot their state
// after each commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kincore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// PersonNode aliases domain.PersonNode for in-memory persistence operations.
	PersonNode = domain.PersonNode
	// FamilyTree aliases domain.FamilyTree.
	FamilyTree = domain.FamilyTree
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	trees map[string]FamilyTree
	// persons is keyed tree id first: a node belongs to exactly one tree.
	persons map[string]map[string]PersonNode
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Trees   map[string]FamilyTree            `json:"trees"`
	Persons map[string]map[string]PersonNode `json:"persons"`
}

func newMemoryState() memoryState {
	return memoryState{
		trees:   make(map[string]FamilyTree),
		persons: make(map[string]map[string]PersonNode),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for id, t := range s.trees {
		cloned.trees[id] = cloneTree(t)
	}
	for treeID, nodes := range s.persons {
		bucket := make(map[string]PersonNode, len(nodes))
		for id, n := range nodes {
			bucket[id] = clonePerson(n)
		}
		cloned.persons[treeID] = bucket
	}
	return cloned
}

func cloneTree(t FamilyTree) FamilyTree {
	cp := t
	cp.Roles = append([]domain.AccessRole(nil), t.Roles...)
	return cp
}

func clonePerson(n PersonNode) PersonNode {
	cp := n
	cp.Parents = append([]domain.RelationEdge(nil), n.Parents...)
	cp.Children = append([]domain.RelationEdge(nil), n.Children...)
	cp.Spouses = append([]domain.RelationEdge(nil), n.Spouses...)
	cp.Siblings = append([]domain.RelationEdge(nil), n.Siblings...)
	return cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Trees:   make(map[string]FamilyTree, len(state.trees)),
		Persons: make(map[string]map[string]PersonNode, len(state.persons)),
	}
	for id, t := range state.trees {
		s.Trees[id] = cloneTree(t)
	}
	for treeID, nodes := range state.persons {
		bucket := make(map[string]PersonNode, len(nodes))
		for id, n := range nodes {
			bucket[id] = clonePerson(n)
		}
		s.Persons[treeID] = bucket
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for id, t := range s.Trees {
		state.trees[id] = cloneTree(t)
	}
	for treeID, nodes := range s.Persons {
		bucket := make(map[string]PersonNode, len(nodes))
		for id, n := range nodes {
			bucket[id] = clonePerson(n)
		}
		state.persons[treeID] = bucket
	}
	return state
}

// Store provides an in-memory transactional store for the family graph.
// Structural mutations serialize on the store mutex; read snapshots run
// concurrently against cloned state.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// NewID allocates a new opaque identifier.
func (s *Store) NewID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListTrees returns all trees within the snapshot.
func (v transactionView) ListTrees() []FamilyTree {
	out := make([]FamilyTree, 0, len(v.state.trees))
	for _, t := range v.state.trees {
		out = append(out, cloneTree(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindTree retrieves a tree by ID from the snapshot.
func (v transactionView) FindTree(id string) (FamilyTree, bool) {
	t, ok := v.state.trees[id]
	if !ok {
		return FamilyTree{}, false
	}
	return cloneTree(t), true
}

// ListPersons returns all person nodes belonging to the given tree.
func (v transactionView) ListPersons(treeID string) []PersonNode {
	nodes := v.state.persons[treeID]
	out := make([]PersonNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, clonePerson(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindPerson retrieves a person node by tree and ID from the snapshot.
func (v transactionView) FindPerson(treeID, id string) (PersonNode, bool) {
	n, ok := v.state.persons[treeID][id]
	if !ok {
		return PersonNode{}, false
	}
	return clonePerson(n), true
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The rules engine evaluates the post-state before commit; blocking
// violations discard every buffered write.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes a read-only view of the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateTree stores a new family tree aggregate within the transaction.
func (tx *transaction) CreateTree(t FamilyTree) (FamilyTree, error) {
	if t.ID == "" {
		t.ID = tx.store.NewID()
	}
	if _, exists := tx.state.trees[t.ID]; exists {
		return FamilyTree{}, fmt.Errorf("tree %q already exists", t.ID)
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.trees[t.ID] = cloneTree(t)
	tx.state.persons[t.ID] = make(map[string]PersonNode)
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionCreate, TreeID: t.ID, After: cloneTree(t)})
	return cloneTree(t), nil
}

// UpdateTree mutates a tree using the provided mutator function.
func (tx *transaction) UpdateTree(id string, mutator func(*FamilyTree) error) (FamilyTree, error) {
	current, ok := tx.state.trees[id]
	if !ok {
		return FamilyTree{}, domain.NotFoundError{Entity: domain.EntityTree, ID: id}
	}
	before := cloneTree(current)
	if err := mutator(&current); err != nil {
		return FamilyTree{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.trees[id] = cloneTree(current)
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionUpdate, TreeID: id, Before: before, After: cloneTree(current)})
	return cloneTree(current), nil
}

// DeleteTree removes a tree and all of its person nodes from state.
func (tx *transaction) DeleteTree(id string) error {
	current, ok := tx.state.trees[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTree, ID: id}
	}
	delete(tx.state.trees, id)
	delete(tx.state.persons, id)
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionDelete, TreeID: id, Before: cloneTree(current)})
	return nil
}

// CreatePerson stores a new person node within the transaction.
func (tx *transaction) CreatePerson(n PersonNode) (PersonNode, error) {
	if n.TreeID == "" {
		return PersonNode{}, fmt.Errorf("person node requires a tree id")
	}
	bucket, ok := tx.state.persons[n.TreeID]
	if !ok {
		return PersonNode{}, domain.NotFoundError{Entity: domain.EntityTree, ID: n.TreeID}
	}
	if n.ID == "" {
		n.ID = tx.store.NewID()
	}
	if _, exists := bucket[n.ID]; exists {
		return PersonNode{}, fmt.Errorf("person %q already exists in tree %q", n.ID, n.TreeID)
	}
	n.CreatedAt = tx.now
	n.UpdatedAt = tx.now
	if n.Status == "" {
		n.Status = domain.StageProvisional
	}
	bucket[n.ID] = clonePerson(n)
	tx.recordChange(Change{Entity: domain.EntityPerson, Action: domain.ActionCreate, TreeID: n.TreeID, After: clonePerson(n)})
	return clonePerson(n), nil
}

// UpdatePerson mutates a person node using the provided mutator function.
func (tx *transaction) UpdatePerson(treeID, id string, mutator func(*PersonNode) error) (PersonNode, error) {
	current, ok := tx.state.persons[treeID][id]
	if !ok {
		return PersonNode{}, domain.NotFoundError{Entity: domain.EntityPerson, ID: id}
	}
	before := clonePerson(current)
	if err := mutator(&current); err != nil {
		return PersonNode{}, err
	}
	current.ID = id
	current.TreeID = treeID
	current.UpdatedAt = tx.now
	tx.state.persons[treeID][id] = clonePerson(current)
	tx.recordChange(Change{Entity: domain.EntityPerson, Action: domain.ActionUpdate, TreeID: treeID, Before: before, After: clonePerson(current)})
	return clonePerson(current), nil
}

// DeletePerson removes a person node from the transaction state.
func (tx *transaction) DeletePerson(treeID, id string) error {
	current, ok := tx.state.persons[treeID][id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityPerson, ID: id}
	}
	delete(tx.state.persons[treeID], id)
	tx.recordChange(Change{Entity: domain.EntityPerson, Action: domain.ActionDelete, TreeID: treeID, Before: clonePerson(current)})
	return nil
}

// FindTree retrieves a tree by ID within the transaction state.
func (tx *transaction) FindTree(id string) (FamilyTree, bool) {
	t, ok := tx.state.trees[id]
	if !ok {
		return FamilyTree{}, false
	}
	return cloneTree(t), true
}

// FindPerson retrieves a person node within the transaction state.
func (tx *transaction) FindPerson(treeID, id string) (PersonNode, bool) {
	n, ok := tx.state.persons[treeID][id]
	if !ok {
		return PersonNode{}, false
	}
	return clonePerson(n), true
}

// ListPersons returns the nodes of a tree within the transaction state.
func (tx *transaction) ListPersons(treeID string) []PersonNode {
	nodes := tx.state.persons[treeID]
	out := make([]PersonNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, clonePerson(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Read helpers ---------------------------------------------------------------

// GetTree retrieves a tree by ID from committed state.
func (s *Store) GetTree(id string) (FamilyTree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.trees[id]
	if !ok {
		return FamilyTree{}, false
	}
	return cloneTree(t), true
}

// ListTrees returns all trees from committed state.
func (s *Store) ListTrees() []FamilyTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FamilyTree, 0, len(s.state.trees))
	for _, t := range s.state.trees {
		out = append(out, cloneTree(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPerson retrieves a person node by tree and ID from committed state.
func (s *Store) GetPerson(treeID, id string) (PersonNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.persons[treeID][id]
	if !ok {
		return PersonNode{}, false
	}
	return clonePerson(n), true
}

// ListPersons returns all person nodes of a tree from committed state.
func (s *Store) ListPersons(treeID string) []PersonNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := s.state.persons[treeID]
	out := make([]PersonNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, clonePerson(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
