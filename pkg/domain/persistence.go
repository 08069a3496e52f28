package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. All writes issued through a
// transaction either commit together or are discarded together.
type Transaction interface {
	Snapshot() TransactionView
	CreateTree(FamilyTree) (FamilyTree, error)
	UpdateTree(id string, mutator func(*FamilyTree) error) (FamilyTree, error)
	DeleteTree(id string) error
	CreatePerson(PersonNode) (PersonNode, error)
	UpdatePerson(treeID, id string, mutator func(*PersonNode) error) (PersonNode, error)
	DeletePerson(treeID, id string) error
	FindTree(id string) (FamilyTree, bool)
	FindPerson(treeID, id string) (PersonNode, bool)
	ListPersons(treeID string) []PersonNode
}

// TransactionView provides read-only access to snapshot data for rules and
// for the consistency engine's validation phase.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetTree(id string) (FamilyTree, bool)
	ListTrees() []FamilyTree
	GetPerson(treeID, id string) (PersonNode, bool)
	ListPersons(treeID string) []PersonNode
}
