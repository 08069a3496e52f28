// Package domain defines the persistent entities, relation value types, and
// rule evaluation primitives used by kincore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPerson identifies an individual family member record.
	EntityPerson EntityType = "person"
	// EntityTree identifies a family tree aggregate record.
	EntityTree EntityType = "family_tree"
)

// Gender enumerates the genders a person record may carry.
type Gender string

// Supported gender values. Rendering normalizes GenderOther, see the formatter.
const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the supported gender values.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// RelType qualifies a relation edge between two person nodes.
type RelType string

// Supported relation qualifiers.
const (
	RelBlood    RelType = "blood"
	RelMarried  RelType = "married"
	RelDivorced RelType = "divorced"
	RelAdopted  RelType = "adopted"
	RelHalf     RelType = "half"
)

// Valid reports whether t is one of the supported relation qualifiers.
func (t RelType) Valid() bool {
	switch t {
	case RelBlood, RelMarried, RelDivorced, RelAdopted, RelHalf:
		return true
	}
	return false
}

// LifecycleStage represents the canonical person-node lifecycle states.
type LifecycleStage string

// Canonical node lifecycle stages. A node is provisional between record
// creation and edge application, linked once its creation edges are in
// place, and active in steady state. PendingRemoval exists only inside a
// delete transaction while neighbor edges are stripped.
const (
	StageProvisional    LifecycleStage = "provisional"
	StageLinked         LifecycleStage = "linked"
	StageActive         LifecycleStage = "active"
	StagePendingRemoval LifecycleStage = "pending_removal"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RelationEdge is a directed link from the owning node to a target node.
// The symmetric counterpart always lives on the target node's opposite
// list; the consistency engine maintains the pairing.
type RelationEdge struct {
	TargetID string  `json:"target_id"`
	Type     RelType `json:"type"`
}

// PersonAttributes carries the display payload attached to a person node.
// Attributes have no structural meaning; the graph never inspects them.
type PersonAttributes struct {
	DisplayName    *string `json:"display_name,omitempty"`
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	DateOfBirth    *string `json:"date_of_birth,omitempty"`
	DateOfDeath    *string `json:"date_of_death,omitempty"`
	Bio            *string `json:"bio,omitempty"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
	IsBloodRelated bool    `json:"is_blood_related"`
	TreeOwnerID    string  `json:"tree_owner_id,omitempty"`
}

// PersonNode represents one family member within a single tree.
type PersonNode struct {
	Base
	TreeID     string           `json:"tree_id"`
	Gender     Gender           `json:"gender"`
	Status     LifecycleStage   `json:"status"`
	Attributes PersonAttributes `json:"attributes"`
	Parents    []RelationEdge   `json:"parents"`
	Children   []RelationEdge   `json:"children"`
	Spouses    []RelationEdge   `json:"spouses"`
	Siblings   []RelationEdge   `json:"siblings"`
}

// HasEdge reports whether the edge list contains the exact (target, type) pair.
func HasEdge(list []RelationEdge, targetID string, relType RelType) bool {
	for _, e := range list {
		if e.TargetID == targetID && e.Type == relType {
			return true
		}
	}
	return false
}

// ReferencesTarget reports whether any edge in the list points at targetID,
// regardless of relation type.
func ReferencesTarget(list []RelationEdge, targetID string) bool {
	for _, e := range list {
		if e.TargetID == targetID {
			return true
		}
	}
	return false
}

// TreePrivacy enumerates visibility levels for a family tree.
type TreePrivacy string

// Supported tree privacy levels.
const (
	PrivacyPrivate TreePrivacy = "private"
	PrivacyShared  TreePrivacy = "shared"
	PrivacyPublic  TreePrivacy = "public"
)

// TreeRole enumerates access roles on a family tree.
type TreeRole string

// Supported access roles.
const (
	RoleOwner  TreeRole = "owner"
	RoleEditor TreeRole = "editor"
	RoleViewer TreeRole = "viewer"
)

// AccessRole grants one user a role on a tree.
type AccessRole struct {
	UserID string   `json:"user_id"`
	Role   TreeRole `json:"role"`
}

// FamilyTree is the aggregate holding one tree's full member set. It is the
// unit of concurrency control: structural mutations against the same tree
// serialize on the store transaction boundary.
type FamilyTree struct {
	Base
	OwnerUserID string       `json:"owner_user_id"`
	OwnerNodeID string       `json:"owner_node_id"`
	Privacy     TreePrivacy  `json:"privacy"`
	Roles       []AccessRole `json:"roles"`
}

// RoleFor returns the role granted to userID, falling back to the owner role
// for the tree owner and no role otherwise.
func (t FamilyTree) RoleFor(userID string) (TreeRole, bool) {
	if userID == t.OwnerUserID {
		return RoleOwner, true
	}
	for _, r := range t.Roles {
		if r.UserID == userID {
			return r.Role, true
		}
	}
	return "", false
}

// CanEdit reports whether userID may structurally mutate the tree.
func (t FamilyTree) CanEdit(userID string) bool {
	role, ok := t.RoleFor(userID)
	return ok && (role == RoleOwner || role == RoleEditor)
}

// CanView reports whether userID may read the tree.
func (t FamilyTree) CanView(userID string) bool {
	if t.Privacy == PrivacyPublic {
		return true
	}
	_, ok := t.RoleFor(userID)
	return ok
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	TreeID string
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
