package core

import (
	"sort"

	"kincore/pkg/domain"
)

// RenderEdge is the neutral edge shape consumed by the rendering layer.
type RenderEdge struct {
	ID   string         `json:"id"`
	Type domain.RelType `json:"type"`
}

// RenderAttributes flattens a node's display payload into the wire shape.
type RenderAttributes struct {
	DisplayName    string  `json:"displayName"`
	FirstName      *string `json:"firstName,omitempty"`
	LastName       *string `json:"lastName,omitempty"`
	DateOfBirth    *string `json:"dateOfBirth,omitempty"`
	DateOfDeath    *string `json:"dateOfDeath,omitempty"`
	Bio            *string `json:"bio,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
	IsBloodRelated bool    `json:"isBloodRelated"`
	FamilyTreeID   string  `json:"familyTreeId"`
	TreeOwnerID    string  `json:"treeOwnerId"`
	Status         string  `json:"status"`
}

// RenderNode is the renderer-ready view of one person node.
type RenderNode struct {
	ID         string           `json:"id"`
	Gender     domain.Gender    `json:"gender"`
	Parents    []RenderEdge     `json:"parents"`
	Children   []RenderEdge     `json:"children"`
	Siblings   []RenderEdge     `json:"siblings"`
	Spouses    []RenderEdge     `json:"spouses"`
	Attributes RenderAttributes `json:"attributes"`
}

// FormatNode maps one internal node record into the neutral shape required
// by the rendering layer. Pure function: no storage access, safe to call
// concurrently.
func FormatNode(n domain.PersonNode) RenderNode {
	return RenderNode{
		ID:       n.ID,
		Gender:   normalizeGender(n.Gender),
		Parents:  renderEdges(n.Parents),
		Children: renderEdges(n.Children),
		Siblings: renderEdges(n.Siblings),
		Spouses:  renderEdges(n.Spouses),
		Attributes: RenderAttributes{
			DisplayName:    displayName(n),
			FirstName:      n.Attributes.FirstName,
			LastName:       n.Attributes.LastName,
			DateOfBirth:    n.Attributes.DateOfBirth,
			DateOfDeath:    n.Attributes.DateOfDeath,
			Bio:            n.Attributes.Bio,
			ProfilePicture: n.Attributes.ProfilePicture,
			IsBloodRelated: n.Attributes.IsBloodRelated,
			FamilyTreeID:   n.TreeID,
			TreeOwnerID:    n.Attributes.TreeOwnerID,
			Status:         string(n.Status),
		},
	}
}

// FormatTree maps a set of internal node records into renderer-ready nodes,
// ordered by node id for deterministic output.
func FormatTree(nodes []domain.PersonNode) []RenderNode {
	out := make([]RenderNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, FormatNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// normalizeGender maps gender onto the two values the rendering layer
// accepts. Unset and "other" map to female; the default is inherited from
// the upstream formatting logic and kept for renderer compatibility.
func normalizeGender(g domain.Gender) domain.Gender {
	if g == domain.GenderMale {
		return domain.GenderMale
	}
	return domain.GenderFemale
}

func displayName(n domain.PersonNode) string {
	if n.Attributes.DisplayName != nil && *n.Attributes.DisplayName != "" {
		return *n.Attributes.DisplayName
	}
	return n.ID
}

func renderEdges(edges []domain.RelationEdge) []RenderEdge {
	out := make([]RenderEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, RenderEdge{ID: e.TargetID, Type: e.Type})
	}
	return out
}
