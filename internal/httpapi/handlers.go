package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kincore/internal/core"
	"kincore/pkg/domain"
)

const actorHeader = "X-Actor-ID"

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodePermission:
		status = http.StatusForbidden
	case domain.CodeConflict:
		status = http.StatusConflict
	}
	c.JSON(status, errorResponse{Message: err.Error(), Code: code})
}

func actorID(c *gin.Context) (string, bool) {
	actor := c.GetHeader(actorHeader)
	if actor == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Message: "missing " + actorHeader + " header",
			Code:    domain.CodeValidation,
		})
		return "", false
	}
	return actor, true
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type attributesPayload struct {
	DisplayName    *string `json:"displayName"`
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	DateOfBirth    *string `json:"dateOfBirth"`
	DateOfDeath    *string `json:"dateOfDeath"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
	IsBloodRelated bool    `json:"isBloodRelated"`
}

func (p attributesPayload) toDomain() domain.PersonAttributes {
	return domain.PersonAttributes{
		DisplayName:    p.DisplayName,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		DateOfBirth:    p.DateOfBirth,
		DateOfDeath:    p.DateOfDeath,
		Bio:            p.Bio,
		ProfilePicture: p.ProfilePicture,
		IsBloodRelated: p.IsBloodRelated,
	}
}

type createTreeRequest struct {
	Privacy         string            `json:"privacy" binding:"omitempty,oneof=private shared public"`
	OwnerGender     string            `json:"ownerGender" binding:"required,gender"`
	OwnerAttributes attributesPayload `json:"ownerAttributes"`
}

func handleCreateTree(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		var req createTreeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, domain.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
		result, err := svc.CreateFamilyTree(c.Request.Context(), actor, core.NewTreeInput{
			Privacy:         domain.TreePrivacy(req.Privacy),
			OwnerGender:     domain.Gender(req.OwnerGender),
			OwnerAttributes: req.OwnerAttributes.toDomain(),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"treeId":      result.TreeID,
			"ownerNodeId": result.OwnerNodeID,
		})
	}
}

type createMemberRequest struct {
	Gender       string            `json:"gender" binding:"required,gender"`
	Relation     string            `json:"relation" binding:"required,oneof=parent child spouse sibling"`
	AnchorNodeID string            `json:"anchorNodeId" binding:"required"`
	Attributes   attributesPayload `json:"attributes"`
	Options      struct {
		ConnectToSpouse         bool `json:"connectToSpouse"`
		ConnectToExistingParent bool `json:"connectToExistingParent"`
		ConnectToChildren       bool `json:"connectToChildren"`
	} `json:"options"`
}

func handleCreateMember(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		var req createMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, domain.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
		result, err := svc.CreateMember(c.Request.Context(), actor, c.Param("treeID"), core.NewMemberInput{
			Gender:       domain.Gender(req.Gender),
			Attributes:   req.Attributes.toDomain(),
			Relation:     core.MemberRelation(req.Relation),
			AnchorNodeID: req.AnchorNodeID,
			Options: core.LinkOptions{
				ConnectToSpouse:         req.Options.ConnectToSpouse,
				ConnectToExistingParent: req.Options.ConnectToExistingParent,
				ConnectToChildren:       req.Options.ConnectToChildren,
			},
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"newNodeId":    result.NewNodeID,
			"updatedNodes": result.UpdatedNodes,
		})
	}
}

type updateRelationshipsRequest struct {
	AddParents        []string          `json:"addParents"`
	RemoveParents     []string          `json:"removeParents"`
	AddChildren       []string          `json:"addChildren"`
	RemoveChildren    []string          `json:"removeChildren"`
	AddSpouses        []string          `json:"addSpouses"`
	RemoveSpouses     []string          `json:"removeSpouses"`
	AddSiblings       []string          `json:"addSiblings"`
	RemoveSiblings    []string          `json:"removeSiblings"`
	RelationshipTypes map[string]string `json:"relationshipTypes" binding:"omitempty,dive,reltype"`
}

func handleUpdateRelationships(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		var req updateRelationshipsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, domain.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
		types := make(map[string]domain.RelType, len(req.RelationshipTypes))
		for id, t := range req.RelationshipTypes {
			types[id] = domain.RelType(t)
		}
		result, err := svc.UpdateRelationships(c.Request.Context(), actor, c.Param("treeID"), c.Param("nodeID"), core.RelationshipUpdates{
			AddParents:        req.AddParents,
			RemoveParents:     req.RemoveParents,
			AddChildren:       req.AddChildren,
			RemoveChildren:    req.RemoveChildren,
			AddSpouses:        req.AddSpouses,
			RemoveSpouses:     req.RemoveSpouses,
			AddSiblings:       req.AddSiblings,
			RemoveSiblings:    req.RemoveSiblings,
			RelationshipTypes: types,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updatedNodes": result.UpdatedNodes})
	}
}

func handleDeleteMember(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		result, err := svc.DeleteMember(c.Request.Context(), actor, c.Param("treeID"), c.Param("nodeID"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      result.Success,
			"updatedNodes": result.UpdatedNodes,
		})
	}
}

func handleGetTree(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		result, err := svc.GetFamilyTreeData(c.Request.Context(), actor, c.Param("treeID"), c.Query("root"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"rootId": result.RootID,
			"nodes":  result.Nodes,
		})
	}
}
