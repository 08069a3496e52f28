// Package httpapi exposes the graph service over HTTP using gin. The acting
// user is identified by the X-Actor-ID header; domain error codes map onto
// HTTP statuses so clients can distinguish validation failures from
// permission and conflict errors.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"kincore/internal/core"
)

// NewRouter builds a gin engine with all graph routes registered.
func NewRouter(svc *core.Service, opts ...RouterOption) *gin.Engine {
	cfg := routerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	for _, mw := range cfg.middleware {
		router.Use(mw)
	}

	router.GET("/health", handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/trees", handleCreateTree(svc))
		v1.GET("/trees/:treeID", handleGetTree(svc))
		v1.POST("/trees/:treeID/members", handleCreateMember(svc))
		v1.PUT("/trees/:treeID/members/:nodeID/relationships", handleUpdateRelationships(svc))
		v1.DELETE("/trees/:treeID/members/:nodeID", handleDeleteMember(svc))
	}
	return router
}

type routerConfig struct {
	middleware []gin.HandlerFunc
}

// RouterOption customizes router construction.
type RouterOption func(*routerConfig)

// WithMiddleware appends middleware applied to every route.
func WithMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(c *routerConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}
