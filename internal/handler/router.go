package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/middleware"
	"github.com/noah-isme/trn-registry-api/internal/models"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Match       *MatchHandler
	Tasks       *TaskHandler
	Persons     *PersonHandler
	Bindings    *BindingHandler
	Identifiers *IdentifierHandler
	// Audit records staff access to a resource; nil skips access auditing.
	Audit func(resource string) gin.HandlerFunc
}

// Register mounts the API routes on an authenticated group.
func (r Routes) Register(api gin.IRouter) {
	audit := r.Audit
	if audit == nil {
		audit = func(string) gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	}
	staff := middleware.RequireRoles(models.RoleSupportOfficer)
	channels := middleware.RequireRoles(models.RoleSupportOfficer, models.RoleAPIClient)
	admin := middleware.RequireRoles(models.RoleAdmin)

	if r.Match != nil {
		api.POST("/matches", channels, r.Match.Submit)
	}

	if r.Tasks != nil {
		tasks := api.Group("/tasks", staff)
		tasks.GET("", r.Tasks.List)
		tasks.GET("/export", r.Tasks.Export)
		tasks.GET("/:reference", r.Tasks.Get)
		tasks.POST("/:reference/resolve", audit("resolution_task"), r.Tasks.Resolve)
		tasks.POST("/:reference/refresh", audit("resolution_task"), r.Tasks.Refresh)
	}

	if r.Persons != nil {
		persons := api.Group("/persons", staff)
		persons.POST("", audit("person"), r.Persons.Register)
		persons.GET("/:id", r.Persons.Get)
		persons.PATCH("/:id", audit("person"), r.Persons.Update)
		persons.POST("/:id/merge", audit("person"), r.Persons.Merge)
	}

	if r.Bindings != nil {
		api.POST("/bindings", staff, audit("external_binding"), r.Bindings.Bind)
		api.POST("/bindings/seen", channels, r.Bindings.Seen)
	}

	if r.Identifiers != nil {
		ids := api.Group("/identifiers", admin)
		ids.GET("/ranges", r.Identifiers.ListRanges)
		ids.POST("/ranges", audit("identifier_range"), r.Identifiers.AddRange)
	}
}
