package router

import (
	"github.com/cumulusfs/cumulus/handler"
	"github.com/cumulusfs/cumulus/middleware"
	"github.com/cumulusfs/cumulus/pkg/metrics"
	metricsgin "github.com/cumulusfs/cumulus/pkg/metrics/gin"

	"github.com/gin-gonic/gin"
)

func Setup(jwtSecret string, users *handler.UserHandler, buckets *handler.BucketHandler, objects *handler.ObjectHandler, versions *handler.VersionHandler) *gin.Engine {
	r := gin.Default()
	r.Use(metricsgin.PrometheusMiddleware("cumulus"))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.POST("/register", users.Register)
		api.POST("/login", users.Login)
	}

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(jwtSecret))
	{
		authed.GET("/me", users.Me)
		authed.GET("/users", users.Search)

		authed.POST("/buckets", buckets.Create)
		authed.GET("/buckets", buckets.ListRoot)
		authed.GET("/buckets/:bucketId", buckets.Contents)
		authed.DELETE("/buckets/:bucketId", buckets.Delete)
		authed.GET("/buckets/:bucketId/permissions", buckets.AccessList)
		authed.POST("/buckets/:bucketId/permissions", buckets.AssignPermission)
		authed.DELETE("/buckets/:bucketId/permissions", buckets.RevokePermission)
		authed.GET("/buckets/:bucketId/approval", buckets.GetApprovalSettings)
		authed.PUT("/buckets/:bucketId/approval", buckets.UpdateApprovalSettings)

		authed.POST("/buckets/:bucketId/objects", objects.Upload)
		authed.GET("/buckets/:bucketId/objects/:key", objects.Download)

		authed.GET("/items/:itemId/versions", objects.ListVersions)
		authed.DELETE("/items/:itemId", objects.DeleteItem)
		authed.GET("/items/:itemId/permissions", objects.AccessList)
		authed.POST("/items/:itemId/permissions", objects.AssignPermission)
		authed.DELETE("/items/:itemId/permissions", objects.RevokePermission)
		authed.GET("/items/:itemId/approval", objects.GetApprovalSettings)
		authed.PUT("/items/:itemId/approval", objects.UpdateApprovalSettings)

		authed.GET("/versions/:versionId/content", objects.DownloadVersion)
		authed.DELETE("/versions/:versionId", objects.DeleteVersion)
		authed.POST("/versions/:versionId/approve", versions.Approve)
		authed.POST("/versions/:versionId/reject", versions.Reject)
		authed.GET("/approvals/pending", versions.Pending)

		authed.GET("/search", objects.SearchByExtension)
	}

	return r
}
