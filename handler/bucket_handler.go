package handler

import (
	"net/http"

	"github.com/cumulusfs/cumulus/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type BucketHandler struct {
	buckets   service.BucketService
	listings  service.ListingService
	approvals service.ApprovalService
}

func NewBucketHandler(buckets service.BucketService, listings service.ListingService, approvals service.ApprovalService) *BucketHandler {
	return &BucketHandler{buckets: buckets, listings: listings, approvals: approvals}
}

type createBucketRequest struct {
	Name     string     `json:"name" binding:"required"`
	ParentID *uuid.UUID `json:"parentId"`
}

// Create 新建目录
// POST /api/buckets
func (h *BucketHandler) Create(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	var req createBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bucket, err := h.buckets.Create(actorID, req.Name, req.ParentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bucket)
}

// ListRoot 根目录列表
// GET /api/buckets
func (h *BucketHandler) ListRoot(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	listing, err := h.listings.ListBucketContents(actorID, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Contents 目录内容（子目录 + 可见版本过滤后的文件）
// GET /api/buckets/:bucketId
func (h *BucketHandler) Contents(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	listing, err := h.listings.ListBucketContents(actorID, &bucketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Delete 级联删除目录
// DELETE /api/buckets/:bucketId
func (h *BucketHandler) Delete(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	if err := h.buckets.Delete(c.Request.Context(), actorID, bucketID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": bucketID})
}

type grantRequest struct {
	Email          string `json:"email" binding:"required"`
	PermissionType string `json:"permissionType" binding:"required"`
}

// AssignPermission 给用户授权
// POST /api/buckets/:bucketId/permissions
func (h *BucketHandler) AssignPermission(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perm, err := h.buckets.AssignPermission(actorID, bucketID, req.Email, req.PermissionType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

type revokeRequest struct {
	Email string `json:"email" binding:"required"`
}

// RevokePermission 撤销授权
// DELETE /api/buckets/:bucketId/permissions
func (h *BucketHandler) RevokePermission(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.buckets.RevokePermission(actorID, bucketID, req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": req.Email})
}

// AccessList 目录上的授权列表
// GET /api/buckets/:bucketId/permissions
func (h *BucketHandler) AccessList(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	perms, err := h.buckets.AccessList(actorID, bucketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

// GetApprovalSettings 审批设置与审批组
// GET /api/buckets/:bucketId/approval
func (h *BucketHandler) GetApprovalSettings(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	settings, err := h.approvals.GetBucketSettings(actorID, bucketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateApprovalSettings 审批设置命令
// PUT /api/buckets/:bucketId/approval
func (h *BucketHandler) UpdateApprovalSettings(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	bucketID, ok := parseIDParam(c, "bucketId")
	if !ok {
		return
	}
	cmd, err := parseSettingsCommand(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.approvals.ApplyBucketCommand(actorID, bucketID, cmd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": bucketID})
}
