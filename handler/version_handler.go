package handler

import (
	"net/http"

	"github.com/cumulusfs/cumulus/service"

	"github.com/gin-gonic/gin"
)

type VersionHandler struct {
	versions  service.VersionService
	approvals service.ApprovalService
}

func NewVersionHandler(versions service.VersionService, approvals service.ApprovalService) *VersionHandler {
	return &VersionHandler{versions: versions, approvals: approvals}
}

type decisionRequest struct {
	Comments string `json:"comments"`
}

// Approve 批准版本
// POST /api/versions/:versionId/approve
func (h *VersionHandler) Approve(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	versionID, ok := parseIDParam(c, "versionId")
	if !ok {
		return
	}
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)
	version, err := h.versions.Approve(c.Request.Context(), actorID, versionID, req.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// Reject 拒绝版本（终态，内容删除）
// POST /api/versions/:versionId/reject
func (h *VersionHandler) Reject(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	versionID, ok := parseIDParam(c, "versionId")
	if !ok {
		return
	}
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)
	version, err := h.versions.Reject(c.Request.Context(), actorID, versionID, req.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// Pending 路由给当前用户的待审上传
// GET /api/approvals/pending
func (h *VersionHandler) Pending(c *gin.Context) {
	actorID, ok := mustActor(c)
	if !ok {
		return
	}
	pending, err := h.approvals.PendingApprovals(actorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
