package handler

import (
	"errors"

	"github.com/cumulusfs/cumulus/service"

	"github.com/gin-gonic/gin"
)

type settingsRequest struct {
	Action            string `json:"action" binding:"required"`
	RequiresApproval  *bool  `json:"requiresApproval"`
	OwnerAutoApproves *bool  `json:"ownerAutoApproves"`
	VersioningEnabled *bool  `json:"versioningEnabled"`
	Email             string `json:"email"`
}

// parseSettingsCommand 在边界上把动作字符串收敛成封闭命令集，
// service 层不再见到未知动作
func parseSettingsCommand(c *gin.Context) (service.SettingsCommand, error) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}
	switch req.Action {
	case "updateSettings":
		if req.RequiresApproval == nil && req.OwnerAutoApproves == nil && req.VersioningEnabled == nil {
			return nil, errors.New("updateSettings requires at least one field")
		}
		return service.UpdateSettings{
			RequiresApproval:  req.RequiresApproval,
			OwnerAutoApproves: req.OwnerAutoApproves,
			VersioningEnabled: req.VersioningEnabled,
		}, nil
	case "addApprover":
		if req.Email == "" {
			return nil, errors.New("addApprover requires email")
		}
		return service.AddApprover{Email: req.Email}, nil
	case "removeApprover":
		if req.Email == "" {
			return nil, errors.New("removeApprover requires email")
		}
		return service.RemoveApprover{Email: req.Email}, nil
	case "setDefaultApprover":
		if req.Email == "" {
			return nil, errors.New("setDefaultApprover requires email")
		}
		return service.SetDefaultApprover{Email: req.Email}, nil
	default:
		return nil, errors.New("unknown action " + req.Action)
	}
}
