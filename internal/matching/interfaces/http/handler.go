package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/p2pmatching/internal/matching/application"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"
)

// MatchingHandler 负责处理 HTTP 请求
type MatchingHandler struct {
	manager *application.MatchingManager
	query   *application.MatchingQueryService
}

func NewMatchingHandler(manager *application.MatchingManager, query *application.MatchingQueryService) *MatchingHandler {
	return &MatchingHandler{manager: manager, query: query}
}

func (h *MatchingHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/matching")
	{
		api.POST("/pool/join", h.JoinPool)
		api.POST("/pool/leave", h.LeavePool)
		api.POST("/pool/heartbeat", h.Heartbeat)
		api.GET("/pool/stats", h.PoolStats)
		api.GET("/matches/:match_id", h.GetMatch)
		api.POST("/matches/:match_id/accept", h.AcceptMatch)
		api.POST("/matches/:match_id/reject", h.RejectMatch)
	}
}

// JoinPool 入池并同步返回可能产生的提案。
func (h *MatchingHandler) JoinPool(c *gin.Context) {
	var req application.JoinPoolCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request data", err.Error())
		return
	}

	result, err := h.manager.JoinPool(c.Request.Context(), &req)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to join pool", "user_id", req.UserID, "error", err)
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

// LeavePool 离池，幂等。
func (h *MatchingHandler) LeavePool(c *gin.Context) {
	var req application.LeavePoolCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request data", err.Error())
		return
	}

	if err := h.manager.LeavePool(c.Request.Context(), &req); err != nil {
		logging.Error(c.Request.Context(), "failed to leave pool", "user_id", req.UserID, "error", err)
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{"left": true})
}

// Heartbeat 刷新池内条目的活跃时间与 TTL。
func (h *MatchingHandler) Heartbeat(c *gin.Context) {
	var req application.LeavePoolCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request data", err.Error())
		return
	}

	side := domain.Side(req.Side)
	if !side.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid side", "")
		return
	}

	if err := h.manager.Heartbeat(c.Request.Context(), req.UserID, req.CurrencyPair, side); err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{"refreshed": true})
}

// GetMatch 查询提案详情。
func (h *MatchingHandler) GetMatch(c *gin.Context) {
	dto, err := h.query.GetProposal(c.Request.Context(), c.Param("match_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto)
}

// AcceptMatch 当事方确认提案。
func (h *MatchingHandler) AcceptMatch(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}

	matchID := c.Param("match_id")
	if err := h.manager.AcceptMatch(c.Request.Context(), matchID, req.UserID); err != nil {
		logging.Error(c.Request.Context(), "failed to accept match", "match_id", matchID, "user_id", req.UserID, "error", err)
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{"match_id": matchID, "status": string(domain.ProposalStatusAccepted)})
}

// RejectMatch 当事方拒绝提案。
func (h *MatchingHandler) RejectMatch(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}

	matchID := c.Param("match_id")
	if err := h.manager.RejectMatch(c.Request.Context(), matchID, req.UserID); err != nil {
		logging.Error(c.Request.Context(), "failed to reject match", "match_id", matchID, "user_id", req.UserID, "error", err)
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{"match_id": matchID, "status": string(domain.ProposalStatusRejected)})
}

// PoolStats 等待池统计。
func (h *MatchingHandler) PoolStats(c *gin.Context) {
	stats, err := h.query.PoolStats(c.Request.Context())
	if err != nil {
		logging.Error(c.Request.Context(), "failed to compute pool stats", "error", err)
		h.writeError(c, err)
		return
	}
	response.Success(c, stats)
}

// writeError 领域错误到 HTTP 状态码的映射
func (h *MatchingHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrProposalNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "match proposal not found", err.Error())
	case errors.Is(err, domain.ErrNotAuthorized):
		response.ErrorWithStatus(c, http.StatusForbidden, "not a party to this proposal", err.Error())
	case errors.Is(err, domain.ErrProposalNotActive):
		response.ErrorWithStatus(c, http.StatusConflict, "proposal not active", err.Error())
	case errors.Is(err, domain.ErrInvalidParticipant):
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid participant", err.Error())
	default:
		response.Error(c, err)
	}
}
