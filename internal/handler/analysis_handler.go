// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat-go/internal/repository"
	"support-chat-go/internal/service"
	"support-chat-go/pkg/log"
)

// AnalysisHandler 处理分析任务投递与升级通知相关的 API 请求。
type AnalysisHandler struct {
	dispatchService   service.DispatchService
	escalationService service.EscalationService
	analysisRepo      repository.AnalysisRepository
}

// NewAnalysisHandler 创建一个新的 AnalysisHandler。
func NewAnalysisHandler(
	dispatchService service.DispatchService,
	escalationService service.EscalationService,
	analysisRepo repository.AnalysisRepository,
) *AnalysisHandler {
	return &AnalysisHandler{
		dispatchService:   dispatchService,
		escalationService: escalationService,
		analysisRepo:      analysisRepo,
	}
}

// DispatchRequest 定义了投递分析任务 API 的请求体结构。
type DispatchRequest struct {
	Options map[string]string `json:"options"`
}

// Dispatch 为单个对话投递一次完整分析任务。
func (h *AnalysisHandler) Dispatch(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	var req DispatchRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.dispatchService.DispatchFullAnalysis(c.Request.Context(), id, req.Options); err != nil {
		log.Errorf("Dispatch: failed to enqueue analysis for conversation %d: %v", id, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "分析タスクを受け付けました",
	})
}

// BatchRequest 定义了批量投递分析任务 API 的请求体结构。
type BatchRequest struct {
	ConversationIDs []uint            `json:"conversationIds" binding:"required"`
	Options         map[string]string `json:"options"`
}

// DispatchBatch 为多个对话批量投递分析任务。单个对话失败不影响其余对话。
func (h *AnalysisHandler) DispatchBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "無効なリクエストです：conversationIds は必須です",
		})
		return
	}

	summary := h.dispatchService.DispatchBatch(c.Request.Context(), req.ConversationIDs, req.Options)

	status := http.StatusAccepted
	if summary.Queued == 0 && summary.Total > 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": "success",
		"data":    summary,
	})
}

// List 返回某个对话的全部分析结果。
func (h *AnalysisHandler) List(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	analyses, err := h.analysisRepo.FindByConversation(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, analyses)
}

// NotifyRequest 定义了升级通知 API 的请求体结构。
type NotifyRequest struct {
	Channel string `json:"channel"`
	Forced  bool   `json:"forced"`
}

// Notify 对指定的分析结果执行升级通知。
func (h *AnalysisHandler) Notify(c *gin.Context) {
	analysisID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "IDの形式が正しくありません",
		})
		return
	}

	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "無効なリクエストです",
		})
		return
	}
	if req.Channel == "" {
		req.Channel = service.ChannelAll
	}

	if err := h.escalationService.Notify(c.Request.Context(), uint(analysisID), req.Channel, req.Forced); err != nil {
		writeError(c, err)
		return
	}

	ok(c, nil)
}
