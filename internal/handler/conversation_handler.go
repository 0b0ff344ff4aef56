// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat-go/internal/middleware"
	"support-chat-go/internal/service"
	"support-chat-go/pkg/log"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	conversationService service.ConversationService
	messageService      service.MessageService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(conversationService service.ConversationService, messageService service.MessageService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		messageService:      messageService,
	}
}

// StartRequest 定义了开始对话 API 的请求体结构。
type StartRequest struct {
	Metadata map[string]interface{} `json:"metadata"`
}

// Start 开始一个新对话，或恢复当前会话已有的对话。
func (h *ConversationHandler) Start(c *gin.Context) {
	var req StartRequest
	// 请求体可以为空
	_ = c.ShouldBindJSON(&req)

	sess := middleware.GetSession(c)
	conv, err := h.conversationService.StartOrResume(c.Request.Context(), sess, req.Metadata)
	if err != nil {
		log.Warnf("Start: failed to start conversation for session %s: %v", sess.SessionID, err)
		writeError(c, err)
		return
	}

	ok(c, conv)
}

// Get 返回单个对话的详情。
func (h *ConversationHandler) Get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	sess := middleware.GetSession(c)
	conv, err := h.conversationService.Get(c.Request.Context(), id, sess)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, conv)
}

// Messages 返回对话的全部消息，按创建顺序排列。
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	sess := middleware.GetSession(c)
	messages, err := h.conversationService.Messages(c.Request.Context(), id, sess)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, messages)
}

// SubmitMessageRequest 定义了发送消息 API 的请求体结构。
type SubmitMessageRequest struct {
	Content  string                 `json:"content"`
	Role     string                 `json:"role"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SubmitMessage 在对话中发送一条消息。
func (h *ConversationHandler) SubmitMessage(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "無効なリクエストです",
		})
		return
	}

	sess := middleware.GetSession(c)
	msg, err := h.messageService.SubmitMessage(c.Request.Context(), id, sess, req.Content, req.Role, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, msg)
}

// End 结束一个对话。
func (h *ConversationHandler) End(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	sess := middleware.GetSession(c)
	if err := h.conversationService.End(c.Request.Context(), id, sess); err != nil {
		writeError(c, err)
		return
	}

	ok(c, nil)
}

// Resume 重新打开一个已结束的对话。
func (h *ConversationHandler) Resume(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}

	sess := middleware.GetSession(c)
	if err := h.conversationService.Resume(c.Request.Context(), id, sess); err != nil {
		writeError(c, err)
		return
	}

	ok(c, nil)
}

// parseID 解析路径参数中的对话 ID，失败时直接写出 400 响应。
func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "IDの形式が正しくありません",
		})
		return 0, err
	}
	return uint(id), nil
}
