// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat-go/internal/service"
)

// AdminHandler 负责处理运营后台相关的 API 请求。
type AdminHandler struct {
	conversationService service.ConversationService
	searchService       service.SearchService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(conversationService service.ConversationService, searchService service.SearchService) *AdminHandler {
	return &AdminHandler{
		conversationService: conversationService,
		searchService:       searchService,
	}
}

// ListConversations 分页返回全部对话，供运营后台浏览。
func (h *AdminHandler) ListConversations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if size < 1 || size > 100 {
		size = 20
	}

	conversations, total, err := h.conversationService.ListAll(c.Request.Context(), (page-1)*size, size)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, gin.H{
		"conversations": conversations,
		"total":         total,
		"page":          page,
		"size":          size,
	})
}

// SearchMessages 在归档的消息全文索引中检索。
func (h *AdminHandler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "検索キーワードを入力してください",
		})
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	hits, err := h.searchService.SearchMessages(c.Request.Context(), query, size)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, hits)
}
