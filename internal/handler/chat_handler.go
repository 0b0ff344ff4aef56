// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"support-chat-go/internal/hub"
	"support-chat-go/internal/middleware"
	"support-chat-go/internal/model"
	"support-chat-go/internal/service"
	"support-chat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	hub            *hub.Hub
	messageService service.MessageService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(h *hub.Hub, messageService service.MessageService) *ChatHandler {
	return &ChatHandler{hub: h, messageService: messageService}
}

// wsConnection 把 *websocket.Conn 适配为广播中心的推送端。
// gorilla/websocket 不允许并发写，所以持有写锁。
type wsConnection struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConnection) Push(event hub.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(event)
}

// clientFrame 是客户端经 WebSocket 发来的帧。
type clientFrame struct {
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Role      string                 `json:"role"`
	IsTyping  bool                   `json:"is_typing"`
	MessageID uint                   `json:"message_id"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Handle 处理一个会话主题的 WebSocket 连接。
// 订阅成功后持续读取客户端帧：message 走入口服务落库并广播，
// typing 和 message_read 直接转发给主题内的其他订阅者。
func (h *ChatHandler) Handle(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	sess := middleware.GetSession(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	wc := &wsConnection{conn: conn}
	sub, err := h.hub.Subscribe(c.Request.Context(), id, sess, wc)
	if err != nil {
		_ = wc.Push(hub.Event{"type": "error", "error": "接続できませんでした"})
		return
	}
	defer sub.Close()

	log.Infof("WebSocket 连接已建立，会话: %d，来源: %s", id, sess.SessionID)
	user := sessionEventUser(sess)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = wc.Push(hub.Event{"type": "error", "error": "無効なメッセージ形式です"})
			continue
		}

		switch frame.Type {
		case "message":
			role := frame.Role
			if role == "" {
				role = model.RoleUser
			}
			if _, err := h.messageService.SubmitMessage(c.Request.Context(), id, sess, frame.Content, role, frame.Metadata); err != nil {
				_ = wc.Push(hub.Event{"type": "error", "error": err.Error()})
			}
		case "typing":
			h.hub.Publish(id, hub.TypingEvent(user, frame.IsTyping))
		case "message_read":
			h.hub.Publish(id, hub.MessageReadEvent(frame.MessageID, user.ID))
		default:
			_ = wc.Push(hub.Event{"type": "error", "error": "未対応のメッセージ種別です"})
		}
	}
}

// HandleDashboard 处理运营看板的 WebSocket 连接，仅管理员可订阅。
func (h *ChatHandler) HandleDashboard(c *gin.Context) {
	sess := middleware.GetSession(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	wc := &wsConnection{conn: conn}
	sub, err := h.hub.SubscribeDashboard(sess, wc)
	if err != nil {
		_ = wc.Push(hub.Event{"type": "error", "error": "アクセス権限がありません"})
		return
	}
	defer sub.Close()

	// 看板连接只收不发，读循环仅用于感知断开。
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func sessionEventUser(sess model.SessionContext) hub.EventUser {
	u := hub.EventUser{Name: sess.Name, Email: sess.Email}
	if sess.UserID != nil {
		u.ID = fmt.Sprintf("user-%d", *sess.UserID)
	} else {
		u.ID = sess.SessionID
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	return u
}
