package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/model"
	"support-chat-go/pkg/log"
)

// DashboardTopic 是升级通知的固定广播主题（不按会话划分）。
const DashboardTopic = "escalations"

// 每个订阅者的事件信箱容量。写满即按 best-effort 丢弃，
// 避免慢订阅者阻塞发布方或其他订阅者。
const mailboxSize = 64

// Connection 是广播中心对传输层的唯一要求：
// 能接收一个 JSON 可序列化事件的推送。
type Connection interface {
	Push(event Event) error
}

// Authorizer 判定一个身份能否订阅某个会话的主题。
// 不满足时返回 apperr.ErrNotFound / apperr.ErrUnauthorized。
type Authorizer interface {
	Authorize(ctx context.Context, conversationID uint, sess model.SessionContext) error
}

// Hub 维护主题到在线订阅连接集合的映射，并向主题的全部
// 订阅者推送事件。主题表用中心锁保护，主题内部用各自的
// 细粒度锁，发布操作互不争抢。
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]*topic
	authorizer Authorizer
	nextSubID  uint64
}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*subscriber
}

// subscriber 持有一个带缓冲的信箱和一个泵协程。
// 信箱保证单订阅者按发布顺序收到事件（FIFO），
// 泵协程把推送隔离在自己的失败边界内。
type subscriber struct {
	id      uint64
	conn    Connection
	mailbox chan Event
	user    EventUser
}

// New 创建一个广播中心。
func New(authorizer Authorizer) *Hub {
	return &Hub{
		topics:     make(map[string]*topic),
		authorizer: authorizer,
	}
}

// Subscription 是一次订阅的句柄。Close 幂等。
type Subscription struct {
	hub      *Hub
	topicKey string
	subID    uint64
	closed   sync.Once
}

// ConversationTopic 返回会话对应的主题键。
func ConversationTopic(conversationID uint) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// Subscribe 将连接注册到会话主题上。
// 鉴权失败时订阅被拒绝（返回错误），成功后向主题广播 user_connected。
func (h *Hub) Subscribe(ctx context.Context, conversationID uint, sess model.SessionContext, conn Connection) (*Subscription, error) {
	if err := h.authorizer.Authorize(ctx, conversationID, sess); err != nil {
		return nil, err
	}

	key := ConversationTopic(conversationID)
	sub := h.attach(key, conn, eventUserFromSession(sess))

	h.Publish(conversationID, PresenceEvent(EventUserConnected, sub.user))

	return &Subscription{hub: h, topicKey: key, subID: sub.id}, nil
}

// SubscribeDashboard 将管理端连接注册到固定的升级主题上。
func (h *Hub) SubscribeDashboard(sess model.SessionContext, conn Connection) (*Subscription, error) {
	if !sess.Admin {
		return nil, apperr.ErrUnauthorized
	}
	sub := h.attach(DashboardTopic, conn, eventUserFromSession(sess))
	return &Subscription{hub: h, topicKey: DashboardTopic, subID: sub.id}, nil
}

// attach 创建订阅者并启动它的泵协程。
func (h *Hub) attach(key string, conn Connection, user EventUser) *subscriber {
	sub := &subscriber{
		id:      atomic.AddUint64(&h.nextSubID, 1),
		conn:    conn,
		mailbox: make(chan Event, mailboxSize),
		user:    user,
	}

	// 在主题表锁内完成插入，避免与空主题清理竞争。
	h.mu.Lock()
	t, ok := h.topics[key]
	if !ok {
		t = &topic{subs: make(map[uint64]*subscriber)}
		h.topics[key] = t
	}
	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()
	h.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish 向会话主题的全部在线订阅者推送事件。
// 主题不存在或没有订阅者时是空操作；事件不持久化，
// 发布时不在线的订阅者收不到。
func (h *Hub) Publish(conversationID uint, event Event) {
	h.publish(ConversationTopic(conversationID), event)
}

// PublishDashboard 向固定的升级主题推送事件。
func (h *Hub) PublishDashboard(event Event) {
	h.publish(DashboardTopic, event)
}

func (h *Hub) publish(key string, event Event) {
	h.mu.RLock()
	t, ok := h.topics[key]
	h.mu.RUnlock()
	if !ok {
		return
	}

	// 信箱写入在主题锁内完成，与退订串行化；
	// 信箱满即丢弃，慢订阅者不拖慢别人。
	t.mu.Lock()
	for _, sub := range t.subs {
		select {
		case sub.mailbox <- event:
		default:
			log.Warnw("订阅者信箱已满，事件被丢弃",
				"topic", key, "event", event.Type())
		}
	}
	t.mu.Unlock()
}

// Close 移除订阅。幂等；与进行中的 Publish 并发调用是安全的。
// 移除后向主题剩余的订阅者广播 user_disconnected，空主题被清理。
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.hub.detach(s.topicKey, s.subID)
	})
}

func (h *Hub) detach(key string, subID uint64) {
	h.mu.Lock()
	t, ok := h.topics[key]
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	sub, ok := t.subs[subID]
	if ok {
		delete(t.subs, subID)
		close(sub.mailbox)
	}
	remaining := len(t.subs)
	var leaving EventUser
	if ok {
		leaving = sub.user
		if remaining > 0 {
			ev := PresenceEvent(EventUserDisconnected, leaving)
			for _, other := range t.subs {
				select {
				case other.mailbox <- ev:
				default:
				}
			}
		}
	}
	t.mu.Unlock()

	if remaining == 0 {
		h.mu.Lock()
		// 并发 attach 可能刚好加入了新订阅者，再确认一次
		t.mu.Lock()
		if len(t.subs) == 0 {
			delete(h.topics, key)
		}
		t.mu.Unlock()
		h.mu.Unlock()
	}
}

// pump 把信箱中的事件依次推给连接。
// 单个订阅者的推送失败或 panic 被隔离在这里，不影响其他订阅者。
func (s *subscriber) pump() {
	for event := range s.mailbox {
		s.push(event)
	}
}

func (s *subscriber) push(event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("订阅者推送 panic", "subscriber", s.id, "panic", r)
		}
	}()
	if err := s.conn.Push(event); err != nil {
		log.Warnw("订阅者推送失败", "subscriber", s.id, "error", err)
	}
}

func eventUserFromSession(sess model.SessionContext) EventUser {
	u := EventUser{Name: sess.Name, Email: sess.Email}
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
