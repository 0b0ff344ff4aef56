package model

// SessionContext 是一次请求的显式身份载体。
// 访客只有 SessionID；登录的坐席/管理员带有 UserID 与角色。
// 入口服务和广播中心的鉴权都只依赖这个值，不读取任何隐式请求状态。
type SessionContext struct {
	SessionID string
	UserID    *uint
	Admin     bool
	Name      string
	Email     string
}

// Owns 判断该身份是否拥有给定的会话。
func (s SessionContext) Owns(conv *Conversation) bool {
	if s.Admin {
		return true
	}
	if s.UserID != nil && conv.UserID != nil && *s.UserID == *conv.UserID {
		return true
	}
	return s.SessionID != "" && s.SessionID == conv.SessionID
}

// DisplayName 返回用于通知展示的名字：
// 优先元数据中的 name，其次访客 id，最后用占位符。
func (s SessionContext) DisplayName(meta ConversationMeta) string {
	if meta.Name != "" {
		return meta.Name
	}
	if s.Name != "" {
		return s.Name
	}
	if s.SessionID != "" {
		return "guest-" + s.SessionID
	}
	return "お客様"
}
