package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"gorm.io/gorm"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/config"
	"support-chat-go/internal/hub"
	"support-chat-go/internal/model"
	"support-chat-go/internal/repository"
	"support-chat-go/pkg/log"
	"support-chat-go/pkg/slack"
)

// Publisher 是服务层对广播中心的依赖面。
type Publisher interface {
	Publish(conversationID uint, event hub.Event)
	PublishDashboard(event hub.Event)
}

// MessageService 是消息入口：校验、持久化并决定一条新消息的后续动作。
type MessageService interface {
	SubmitMessage(ctx context.Context, conversationID uint, sess model.SessionContext, content, role string, metadata map[string]interface{}) (*model.Message, error)
}

type messageService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	dispatcher  DispatchService
	publisher   Publisher
	slackClient slack.Notifier
	chatCfg     config.ChatConfig
	analysisCfg config.AnalysisConfig
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	dispatcher DispatchService,
	publisher Publisher,
	slackClient slack.Notifier,
	chatCfg config.ChatConfig,
	analysisCfg config.AnalysisConfig,
) MessageService {
	return &messageService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		dispatcher:  dispatcher,
		publisher:   publisher,
		slackClient: slackClient,
		chatCfg:     chatCfg,
		analysisCfg: analysisCfg,
	}
}

// SubmitMessage 校验并持久化一条消息，随后：
//  1. 广播 new_message；
//  2. 依次评估四个互相独立的后续触发（首条消息预览分析、
//     新客户通知、助手回复生成、预览窗口复评）。
//
// 触发失败只记日志，绝不回滚已写入的消息。
func (s *messageService) SubmitMessage(ctx context.Context, conversationID uint, sess model.SessionContext, content, role string, metadata map[string]interface{}) (*model.Message, error) {
	if err := s.validate(content, role); err != nil {
		return nil, err
	}

	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if !sess.Owns(conv) {
		return nil, apperr.ErrUnauthorized
	}

	msg := &model.Message{
		ConversationID: conversationID,
		Content:        content,
		Role:           role,
	}
	if len(metadata) > 0 {
		raw, merr := json.Marshal(metadata)
		if merr != nil {
			return nil, apperr.NewValidationError("metadata", "メタデータを解析できません")
		}
		msg.Metadata = raw
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, err
	}

	// 时间戳更新是 best-effort，与消息写入不绑在同一事务里
	if err := s.convRepo.Touch(ctx, conversationID); err != nil {
		log.Warnf("更新会话时间戳失败: conversation=%d, err=%v", conversationID, err)
	}

	s.publisher.Publish(conversationID, hub.NewMessageEvent(
		msg.ID, msg.Content, msg.Role, msg.CreatedAt, s.eventUser(sess)))

	if role == model.RoleUser {
		s.runTriggers(ctx, conv, msg, sess)
	}

	return msg, nil
}

func (s *messageService) validate(content, role string) error {
	if content == "" {
		return apperr.NewValidationError("content", "メッセージを入力してください")
	}
	if utf8.RuneCountInString(content) > s.chatCfg.MaxMessageLength {
		return apperr.NewValidationError("content",
			fmt.Sprintf("メッセージは %d 文字以内で入力してください", s.chatCfg.MaxMessageLength))
	}
	if !model.ValidRole(role) {
		return apperr.NewValidationError("role", "不正なロールです: "+role)
	}
	return nil
}

// runTriggers 按固定顺序评估用户消息的后续动作。
// 首条消息的判定基于写入后的计数查询；并发提交同一新会话时
// 存在双触发的窗口，通知本身可重复，不做去重。
func (s *messageService) runTriggers(ctx context.Context, conv *model.Conversation, msg *model.Message, sess model.SessionContext) {
	userTurns, err := s.messageRepo.CountByRole(ctx, conv.ID, model.RoleUser)
	if err != nil {
		log.Errorf("统计用户消息数失败: conversation=%d, err=%v", conv.ID, err)
		userTurns = 0
	}

	// 1) 首条用户消息：触发预览分析
	if userTurns == 1 {
		if err := s.dispatcher.DispatchPreviewAnalysis(ctx, conv.ID); err != nil {
			log.Warnf("预览分析入队失败: conversation=%d, err=%v", conv.ID, err)
		}
	}

	// 2) 首条用户消息 + 新客户 + 已设置类别：外部通知
	if userTurns == 1 {
		s.notifyNewCustomer(ctx, conv, msg, sess)
	}

	// 3) 用户消息总是触发助手回复生成
	if err := s.dispatcher.DispatchAssistantReply(ctx, conv.ID, msg.ID); err != nil {
		log.Warnf("助手回复任务入队失败: conversation=%d, err=%v", conv.ID, err)
	}

	// 4) 预览窗口复评（默认 2〜3 次用户发言，含边界）
	if s.analysisCfg.PreviewEnabled &&
		userTurns >= int64(s.analysisCfg.PreviewMinTurns) &&
		userTurns <= int64(s.analysisCfg.PreviewMaxTurns) {
		if err := s.dispatcher.DispatchPreviewAnalysis(ctx, conv.ID); err != nil {
			log.Warnf("预览复评入队失败: conversation=%d, err=%v", conv.ID, err)
		}
	}
}

// notifyNewCustomer 在新客户首次发言且会话带有类别时向 chat-ops 通知。
func (s *messageService) notifyNewCustomer(ctx context.Context, conv *model.Conversation, msg *model.Message, sess model.SessionContext) {
	meta := s.conversationMeta(conv)
	if meta.CustomerType != "new" || meta.Category == "" {
		return
	}

	payload := slack.Payload{
		Text: "新規のお客様からお問い合わせがありました",
		Attachments: []slack.Attachment{{
			Color: "good",
			Fields: []slack.Field{
				{Title: "カテゴリ", Value: meta.Category, Short: true},
				{Title: "お客様", Value: sess.DisplayName(meta), Short: true},
				{Title: "メッセージ", Value: msg.Content},
				{Title: "会話 ID", Value: fmt.Sprintf("%d", conv.ID), Short: true},
			},
		}},
	}
	if err := s.slackClient.Post(ctx, payload); err != nil {
		log.Warnf("新客户通知发送失败: conversation=%d, err=%v", conv.ID, err)
	}
}

func (s *messageService) conversationMeta(conv *model.Conversation) model.ConversationMeta {
	var meta model.ConversationMeta
	if len(conv.Metadata) > 0 {
		if err := json.Unmarshal(conv.Metadata, &meta); err != nil {
			log.Warnf("解析会话元数据失败: conversation=%d, err=%v", conv.ID, err)
		}
	}
	return meta
}

func (s *messageService) eventUser(sess model.SessionContext) *hub.EventUser {
	if sess.SessionID == "" && sess.UserID == nil {
		return nil
	}
	u := hub.EventUser{Name: sess.Name}
	if sess.UserID != nil {
		u.ID = fmt.Sprintf("user-%d", *sess.UserID)
	} else {
		u.ID = sess.SessionID
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	return &u
}
