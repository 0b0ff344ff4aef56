package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/config"
	"support-chat-go/internal/hub"
	"support-chat-go/internal/model"
	"support-chat-go/internal/repository"
	"support-chat-go/pkg/log"
	"support-chat-go/pkg/mail"
	"support-chat-go/pkg/slack"
)

// 升级通知的渠道。
const (
	ChannelEmail     = "email"
	ChannelSlack     = "slack"
	ChannelDashboard = "dashboard"
	ChannelAll       = "all"
)

// EscalationService 消费一条分析结果，判定是否需要升级并向人工通知。
type EscalationService interface {
	// Notify 解析分析记录并向指定渠道通知。
	// forced 为 false 时仅在 RequiresEscalation 成立的情况下继续。
	// 分析不存在是永久失败；其余错误向上传播给调用方的重试策略。
	Notify(ctx context.Context, analysisID uint, channel string, forced bool) error
}

type escalationService struct {
	analysisRepo repository.AnalysisRepository
	publisher    Publisher
	slackClient  slack.Notifier
	mailSender   mail.Sender
	cfg          config.EscalationConfig
}

// NewEscalationService 创建一个新的 EscalationService 实例。
func NewEscalationService(
	analysisRepo repository.AnalysisRepository,
	publisher Publisher,
	slackClient slack.Notifier,
	mailSender mail.Sender,
	cfg config.EscalationConfig,
) EscalationService {
	return &escalationService{
		analysisRepo: analysisRepo,
		publisher:    publisher,
		slackClient:  slackClient,
		mailSender:   mailSender,
		cfg:          cfg,
	}
}

func (s *escalationService) Notify(ctx context.Context, analysisID uint, channel string, forced bool) error {
	analysis, err := s.analysisRepo.FindByID(ctx, analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}

	if !forced && !analysis.RequiresEscalation() {
		log.Infof("分析 %d 不满足升级条件，跳过通知", analysisID)
		return nil
	}

	switch channel {
	case ChannelDashboard:
		s.notifyDashboard(analysis)
	case ChannelSlack:
		s.notifySlack(ctx, analysis)
	case ChannelEmail:
		if err := s.notifyMail(analysis); err != nil {
			return err
		}
	case ChannelAll:
		// "all" 指配置中启用的全部渠道
		for _, enabled := range s.enabledChannels() {
			switch enabled {
			case ChannelDashboard:
				s.notifyDashboard(analysis)
			case ChannelSlack:
				s.notifySlack(ctx, analysis)
			case ChannelEmail:
				if err := s.notifyMail(analysis); err != nil {
					return err
				}
			default:
				log.Warnf("配置中存在未知的升级通知渠道: %s", enabled)
			}
		}
	default:
		return apperr.NewValidationError("channel", "不正な通知チャネルです: "+channel)
	}

	// 升级状态迁移是幂等的：已升级的记录不会二次写入 escalated_at
	transitioned, err := s.analysisRepo.MarkEscalated(ctx, analysisID)
	if err != nil {
		return err
	}
	if transitioned {
		log.Infow("分析已标记为升级",
			"analysis_id", analysisID, "conversation_id", analysis.ConversationID)
	}
	return nil
}

// enabledChannels 返回配置启用的升级通知渠道。
// 未配置时退化为全部渠道。
func (s *escalationService) enabledChannels() []string {
	if len(s.cfg.Channels) == 0 {
		return []string{ChannelDashboard, ChannelSlack, ChannelEmail}
	}
	return s.cfg.Channels
}

// notifyDashboard 向固定的升级主题广播 new_escalation 事件。
// 即使分析已经升级过，事件也会再次广播（只有状态迁移是幂等的）。
func (s *escalationService) notifyDashboard(analysis *model.Analysis) {
	s.publisher.PublishDashboard(hub.NewEscalationEvent(
		analysis.ID,
		analysis.ConversationID,
		strValue(analysis.PriorityLevel),
		strValue(analysis.Sentiment),
		analysis.EscalationReasons(),
	))
}

// notifySlack 构造结构化消息并投递到 chat-ops Webhook。
// 投递失败只记日志，不内联重试：重试交给外层任务队列的策略。
func (s *escalationService) notifySlack(ctx context.Context, analysis *model.Analysis) {
	priority := strValue(analysis.PriorityLevel)
	payload := slack.Payload{
		Text: "エスカレーションが必要な会話があります",
		Attachments: []slack.Attachment{{
			Color: priorityColor(priority),
			Title: fmt.Sprintf("会話 #%d の分析 #%d", analysis.ConversationID, analysis.ID),
			Fields: []slack.Field{
				{Title: "優先度", Value: priority, Short: true},
				{Title: "感情", Value: strValue(analysis.Sentiment), Short: true},
				{Title: "理由", Value: strings.Join(analysis.EscalationReasons(), ", ")},
			},
		}},
	}
	if err := s.slackClient.Post(ctx, payload); err != nil {
		log.Warnf("chat-ops 升级通知发送失败: analysis=%d, err=%v", analysis.ID, err)
	}
}

func (s *escalationService) notifyMail(analysis *model.Analysis) error {
	subject := fmt.Sprintf("【エスカレーション】会話 #%d", analysis.ConversationID)
	body := fmt.Sprintf(
		"会話 #%d の分析 #%d がエスカレーション条件を満たしました。\n優先度: %s\n感情: %s\n理由: %s\n",
		analysis.ConversationID, analysis.ID,
		strValue(analysis.PriorityLevel), strValue(analysis.Sentiment),
		strings.Join(analysis.EscalationReasons(), ", "))
	return s.mailSender.Send(subject, body)
}

// priorityColor 将优先级映射为 chat-ops 消息的颜色。
func priorityColor(priority string) string {
	switch priority {
	case model.PriorityUrgent:
		return "danger"
	case model.PriorityHigh:
		return "warning"
	case model.PriorityMedium:
		return "good"
	default:
		return "#cccccc"
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
