// Package mail 提供了升级通知的邮件发送功能。
// 邮件基础设施是外部协作方，这里只封装最小的 SMTP 投递。
package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"support-chat-go/internal/config"
)

// Sender 定义了邮件发送的接口。
type Sender interface {
	Send(subject, body string) error
}

type smtpSender struct {
	cfg config.MailConfig
}

// NewSender 创建一个 SMTP 发送器。
func NewSender(cfg config.MailConfig) Sender {
	return &smtpSender{cfg: cfg}
}

// Send 向配置的收件人发送一封纯文本邮件。
func (s *smtpSender) Send(subject, body string) error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.cfg.Host == "" || len(s.cfg.To) == 0 {
		return fmt.Errorf("mail is enabled but host or recipients are not configured")
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + strings.Join(s.cfg.To, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	return smtp.SendMail(addr, auth, s.cfg.From, s.cfg.To, []byte(msg))
}
