package mail

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/observability"
)

// Subjects.
const (
	SubjectVerification = "AI小子 - 邮箱验证码"
	SubjectWelcome      = "欢迎加入AI小子！"
)

var (
	ErrNotConfigured = errors.New("mail: smtp not configured")
	ErrAuth          = errors.New("mail: authentication failed")
	ErrConnection    = errors.New("mail: connection failed")
	ErrInvalidRcpt   = errors.New("mail: recipient does not exist")
	ErrRejected      = errors.New("mail: message rejected")
	ErrSend          = errors.New("mail: send failed")
)

// Mailer sends account mail.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendWelcome(ctx context.Context, to, name string) error
	Status() Status
}

// Status describes the mail configuration without credentials.
type Status struct {
	Configured bool   `json:"configured"`
	Host       string `json:"host"`
	From       string `json:"from"`
}

type sendFunc func(ctx context.Context, cfg config.SMTPConfig, from string, rcpts []string, msg []byte) error

// SMTP is a Mailer backed by an SMTP relay.
type SMTP struct {
	cfg  config.SMTPConfig
	now  func() time.Time
	send sendFunc
}

// New returns an SMTP mailer.
func New(cfg config.SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, now: time.Now, send: send}
}

func (m *SMTP) configured() bool {
	return m.cfg.Username != "" && m.cfg.Password != ""
}

// Status reports whether credentials are present.
func (m *SMTP) Status() Status {
	return Status{Configured: m.configured(), Host: m.cfg.Host, From: m.cfg.From}
}

// SendVerificationCode mails a six-digit code.
func (m *SMTP) SendVerificationCode(ctx context.Context, to, code string) error {
	return m.deliver(ctx, "SendVerificationCode", Message{
		From: m.cfg.From, To: []string{to}, Subject: SubjectVerification, Body: verificationBody(code),
	})
}

// SendWelcome mails the welcome note. name may be empty.
func (m *SMTP) SendWelcome(ctx context.Context, to, name string) error {
	return m.deliver(ctx, "SendWelcome", Message{
		From: m.cfg.From, To: []string{to}, Subject: SubjectWelcome, Body: welcomeBody(name),
	})
}

func (m *SMTP) deliver(ctx context.Context, op string, msg Message) (err error) {
	if !m.configured() {
		return ErrNotConfigured
	}
	ctx, span := otel.Tracer("mail/SMTP").Start(ctx, op,
		trace.WithAttributes(attribute.String("smtp.host", m.cfg.Host)),
	)
	defer span.End()

	raw, err := Compose(msg, m.now())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("compose: %w", err)
	}
	rcpts := make([]string, len(msg.To))
	for i, a := range msg.To {
		rcpts[i] = bareAddress(a)
	}

	start := time.Now()
	err = m.send(ctx, m.cfg, bareAddress(msg.From), rcpts, raw)
	observability.ObserveUpstream(observability.UpstreamSMTP, start, err)
	if err != nil {
		span.RecordError(err)
		return Classify(err)
	}
	return nil
}

// Classify maps a send failure to one of the package sentinels, keeping the
// original error in the chain.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrAuth), errors.Is(err, ErrConnection),
		errors.Is(err, ErrInvalidRcpt), errors.Is(err, ErrRejected), errors.Is(err, ErrSend):
		return err
	}
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch tp.Code {
		case 535, 534, 530:
			return fmt.Errorf("%w: %w", ErrAuth, err)
		case 550, 551, 553:
			return fmt.Errorf("%w: %w", ErrInvalidRcpt, err)
		case 554:
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrSend, err)
}

// UserMessage is the text shown to the person who asked for the mail.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "邮件服务未配置"
	case errors.Is(err, ErrAuth):
		return "邮件服务认证失败，请联系管理员"
	case errors.Is(err, ErrConnection):
		return "邮件服务器连接失败"
	case errors.Is(err, ErrInvalidRcpt):
		return "邮箱地址无效或不存在"
	case errors.Is(err, ErrRejected):
		return "邮件被拒绝，请检查邮箱地址"
	default:
		return "邮件发送失败，请稍后重试"
	}
}
