package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/textproto"
	"strings"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/aixiaozi/go-kids-chat/internal/config"
)

func readParts(t *testing.T, raw []byte) (subject string, plain, html string) {
	t.Helper()
	r, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("CreateReader: %v", err)
	}
	subject, err = r.Header.Subject()
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, _ := io.ReadAll(p.Body)
		switch ct {
		case "text/plain":
			plain = string(b)
		case "text/html":
			html = string(b)
		}
	}
	return subject, plain, html
}

func TestCompose(t *testing.T) {
	raw, err := Compose(Message{
		From:    "AI小子 <bot@example.com>",
		To:      []string{"kid@example.com"},
		Subject: SubjectVerification,
		Body:    verificationBody("123456"),
	}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	subject, plain, html := readParts(t, raw)
	if subject != SubjectVerification {
		t.Errorf("subject=%q", subject)
	}
	if !strings.Contains(plain, "123456") || strings.Contains(plain, "**") {
		t.Errorf("plain part=%q", plain)
	}
	if !strings.Contains(plain, "10分钟") {
		t.Errorf("plain missing validity notice: %q", plain)
	}
	if !strings.Contains(html, "<strong>123456</strong>") {
		t.Errorf("html part=%q", html)
	}
}

func TestCompose_BadAddress(t *testing.T) {
	if _, err := Compose(Message{From: "not an address", To: []string{"a@b.c"}}, time.Now()); err == nil {
		t.Fatal("expected error for bad from")
	}
	if _, err := Compose(Message{From: "a@b.c", To: []string{"<<"}}, time.Now()); err == nil {
		t.Fatal("expected error for bad to")
	}
}

func TestWelcomeBody(t *testing.T) {
	if !strings.Contains(welcomeBody(""), "您好！") {
		t.Error("anonymous greeting missing")
	}
	if !strings.Contains(welcomeBody("小明"), "亲爱的 小明，") {
		t.Error("named greeting missing")
	}
}

func TestBareAddress(t *testing.T) {
	cases := map[string]string{
		"user@example.com":          "user@example.com",
		"Alice <alice@example.com>": "alice@example.com",
		"<user@test.com>":           "user@test.com",
		"":                          "",
		"Alice <user@test.com":      "Alice <user@test.com",
	}
	for in, want := range cases {
		if got := bareAddress(in); got != want {
			t.Errorf("bareAddress(%q)=%q want %q", in, got, want)
		}
	}
}

func TestSMTP_NotConfigured(t *testing.T) {
	m := New(config.SMTPConfig{Host: "smtp.example.com", From: "bot@example.com"})
	if err := m.SendVerificationCode(context.Background(), "a@b.c", "123456"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v", err)
	}
	if err := m.SendWelcome(context.Background(), "a@b.c", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v", err)
	}
	st := m.Status()
	if st.Configured || st.Host != "smtp.example.com" || st.From != "bot@example.com" {
		t.Errorf("status=%+v", st)
	}
}

func TestSMTP_Send(t *testing.T) {
	m := New(config.SMTPConfig{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", From: "AI小子 <bot@example.com>"})
	var gotFrom string
	var gotRcpts []string
	var gotMsg []byte
	m.send = func(_ context.Context, _ config.SMTPConfig, from string, rcpts []string, msg []byte) error {
		gotFrom, gotRcpts, gotMsg = from, rcpts, msg
		return nil
	}

	if err := m.SendWelcome(context.Background(), "kid@example.com", "小明"); err != nil {
		t.Fatalf("SendWelcome: %v", err)
	}
	if gotFrom != "bot@example.com" || len(gotRcpts) != 1 || gotRcpts[0] != "kid@example.com" {
		t.Errorf("envelope from=%q rcpts=%v", gotFrom, gotRcpts)
	}
	if subject, _, _ := readParts(t, gotMsg); subject != SubjectWelcome {
		t.Errorf("subject=%q", subject)
	}
	if !m.Status().Configured {
		t.Error("expected configured")
	}
}

func TestSMTP_SendErrorClassified(t *testing.T) {
	m := New(config.SMTPConfig{Host: "h", Port: 587, Username: "u", Password: "p", From: "bot@example.com", StartTLS: true})
	m.send = func(context.Context, config.SMTPConfig, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "no such user"}
	}
	err := m.SendVerificationCode(context.Background(), "ghost@example.com", "111111")
	if !errors.Is(err, ErrInvalidRcpt) {
		t.Fatalf("err=%v", err)
	}
	if UserMessage(err) != "邮箱地址无效或不存在" {
		t.Errorf("message=%q", UserMessage(err))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   error
		want error
		msg  string
	}{
		{&textproto.Error{Code: 535}, ErrAuth, "邮件服务认证失败，请联系管理员"},
		{&textproto.Error{Code: 554}, ErrRejected, "邮件被拒绝，请检查邮箱地址"},
		{&textproto.Error{Code: 421}, ErrSend, "邮件发送失败，请稍后重试"},
		{errors.New("boom"), ErrSend, "邮件发送失败，请稍后重试"},
		{ErrConnection, ErrConnection, "邮件服务器连接失败"},
	}
	for _, tc := range cases {
		got := Classify(tc.in)
		if !errors.Is(got, tc.want) {
			t.Errorf("Classify(%v)=%v want %v", tc.in, got, tc.want)
		}
		if m := UserMessage(got); m != tc.msg {
			t.Errorf("UserMessage(%v)=%q want %q", got, m, tc.msg)
		}
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := send(ctx, config.SMTPConfig{Host: "127.0.0.1", Port: 1, StartTLS: true}, "a@b.c", []string{"d@e.f"}, nil)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("err=%v", err)
	}
}
