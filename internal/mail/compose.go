// Package mail composes and sends account mail (verification codes and
// welcome notes) over SMTP.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
)

// Message is one outgoing mail. Body is Markdown.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Compose builds an RFC 5322 multipart/alternative message with a plain
// text part and an HTML part rendered from the Markdown body.
func Compose(m Message, now time.Time) ([]byte, error) {
	var h gomail.Header
	h.SetDate(now)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(m.Subject)

	from, err := gomail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", m.From, err)
	}
	h.SetAddressList("From", []*gomail.Address{from})

	to := make([]*gomail.Address, 0, len(m.To))
	for _, a := range m.To {
		addr, err := gomail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		to = append(to, addr)
	}
	h.SetAddressList("To", to)

	html, err := markdownToHTML(m.Body)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	if err := writePart(tw, "text/plain; charset=utf-8", markdownToPlain(m.Body)); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html; charset=utf-8", html); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.Set("Content-Type", contentType)
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return w.Close()
}

func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
%s
</body></html>`, buf.String()), nil
}

var (
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.+?)\*`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

func markdownToPlain(md string) string {
	s := mdLink.ReplaceAllString(md, "$1 ($2)")
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

const footer = "\n\n---\n\n此邮件由AI小子系统自动发送，请勿回复。\n"

func verificationBody(code string) string {
	return "## AI小子邮箱验证\n\n" +
		"您的验证码是：\n\n" +
		"# **" + code + "**\n\n" +
		"验证码有效期为10分钟，请及时使用。如果您没有请求此验证码，请忽略此邮件。" +
		footer
}

func welcomeBody(name string) string {
	greeting := "您好！"
	if strings.TrimSpace(name) != "" {
		greeting = "亲爱的 " + name + "，"
	}
	return "## 🎉 欢迎加入AI小子大家庭！\n\n" +
		greeting + "\n\n" +
		"感谢您注册AI小子！现在您可以：\n\n" +
		"- 🤖 与AI小子进行智能对话\n" +
		"- 🔍 使用联网搜索功能获取最新信息\n" +
		"- 📁 上传文件进行分析和讨论\n" +
		"- 🌤️ 查询天气信息\n" +
		"- 🎵 享受语音交互功能\n\n" +
		"开始您的AI之旅吧！如果您有任何问题，请随时联系我们。" +
		footer
}
