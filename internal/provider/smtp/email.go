package smtp

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Client struct {
	host string
	port string
	user string
	pass string
	from string
}

type Config struct {
	Host string
	Port string
	User string
	Pass string
	From string // optional override; if empty will use User
}

func NewClient(cfg Config) *Client {
	from := cfg.From
	if strings.TrimSpace(from) == "" {
		from = cfg.User
	}
	return &Client{host: cfg.Host, port: cfg.Port, user: cfg.User, pass: cfg.Pass, from: from}
}

// Send sends a plain text email via STARTTLS if supported.
func (c *Client) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%s", c.host, c.port)
	auth := smtp.PlainAuth("", c.user, c.pass, c.host)
	headers := map[string]string{
		"From":         c.from,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=utf-8",
	}
	var sb strings.Builder
	for k, v := range headers {
		sb.WriteString(k + ": " + v + "\r\n")
	}
	sb.WriteString("\r\n" + body)

	// smtp.SendMail upgrades the connection with STARTTLS when the server
	// advertises it; there is no implicit-TLS dial.
	return smtp.SendMail(addr, auth, c.from, []string{to}, []byte(sb.String()))
}

// SendHTML sends a multipart/alternative email carrying both an HTML and
// a plain-text body.
func (c *Client) SendHTML(to, subject, htmlBody, textBody string) error {
	addr := fmt.Sprintf("%s:%s", c.host, c.port)
	auth := smtp.PlainAuth("", c.user, c.pass, c.host)
	const boundary = "ticketflow-alternative"
	var sb strings.Builder
	sb.WriteString("From: " + c.from + "\r\nTo: " + to + "\r\nSubject: " + subject + "\r\nMIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")
	sb.WriteString("--" + boundary + "\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + textBody + "\r\n")
	sb.WriteString("--" + boundary + "\r\nContent-Type: text/html; charset=utf-8\r\n\r\n" + htmlBody + "\r\n")
	sb.WriteString("--" + boundary + "--\r\n")
	return smtp.SendMail(addr, auth, c.from, []string{to}, []byte(sb.String()))
}

// SendOTP convenience helper
func (c *Client) SendOTP(to, purpose, code string) error {
	subject := fmt.Sprintf("Your %s OTP Code", strings.Title(strings.ReplaceAll(purpose, "_", " ")))
	body := fmt.Sprintf("Your %s verification code is: %s\nIt expires shortly. If you did not request this, please ignore.", purpose, code)
	return c.Send(to, subject, body)
}
