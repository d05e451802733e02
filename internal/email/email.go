package email

import (
	"fmt"
	"net/smtp"
)

// Sender delivers plain-text mail over SMTP.
type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// New returns nil when SMTP is not configured; callers treat a nil Sender as
// "notifications disabled".
func New(host, port, username, password, from string) *Sender {
	if host == "" || port == "" || username == "" || password == "" {
		return nil
	}
	return &Sender{Host: host, Port: port, Username: username, Password: password, From: from}
}

func (s *Sender) Send(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", s.From, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	return smtp.SendMail(addr, auth, s.From, []string{to}, msg)
}
