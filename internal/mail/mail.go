package mail

import (
	"context"
	"fmt"
	"net/url"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// Message is the payload handed to a Sender. Senders never format templates.
type Message struct {
	To      []Address
	From    Address
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages. Send reports whether the transport accepted the
// message; transport errors are logged by the sender and never returned.
type Sender interface {
	Send(ctx context.Context, msg Message) bool
}

// Composer builds the reset and verification messages.
type Composer struct {
	From      Address
	PublicURL string
	ResetPath string
}

// PasswordReset builds the reset message carrying token.
func (c Composer) PasswordReset(to Address, token string) Message {
	link := c.link(c.ResetPath, token)
	return Message{
		To:      []Address{withFallbackName(to, "Dear User")},
		From:    c.From,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Please reset your password by clicking the link below: %s", link),
		HTML:    fmt.Sprintf(`<p>Please reset your password by clicking <a href="%s">this link</a>.</p>`, link),
	}
}

// EmailVerification builds the verification message carrying token.
func (c Composer) EmailVerification(to Address, token string) Message {
	link := c.link("verify-email", token)
	return Message{
		To:      []Address{withFallbackName(to, "New User")},
		From:    c.From,
		Subject: "Verify your email",
		Text:    fmt.Sprintf("Please verify your email by clicking the link below: %s", link),
		HTML:    fmt.Sprintf(`<p>Please verify your email by clicking <a href="%s">this link</a>.</p>`, link),
	}
}

func (c Composer) link(path, token string) string {
	return fmt.Sprintf("%s/%s?token=%s", c.PublicURL, path, url.QueryEscape(token))
}

func withFallbackName(addr Address, name string) Address {
	if addr.Name == "" {
		addr.Name = name
	}
	return addr
}
