// Package mailer delivers rendered notification mails.
package mailer

import (
	"context"
	"errors"
	"net/mail"
)

// ErrRejected marks a message the provider refused and will keep refusing.
var ErrRejected = errors.New("mail rejected")

// Message is a single rendered mail to one recipient.
type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
