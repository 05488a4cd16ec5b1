package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/MrEthical07/storeauth/internal/verification"
)

// Mailer sends a plain-text email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Router implements verification.Sender by picking the channel from the
// request kind: phone changes go out by SMS, everything else by email.
type Router struct {
	Mail    Mailer
	SMS     SMSSender
	Product string
}

var _ verification.Sender = (*Router)(nil)

// SendCode renders and sends code for kind to target.
func (r *Router) SendCode(ctx context.Context, kind verification.Kind, target, code string) error {
	product := r.Product
	if product == "" {
		product = "Store Admin"
	}
	if kind == verification.KindPhoneChange {
		if r.SMS == nil {
			return fmt.Errorf("notify: no sms sender configured")
		}
		return r.SMS.SendSMS(ctx, target, fmt.Sprintf("%s: your verification code is %s", product, code))
	}
	if r.Mail == nil {
		return fmt.Errorf("notify: no mailer configured")
	}
	subject, intro := message(kind)
	body := fmt.Sprintf("%s\n\nYour code is %s. It expires in %d minutes.\n\nIf you did not request this, you can ignore this email.\n",
		intro, code, int(verification.DefaultCodeTTL.Minutes()))
	return r.Mail.SendEmail(ctx, target, product+": "+subject, body)
}

func message(kind verification.Kind) (subject, intro string) {
	switch kind {
	case verification.KindSignupEmail:
		return "verify your email", "Use the code below to verify your email address."
	case verification.KindEmailChange:
		return "confirm your new email", "Use the code below to confirm your new email address."
	case verification.KindPasswordReset:
		return "reset your password", "Use the code below to reset your password."
	default:
		return "verification code", "Use the code below to continue."
	}
}

// LogMailer records that an email was sent without its body. It is meant for
// development, where codes are read from the stores directly.
type LogMailer struct{}

func (LogMailer) SendEmail(_ context.Context, to, subject, _ string) error {
	log.Printf("storeauth: email %q queued for %s", subject, to)
	return nil
}

// LogSMS is the SMS counterpart of [LogMailer].
type LogSMS struct{}

func (LogSMS) SendSMS(_ context.Context, to, _ string) error {
	log.Printf("storeauth: sms queued for %s", to)
	return nil
}
