// Package mailer delivers outreach emails through Resend.
package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/resend"
)

// ResendMailer implements pipeline.EmailPort and pipeline.SendVerifier.
type ResendMailer struct {
	client      resend.Client
	from        string
	replyTo     string
	verifyPages int
}

// Option configures a ResendMailer.
type Option func(*ResendMailer)

// WithReplyTo sets the Reply-To address.
func WithReplyTo(addr string) Option {
	return func(m *ResendMailer) { m.replyTo = addr }
}

// WithVerifyPages bounds how many pages of sent mail VerifySent scans.
func WithVerifyPages(n int) Option {
	return func(m *ResendMailer) { m.verifyPages = n }
}

// NewResendMailer sends as from through client.
func NewResendMailer(client resend.Client, from string, opts ...Option) *ResendMailer {
	m := &ResendMailer{client: client, from: from, verifyPages: 5}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Send delivers msg and returns Resend's message id. The idempotency key
// makes a retried request return the original id instead of sending twice.
func (m *ResendMailer) Send(ctx context.Context, msg model.OutboundEmail) (string, error) {
	resp, err := m.client.Send(ctx, resend.SendRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.Body,
		ReplyTo: m.replyTo,
		SendAt:  msg.SendAt,
	}, msg.IdempotencyKey)
	if err != nil {
		return "", err
	}

	fields := []zap.Field{zap.String("to", msg.To), zap.String("message_id", resp.ID)}
	if msg.SendAt != nil {
		fields = append(fields, zap.Time("send_at", *msg.SendAt))
	}
	zap.L().Debug("mailer: accepted by resend", fields...)
	return resp.ID, nil
}

// VerifySent looks for an email tagged with idempotencyKey.
func (m *ResendMailer) VerifySent(ctx context.Context, idempotencyKey string) (string, bool, error) {
	found, err := resend.FindByKey(ctx, m.client, idempotencyKey, m.verifyPages)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.ID, true, nil
}
