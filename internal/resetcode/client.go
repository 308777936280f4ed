// Package resetcode talks to the password reset code service.
package resetcode

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

// Client implements the send-code and verify-code calls.
type Client struct {
	httpClient *resty.Client
}

type SendCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type VerifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,max=12"`
}

// Reply is the service's answer on success.
type Reply struct {
	Message string `json:"message"`
}

type errorReply struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewClient constructs the client. An empty baseURL disables it.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// SendCode asks the service to mail a reset code to email.
func (c *Client) SendCode(ctx context.Context, req SendCodeRequest) (*Reply, error) {
	return c.post(ctx, "/send-code", req)
}

// VerifyCode checks a code previously sent to email.
func (c *Client) VerifyCode(ctx context.Context, req VerifyCodeRequest) (*Reply, error) {
	return c.post(ctx, "/verify-code", req)
}

func (c *Client) post(ctx context.Context, path string, body any) (*Reply, error) {
	if c == nil {
		return nil, apperr.FailedPrecondition("reset code service is not configured")
	}
	var reply Reply
	var failure errorReply
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&reply).
		SetError(&failure).
		Post(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "reset code service unreachable", err)
	}
	if resp.IsError() {
		msg := failure.Message
		if msg == "" {
			msg = failure.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		if resp.StatusCode() >= 500 {
			return nil, apperr.New(apperr.CodeUnavailable, msg)
		}
		return nil, apperr.InvalidArg(msg)
	}
	return &reply, nil
}
