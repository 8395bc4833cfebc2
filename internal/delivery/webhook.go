package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/domain"
)

// WebhookSender delivers an Envelope as an HTTP request, per §4.3.1 #1.
type WebhookSender struct {
	client   *http.Client
	security config.OutputSecurityConfig
}

func NewWebhookSender(client *http.Client, security config.OutputSecurityConfig) *WebhookSender {
	return &WebhookSender{client: client, security: security}
}

func (s *WebhookSender) Send(ctx context.Context, env Envelope, dest domain.Destination, tmplCtx Context) Attempt {
	cfg := dest.Webhook
	if cfg == nil {
		return failAttempt(domain.KindConfigError, "webhook destination missing its config", false)
	}

	url, err := Render(cfg.URLTemplate, tmplCtx)
	if err != nil {
		return failAttempt(domain.KindConfigError, err.Error(), false)
	}
	if verr := ValidateWebhookURL(url, s.security); verr != nil {
		return failAttempt(domain.KindAuthorizationDenied, verr.Error(), false)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return failAttempt(domain.KindInternalError, "marshal envelope: "+err.Error(), false)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return failAttempt(domain.KindInternalError, err.Error(), false)
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	for k, vtmpl := range cfg.Headers {
		v, err := Render(vtmpl, tmplCtx)
		if err != nil {
			return failAttempt(domain.KindConfigError, err.Error(), false)
		}
		req.Header.Set(k, v)
	}
	if err := applyAuth(req, body, cfg.Auth, tmplCtx); err != nil {
		return failAttempt(domain.KindConfigError, err.Error(), false)
	}

	client := s.client
	if cfg.Timeout > 0 {
		clientCopy := *client
		clientCopy.Timeout = cfg.Timeout
		client = &clientCopy
	}

	resp, err := client.Do(req)
	if err != nil {
		return failAttempt(domain.KindTransportError, err.Error(), true)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	info := domain.JSONDoc(fmt.Sprintf(`{"status_code":%d,"body":%q}`, resp.StatusCode, string(respBody)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Attempt{Success: true, SizeBytes: int64(len(body)), ResponseInfo: info}
	}

	retryable := isRetryableStatus(resp.StatusCode, cfg.RetryPolicy.RetryOnStatus)
	return Attempt{
		Success:      false,
		Retryable:    retryable,
		ResponseInfo: info,
		ErrorKind:    domain.KindTransportError,
		ErrorMessage: fmt.Sprintf("webhook returned status %d", resp.StatusCode),
	}
}

// isRetryableStatus implements §4.3.2: all 5xx and 429 are retryable
// implicitly; retry_on_status extends that set for specific other codes.
func isRetryableStatus(status int, extra []int) bool {
	if status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	for _, s := range extra {
		if s == status {
			return true
		}
	}
	return false
}

func applyAuth(req *http.Request, body []byte, auth *domain.WebhookAuth, tmplCtx Context) error {
	if auth == nil {
		return nil
	}
	switch auth.Kind {
	case domain.WebhookAuthBearer:
		token, err := Render(auth.Token, tmplCtx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case domain.WebhookAuthBasic:
		user, err := Render(auth.Username, tmplCtx)
		if err != nil {
			return err
		}
		pass, err := Render(auth.Password, tmplCtx)
		if err != nil {
			return err
		}
		req.SetBasicAuth(user, pass)
	case domain.WebhookAuthAPIKey:
		key, err := Render(auth.Key, tmplCtx)
		if err != nil {
			return err
		}
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, key)
	case domain.WebhookAuthHMAC:
		secret, err := Render(auth.Secret, tmplCtx)
		if err != nil {
			return err
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	return nil
}

func failAttempt(kind domain.ErrorKind, msg string, retryable bool) Attempt {
	return Attempt{Success: false, Retryable: retryable, ErrorKind: kind, ErrorMessage: msg}
}
