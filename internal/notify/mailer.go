package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MailSender hands a rendered message to the delivery service. Best effort,
// no delivery guarantee beyond at-least-once.
type MailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Mailer posts to a SendGrid-style delivery API.
type Mailer struct {
	BaseURL    string
	APIKey     string
	From       string
	HTTPClient *http.Client
}

func NewMailer(baseURL, apiKey, from string) *Mailer {
	return &Mailer{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		From:       from,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type mailAddress struct {
	Email string `json:"email"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailRequest struct {
	Personalizations []struct {
		To []mailAddress `json:"to"`
	} `json:"personalizations"`
	From    mailAddress   `json:"from"`
	Subject string        `json:"subject"`
	Content []mailContent `json:"content"`
}

func (m *Mailer) Send(ctx context.Context, to, subject, html string) error {
	body := mailRequest{
		Personalizations: []struct {
			To []mailAddress `json:"to"`
		}{{To: []mailAddress{{Email: to}}}},
		From:    mailAddress{Email: m.From},
		Subject: subject,
		Content: []mailContent{{Type: "text/html", Value: html}},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/v3/mail/send", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail delivery failed: status %d", resp.StatusCode)
	}
	return nil
}
