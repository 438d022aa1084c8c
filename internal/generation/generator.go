package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode"

	"mailoreply.ai/platform/internal/encryption"
	"mailoreply.ai/platform/internal/models"
)

var ErrEncryptionUnavailable = errors.New("generation: payload encryption is not configured")

// Generator produces the text for one request.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResponse, error)
}

type webhookPayload struct {
	GenerationType  string `json:"generationType"`
	OriginalMessage string `json:"originalMessage,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	Language        string `json:"language"`
	Tone            string `json:"tone"`
	Intent          string `json:"intent,omitempty"`
	Source          string `json:"source,omitempty"`
	Encrypted       bool   `json:"encrypted"`
	Token           string `json:"token,omitempty"`
}

// WebhookGenerator posts requests to the n8n reply and email workflows.
type WebhookGenerator struct {
	ReplyURL string
	EmailURL string
	Token    string
	Cipher   *encryption.Cipher
	Client   *http.Client
}

func (g *WebhookGenerator) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

// CanEncrypt reports whether encrypted requests can be honoured.
func (g *WebhookGenerator) CanEncrypt() bool {
	return g.Cipher != nil
}

// Generate posts req to the workflow for its type. An encrypted request is
// refused rather than sent in the clear when no cipher is configured.
func (g *WebhookGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResponse, error) {
	if req.Encrypted && g.Cipher == nil {
		return models.GenerationResponse{}, ErrEncryptionUnavailable
	}
	payload := webhookPayload{
		GenerationType: string(req.GenerationType),
		Language:       req.Language,
		Tone:           req.Tone,
		Source:         string(req.Source),
		Encrypted:      req.Encrypted,
		Token:          g.Token,
	}

	var url, text string
	switch req.GenerationType {
	case models.GenerationReply:
		url, text = g.ReplyURL, req.OriginalMessage
		payload.Intent = req.Intent
	case models.GenerationEmail:
		url, text = g.EmailURL, req.Prompt
	default:
		return models.GenerationResponse{}, fmt.Errorf("unknown generation type %q", req.GenerationType)
	}

	if payload.Encrypted {
		sealed, err := g.Cipher.Encrypt(text)
		if err != nil {
			return models.GenerationResponse{}, fmt.Errorf("encrypt payload: %w", err)
		}
		text = sealed
	}
	if req.GenerationType == models.GenerationReply {
		payload.OriginalMessage = text
	} else {
		payload.Prompt = text
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.GenerationResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.GenerationResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.client().Do(httpReq)
	if err != nil {
		return models.GenerationResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.GenerationResponse{}, fmt.Errorf("n8n request failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var out models.GenerationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return models.GenerationResponse{}, fmt.Errorf("decode n8n response: %w", err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "AI generation failed"
		}
		return out, errors.New(msg)
	}
	if req.GenerationType == models.GenerationReply {
		out.Subject = ""
	}
	return out, nil
}

// TestConnection posts a test message to both workflows and reports which
// answered.
func (g *WebhookGenerator) TestConnection(ctx context.Context) (reply, email bool) {
	ping := func(url string) bool {
		body, _ := json.Marshal(map[string]interface{}{"test": true, "token": g.Token})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := g.client().Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	return ping(g.ReplyURL), ping(g.EmailURL)
}

var mockReplies = map[string]string{
	"Say Yes":             "Thank you for your message. Yes, I can help you with that. I'll get back to you shortly with more details.",
	"Say No":              "Thank you for reaching out. Unfortunately, I won't be able to assist with this particular request at this time.",
	"Ask for More Info":   "Thank you for your email. Could you please provide more details about your requirements? This will help me give you a more accurate response.",
	"Delay Reply":         "Thank you for your message. I'm currently reviewing your request and will get back to you within 24 hours with a comprehensive response.",
	"Follow Up":           "Following up on our previous conversation, I wanted to check if you need any additional information or if there's anything else I can help you with.",
	"Confirm Something":   "Thank you for your email. I can confirm that everything looks good on our end and we can proceed as discussed.",
	"Decline Politely":    "Thank you for thinking of us. While we appreciate the opportunity, we won't be able to move forward with this at this time.",
	"Request Action":      "Thank you for your message. Could you please take the following action to help us move forward with your request?",
	"Thank Sender":        "Thank you so much for your email and for taking the time to reach out. Your message is greatly appreciated.",
	"Acknowledge Message": "Thank you for your message. I have received it and wanted to acknowledge that I'm reviewing the details.",
}

// MockGenerator answers from canned templates. It is used when no webhook
// is configured so the product stays usable in development.
type MockGenerator struct{}

func (MockGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.GenerationResponse{}, err
	}
	if req.GenerationType == models.GenerationEmail {
		return mockEmail(req), nil
	}
	return mockReply(req), nil
}

func mockReply(req models.GenerationRequest) models.GenerationResponse {
	reply, ok := mockReplies[req.Intent]
	if !ok {
		reply = mockReplies["Acknowledge Message"]
	}

	switch req.Tone {
	case "Friendly":
		reply = "Hi there! " + reply + " Have a great day!"
	case "Professional":
		reply = "Dear Sender,\n\n" + reply + "\n\nBest regards,\n[Your Name]"
	case "Urgent":
		reply = "URGENT: " + reply
	case "Apologetic":
		reply = "I apologize for any inconvenience. " + reply
	}
	return models.GenerationResponse{Success: true, Content: reply}
}

func mockEmail(req models.GenerationRequest) models.GenerationResponse {
	prompt := req.Prompt
	if prompt == "" {
		prompt = "general inquiry"
	}
	head := []rune(prompt)
	if len(head) > 50 {
		head = head[:50]
	}
	head[0] = unicode.ToUpper(head[0])
	subject := "Re: " + string(head)
	content := fmt.Sprintf("Thank you for your interest. Based on your request about %q, I wanted to provide you with some helpful information.\n\n"+
		"This is a comprehensive response that addresses your inquiry. Please let me know if you need any additional details or clarification.\n\n"+
		"Best regards,\n[Your Name]", prompt)

	switch req.Tone {
	case "Friendly":
		content = "Hi there!\n\n" + content + "\n\nHave a wonderful day!"
	case "Professional":
		content = "Dear Recipient,\n\n" + content + "\n\nSincerely,\n[Your Name]"
	case "Urgent":
		subject = "URGENT: " + subject
		content = "URGENT RESPONSE REQUIRED\n\n" + content
	}
	return models.GenerationResponse{Success: true, Content: content, Subject: subject}
}
