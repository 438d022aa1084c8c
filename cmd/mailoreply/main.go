package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"mailoreply.ai/platform/internal/clipboard"
	"mailoreply.ai/platform/internal/models"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		State    string                    `json:"state"`
		Response models.GenerationResponse `json:"response"`
		Usage    *models.UsageStats        `json:"usage"`
	} `json:"data"`
}

func main() {
	var (
		apiURL   = flag.String("api", envOr("MAILOREPLY_API_URL", "http://localhost:8080"), "API base URL")
		token    = flag.String("token", os.Getenv("MAILOREPLY_TOKEN"), "bearer token")
		mode     = flag.String("mode", "reply", "reply or email")
		tone     = flag.String("tone", "Professional", "tone")
		language = flag.String("language", "English", "language")
		intent   = flag.String("intent", "Acknowledge Message", "reply intent")
		prompt   = flag.String("prompt", "", "email prompt or original message; read from stdin when empty")
		encrypt  = flag.Bool("encrypt", false, "encrypt the text sent to the AI workflow")
		copyOut  = flag.Bool("copy", false, "copy the result to the clipboard")
		timeout  = flag.Duration("timeout", 45*time.Second, "request timeout")
	)
	flag.Parse()

	if *token == "" {
		fail(errors.New("a token is required (-token or MAILOREPLY_TOKEN)"))
	}

	text := *prompt
	if text == "" {
		b, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			fail(err)
		}
		text = strings.TrimSpace(string(b))
	}

	req := models.GenerationRequest{
		Source:         models.SourceExtension,
		GenerationType: models.GenerationType(*mode),
		Language:       *language,
		Tone:           *tone,
		Encrypted:      *encrypt,
	}
	if req.GenerationType == models.GenerationReply {
		req.Intent = *intent
		req.OriginalMessage = text
	} else {
		req.Prompt = text
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := generate(ctx, strings.TrimRight(*apiURL, "/"), *token, req)
	if err != nil {
		fail(err)
	}

	out := resp.Data.Response
	if out.Subject != "" {
		fmt.Printf("Subject: %s\n\n", out.Subject)
	}
	fmt.Println(out.Content)

	if u := resp.Data.Usage; u != nil && !u.IsUnlimited {
		fmt.Fprintf(os.Stderr, "\nUsage: %d/%d today, %d/%d this month\n", u.DailyUsed, u.DailyLimit, u.MonthlyUsed, u.MonthlyLimit)
	}

	if *copyOut {
		res := clipboard.Copy(out.Content)
		if !res.Success {
			fmt.Fprintln(os.Stderr, "copy failed:", res.Error)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Copied to clipboard")
	}
}

func generate(ctx context.Context, base, token string, req models.GenerationRequest) (apiResponse, error) {
	var out apiResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	res, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return out, err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("unexpected response (%d): %w", res.StatusCode, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Data.Response.Error
		}
		if res.StatusCode == http.StatusTooManyRequests {
			msg += " Upgrade at /#pricing."
		}
		return out, errors.New(msg)
	}
	return out, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "mailoreply:", err)
	os.Exit(1)
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
