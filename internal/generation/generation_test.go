package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/encryption"
	"mailoreply.ai/platform/internal/events"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/logger"
)

type fakeLedger struct {
	mu       sync.Mutex
	used     int
	limit    int
	commits  int
	failures []string
	canErr   error
}

type fakeSlot struct{ l *fakeLedger }

func (s fakeSlot) Commit(ctx context.Context, req models.GenerationRequest, outputLen int) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	s.l.commits++
	return nil
}

func (s fakeSlot) Fail(ctx context.Context, req models.GenerationRequest, msg string) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	s.l.failures = append(s.l.failures, msg)
	s.l.used--
	return nil
}

func (l *fakeLedger) CanGenerate(ctx context.Context, userID string, role models.Role) (bool, error) {
	if l.canErr != nil {
		return false, l.canErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used < l.limit, nil
}

func (l *fakeLedger) Reserve(ctx context.Context, userID string) (Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used >= l.limit {
		return nil, apperr.Quota("Generation limit reached")
	}
	l.used++
	return fakeSlot{l: l}, nil
}

type capturePublisher struct {
	events []events.GenerationRecorded
}

func (p *capturePublisher) PublishGeneration(ctx context.Context, ev events.GenerationRecorded) error {
	p.events = append(p.events, ev)
	return nil
}

func replyRequest() models.GenerationRequest {
	return models.GenerationRequest{
		GenerationType:  models.GenerationReply,
		Language:        "English",
		Tone:            "Friendly",
		Intent:          "Say Yes",
		OriginalMessage: "Can we meet on Friday?",
	}
}

func webhookServer(t *testing.T, hits *int32, handler http.HandlerFunc) *WebhookGenerator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return &WebhookGenerator{ReplyURL: srv.URL + "/reply", EmailURL: srv.URL + "/email", Token: "tok", Client: srv.Client()}
}

func TestRunSuccessRecordsAndPublishes(t *testing.T) {
	var hits int32
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if r.URL.Path != "/reply" || p.OriginalMessage != "Can we meet on Friday?" || p.Token != "tok" || p.GenerationType != "reply" {
			t.Errorf("unexpected request %s %+v", r.URL.Path, p)
		}
		json.NewEncoder(w).Encode(models.GenerationResponse{Success: true, Content: "Yes, Friday works."})
	})

	lg := &fakeLedger{limit: 3}
	pub := &capturePublisher{}
	o := newOrchestrator(lg, gen, pub, time.Second, logger.Nop())

	var path []State
	o.OnTransition = func(_ string, _, to State) { path = append(path, to) }

	res := o.Run(context.Background(), Caller{UserID: "u1", Role: models.RoleFree}, replyRequest())
	if res.State != StateRecordedSuccess || res.Err != nil {
		t.Fatalf("Run = %+v", res)
	}
	if res.Response.Content != "Yes, Friday works." {
		t.Fatalf("content = %q", res.Response.Content)
	}
	if lg.used != 1 || lg.commits != 1 {
		t.Fatalf("ledger used=%d commits=%d", lg.used, lg.commits)
	}
	want := []State{StateValidating, StateCalling, StateRecordedSuccess}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path = %v, want %v", path, want)
		}
	}
	if len(pub.events) != 1 || !pub.events[0].Success || pub.events[0].Source != models.SourceWebsite {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestRunQuotaExhaustedNeverCallsWebhook(t *testing.T) {
	var hits int32
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.GenerationResponse{Success: true, Content: "x"})
	})

	lg := &fakeLedger{used: 3, limit: 3}
	pub := &capturePublisher{}
	o := newOrchestrator(lg, gen, pub, time.Second, logger.Nop())

	res := o.Run(context.Background(), Caller{UserID: "u1", Role: models.RoleFree}, replyRequest())
	if res.State != StateRejected || !apperr.Is(res.Err, apperr.KindQuotaExceeded) {
		t.Fatalf("Run = %+v", res)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("webhook called %d times", hits)
	}
	if lg.used != 3 || lg.commits != 0 || len(lg.failures) != 0 {
		t.Fatal("rejected request must not touch the ledger")
	}
	if len(pub.events) != 0 {
		t.Fatal("rejected request must not publish")
	}
}

func TestRunValidationRejects(t *testing.T) {
	lg := &fakeLedger{limit: 3}
	o := newOrchestrator(lg, MockGenerator{}, nil, time.Second, logger.Nop())

	req := replyRequest()
	req.OriginalMessage = "   "
	res := o.Run(context.Background(), Caller{UserID: "u1"}, req)
	if res.State != StateRejected || !apperr.Is(res.Err, apperr.KindValidation) {
		t.Fatalf("Run = %+v", res)
	}

	email := models.GenerationRequest{GenerationType: models.GenerationEmail}
	if res := o.Run(context.Background(), Caller{UserID: "u1"}, email); !apperr.Is(res.Err, apperr.KindValidation) {
		t.Fatalf("email without prompt: %+v", res)
	}
	if res := o.Run(context.Background(), Caller{UserID: "u1"}, models.GenerationRequest{GenerationType: "poem", Prompt: "x"}); !apperr.Is(res.Err, apperr.KindValidation) {
		t.Fatalf("unknown type: %+v", res)
	}
	if lg.used != 0 {
		t.Fatalf("used = %d, want 0", lg.used)
	}
}

func TestRunLedgerUnavailableRejects(t *testing.T) {
	lg := &fakeLedger{limit: 3, canErr: apperr.Network("Usage service is unavailable", nil)}
	o := newOrchestrator(lg, MockGenerator{}, nil, time.Second, logger.Nop())

	res := o.Run(context.Background(), Caller{UserID: "u1"}, replyRequest())
	if res.State != StateRejected || !apperr.Is(res.Err, apperr.KindNetwork) {
		t.Fatalf("Run = %+v", res)
	}
}

func TestRunWebhookFailureReleasesOnce(t *testing.T) {
	var hits int32
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	lg := &fakeLedger{limit: 3}
	pub := &capturePublisher{}
	o := newOrchestrator(lg, gen, pub, time.Second, logger.Nop())

	res := o.Run(context.Background(), Caller{UserID: "u1"}, replyRequest())
	if res.State != StateRecordedFailure || !apperr.Is(res.Err, apperr.KindNetwork) {
		t.Fatalf("Run = %+v", res)
	}
	if !strings.Contains(res.Response.Error, "502") {
		t.Fatalf("error = %q", res.Response.Error)
	}
	if hits != 1 {
		t.Fatalf("webhook hits = %d, want 1 (no retry)", hits)
	}
	if lg.used != 0 || len(lg.failures) != 1 || lg.commits != 0 {
		t.Fatalf("ledger used=%d failures=%v commits=%d", lg.used, lg.failures, lg.commits)
	}
	if len(pub.events) != 1 || pub.events[0].Success {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestRunUnsuccessfulResponseIsFailure(t *testing.T) {
	var hits int32
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.GenerationResponse{Success: false, Error: "model overloaded"})
	})

	lg := &fakeLedger{limit: 3}
	o := newOrchestrator(lg, gen, nil, time.Second, logger.Nop())

	res := o.Run(context.Background(), Caller{UserID: "u1"}, replyRequest())
	if res.State != StateRecordedFailure || res.Response.Error != "model overloaded" {
		t.Fatalf("Run = %+v", res)
	}
}

func TestRunTimeoutIsRecordedFailure(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	lg := &fakeLedger{limit: 3}
	o := newOrchestrator(lg, gen, nil, 50*time.Millisecond, logger.Nop())

	res := o.Run(context.Background(), Caller{UserID: "u1"}, replyRequest())
	if res.State != StateRecordedFailure {
		t.Fatalf("state = %s, want %s", res.State, StateRecordedFailure)
	}
	if !strings.Contains(res.Response.Error, "timed out") {
		t.Fatalf("error = %q", res.Response.Error)
	}
	if lg.used != 0 {
		t.Fatalf("used = %d, want 0 after release", lg.used)
	}
}

func TestRunConcurrentRequestsRespectLimit(t *testing.T) {
	lg := &fakeLedger{used: 2, limit: 3}
	o := newOrchestrator(lg, MockGenerator{}, nil, time.Second, logger.Nop())

	var wg sync.WaitGroup
	var ok int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := o.Run(context.Background(), Caller{UserID: "u1"}, replyRequest()); res.State == StateRecordedSuccess {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || lg.used != 3 {
		t.Fatalf("successes = %d, used = %d; want 1 and 3", ok, lg.used)
	}
}

func TestWebhookGeneratorEncryptsPayload(t *testing.T) {
	c, err := encryption.New("passphrase", "salt")
	if err != nil {
		t.Fatalf("encryption.New: %v", err)
	}

	var hits int32
	var got webhookPayload
	var auth string
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(models.GenerationResponse{Success: true, Content: "done", Subject: "Hello"})
	})
	gen.Cipher = c

	req := models.GenerationRequest{GenerationType: models.GenerationEmail, Prompt: "launch announcement", Encrypted: true}
	resp, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Subject != "Hello" {
		t.Fatalf("subject = %q", resp.Subject)
	}
	if !got.Encrypted || got.Prompt == req.Prompt {
		t.Fatalf("payload not encrypted: %+v", got)
	}
	plain, err := c.Decrypt(got.Prompt)
	if err != nil || plain != req.Prompt {
		t.Fatalf("Decrypt = %q, %v", plain, err)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestEncryptedRequestWithoutCipherIsRefused(t *testing.T) {
	var hits int32
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.GenerationResponse{Success: true, Content: "leaked"})
	})

	req := models.GenerationRequest{GenerationType: models.GenerationEmail, Prompt: "secret plans", Encrypted: true}
	if _, err := gen.Generate(context.Background(), req); err != ErrEncryptionUnavailable {
		t.Fatalf("Generate err = %v", err)
	}

	lg := &fakeLedger{limit: 3}
	o := newOrchestrator(lg, gen, nil, time.Second, logger.Nop())
	res := o.Run(context.Background(), Caller{UserID: "u1", Role: models.RoleFree}, req)
	if res.State != StateRejected || !apperr.Is(res.Err, apperr.KindValidation) {
		t.Fatalf("Run = %+v", res)
	}
	if lg.used != 0 || atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("nothing should be reserved or sent: used=%d hits=%d", lg.used, hits)
	}
}

func TestWebhookGeneratorTestConnection(t *testing.T) {
	var hits int32
	gen := webhookServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/email" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	reply, email := gen.TestConnection(context.Background())
	if !reply || email {
		t.Fatalf("TestConnection = %v, %v; want true, false", reply, email)
	}
}

func TestMockGenerator(t *testing.T) {
	resp, err := MockGenerator{}.Generate(context.Background(), models.GenerationRequest{
		GenerationType: models.GenerationReply, Intent: "Say No", Tone: "Urgent",
	})
	if err != nil || !strings.HasPrefix(resp.Content, "URGENT: Thank you for reaching out.") {
		t.Fatalf("reply = %q, %v", resp.Content, err)
	}

	resp, _ = MockGenerator{}.Generate(context.Background(), models.GenerationRequest{
		GenerationType: models.GenerationReply, Intent: "unknown", Tone: "Casual",
	})
	if !strings.Contains(resp.Content, "I have received it") {
		t.Fatalf("unknown intent should acknowledge: %q", resp.Content)
	}

	resp, _ = MockGenerator{}.Generate(context.Background(), models.GenerationRequest{
		GenerationType: models.GenerationEmail, Prompt: "quarterly report", Tone: "Urgent",
	})
	if resp.Subject != "URGENT: Re: Quarterly report" {
		t.Fatalf("subject = %q", resp.Subject)
	}
}
