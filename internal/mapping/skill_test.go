package mapping

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ashureev/portfolio-skills/internal/convlog"
	"github.com/ashureev/portfolio-skills/internal/domain"
	"github.com/ashureev/portfolio-skills/internal/llm"
	"github.com/ashureev/portfolio-skills/internal/store"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeGateway returns queued replies in order and records every request.
type fakeGateway struct {
	mu       sync.Mutex
	replies  []string
	err      error
	chunks   []string
	midErr   error
	delay    time.Duration
	requests []llm.Request

	inflight    int
	maxInflight int
}

func (g *fakeGateway) record(req llm.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
}

func (g *fakeGateway) Complete(ctx context.Context, req llm.Request) (string, error) {
	g.record(req)

	g.mu.Lock()
	g.inflight++
	g.maxInflight = max(g.maxInflight, g.inflight)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inflight--
		g.mu.Unlock()
	}()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return `{"message":"ok"}`, nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func (g *fakeGateway) Stream(_ context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		g.record(req)
		for _, c := range g.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if g.midErr != nil {
			yield("", g.midErr)
		}
	}
}

func (g *fakeGateway) Name() string { return "fake" }
func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		t.Fatal("gateway was not called")
	}
	return g.requests[len(g.requests)-1]
}

// recordingLog keeps conversation log entries in memory.
type recordingLog struct {
	mu      sync.Mutex
	entries []convlog.Entry
}

func (l *recordingLog) Log(e convlog.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recordingLog) Close() error { return nil }

func newTestSkill(gw llm.Gateway, opts ...Option) (*Skill, *store.MemoryStore) {
	st := store.NewMemory()
	opts = append([]Option{WithClock(func() time.Time { return testTime })}, opts...)
	return New(st, gw, opts...), st
}

func turnReq(session, msg string) TurnRequest {
	return TurnRequest{SessionID: session, UserMessage: msg}
}

func TestProcessTurnHappyPath(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{replies: []string{
		`{"message":"What do you shoot?","profession":"photographer","portfolio_type":"Photography Portfolio"}`,
		"```json\n" + `{"message":"Let's list content","entities":[{"id":"photo","name":"Photo","pluralName":"Photos","fields":[]}]}` + "\n```",
		`{"message":"Fields?","entities":[{"id":"photo","name":"Photo","pluralName":"Photos","fields":[{"id":"title","name":"title","label":"Title","type":"text","required":true}]}]}`,
		`{"message":"Relationships?","relationships":[{"id":"r1","type":"many-to-one","from":"photo","to":"gallery"}]}`,
		`{"message":"Here is the summary"}`,
		`{"message":"All set!"}`,
	}}
	skill, _ := newTestSkill(gw)
	ctx := context.Background()

	steps := []struct {
		msg   string
		state domain.ConversationState
	}{
		{"I'm a photographer", domain.StateDiscoveringProfession},
		{"I want to show my work", domain.StateDiscoveringEntities},
		{"That's enough entities", domain.StateDiscoveringFields},
		{"title is fine", domain.StateDiscoveringRelationships},
		{"done", domain.StateValidating},
		{"looks good", domain.StateComplete},
	}
	var last *TurnResponse
	for _, step := range steps {
		resp, err := skill.ProcessTurn(ctx, turnReq("s1", step.msg))
		if err != nil {
			t.Fatalf("ProcessTurn(%q): %v", step.msg, err)
		}
		if resp.CurrentState != step.state {
			t.Fatalf("after %q: state = %s, want %s", step.msg, resp.CurrentState, step.state)
		}
		if step.state != domain.StateComplete && resp.ContentSchema != nil {
			t.Fatalf("schema attached before completion at %s", step.state)
		}
		last = resp
	}

	if last.Message != "All set!" {
		t.Fatalf("unexpected final message %q", last.Message)
	}
	if last.ContentSchema == nil || len(last.ContentSchema.Entities) != 1 {
		t.Fatalf("expected schema with one entity, got %#v", last.ContentSchema)
	}
	if got := last.ContentSchema.Metadata.Name; got != "photographer Portfolio Schema" {
		t.Fatalf("schema name = %q", got)
	}
	if len(last.ContentSchema.Relationships) != 1 {
		t.Fatalf("expected dangling relationship kept, got %#v", last.ContentSchema.Relationships)
	}

	history, err := skill.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2*len(steps) {
		t.Fatalf("expected %d history entries, got %d", 2*len(steps), len(history))
	}
}

func TestProcessTurnBuildsRequest(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	skill, _ := newTestSkill(gw, WithTurnLimits(2048, 0.5))
	ctx := context.Background()

	if _, err := skill.ProcessTurn(ctx, turnReq("s", "first")); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	req := gw.lastRequest(t)
	if req.System != SystemPrompt {
		t.Error("expected system prompt")
	}
	if len(req.History) != 0 {
		t.Errorf("first turn must not send history, got %#v", req.History)
	}
	if req.MaxTokens != 2048 || req.Temperature != 0.5 {
		t.Errorf("limits = %d/%v", req.MaxTokens, req.Temperature)
	}

	if _, err := skill.ProcessTurn(ctx, turnReq("s", "second")); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	req = gw.lastRequest(t)
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: `{"message":"ok"}`},
	}
	if diff := cmp.Diff(want, req.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(req.Prompt, "User said: second") {
		t.Fatalf("prompt does not end with the user message: %q", req.Prompt)
	}
}

func TestProcessTurnGatewayFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{err: errors.New("connection refused")}
	skill, st := newTestSkill(gw)
	ctx := context.Background()

	resp, err := skill.ProcessTurn(ctx, turnReq("s", "hello"))
	if err != nil {
		t.Fatalf("gateway failure must not be returned: %v", err)
	}
	if resp.Message != "I encountered an error: connection refused. Let's try again." {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if diff := cmp.Diff([]string{"Can you repeat your last message?"}, resp.SuggestedQuestions); diff != "" {
		t.Fatalf("suggested questions mismatch:\n%s", diff)
	}
	if resp.CurrentState != domain.StateInitial {
		t.Fatalf("state advanced to %s", resp.CurrentState)
	}

	c, err := st.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.State != domain.StateInitial || len(c.ConversationHistory) != 0 {
		t.Fatalf("stored context changed: state=%s history=%d", c.State, len(c.ConversationHistory))
	}

	// The same turn can be retried.
	gw.mu.Lock()
	gw.err = nil
	gw.mu.Unlock()
	resp, err = skill.ProcessTurn(ctx, turnReq("s", "hello"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if resp.CurrentState != domain.StateDiscoveringProfession {
		t.Fatalf("retry state = %s", resp.CurrentState)
	}
}

func TestProcessTurnMalformedOutput(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{replies: []string{"Sorry, I can only talk in prose."}}
	skill, _ := newTestSkill(gw)

	resp, err := skill.ProcessTurn(context.Background(), turnReq("s", "hi"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if resp.Message != "Sorry, I can only talk in prose." {
		t.Fatalf("message = %q", resp.Message)
	}
	if resp.SuggestedQuestions == nil || len(resp.SuggestedQuestions) != 0 {
		t.Fatalf("expected empty suggestions, got %#v", resp.SuggestedQuestions)
	}
	if resp.CurrentState != domain.StateDiscoveringProfession {
		t.Fatalf("state = %s", resp.CurrentState)
	}
}

func TestProcessTurnOverrides(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	skill, st := newTestSkill(gw)
	ctx := context.Background()

	_, err := skill.ProcessTurn(ctx, TurnRequest{
		SessionID:   "s",
		UserMessage: "hi",
		Context:     map[string]any{"portfolio_type": "Writing Portfolio", "unknown": "ignored", "profession": 42},
		Profession:  "writer",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	c, err := st.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Profession != "writer" || c.PortfolioType != "Writing Portfolio" {
		t.Fatalf("overrides not applied: %q %q", c.Profession, c.PortfolioType)
	}
	// One transition per turn even though the profession guard already holds.
	if c.State != domain.StateDiscoveringProfession {
		t.Fatalf("state = %s", c.State)
	}
}

func TestProcessTurnRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	skill, _ := newTestSkill(&fakeGateway{})
	for _, req := range []TurnRequest{turnReq("", "hi"), turnReq("s", "  ")} {
		if _, err := skill.ProcessTurn(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest for %#v, got %v", req, err)
		}
	}
}

func TestProcessTurnSerializesSameSession(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{delay: 10 * time.Millisecond}
	skill, _ := newTestSkill(gw)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := skill.ProcessTurn(ctx, turnReq("shared", "message "+string(rune('a'+i)))); err != nil {
				t.Errorf("ProcessTurn: %v", err)
			}
		}()
	}
	wg.Wait()

	gw.mu.Lock()
	maxInflight := gw.maxInflight
	gw.mu.Unlock()
	if maxInflight != 1 {
		t.Fatalf("expected serialized turns, saw %d in flight", maxInflight)
	}
	history, err := skill.History(ctx, "shared")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("expected 8 history entries, got %d", len(history))
	}
}

func TestProcessTurnDifferentSessionsRunInParallel(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{delay: 50 * time.Millisecond}
	skill, _ := newTestSkill(gw)

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := skill.ProcessTurn(context.Background(), turnReq("session-"+string(rune('a'+i)), "hi")); err != nil {
				t.Errorf("ProcessTurn: %v", err)
			}
		}()
	}
	wg.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.maxInflight < 2 {
		t.Fatalf("expected parallel turns across sessions, max in flight %d", gw.maxInflight)
	}
}

func TestProcessTurnCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	skill, _ := newTestSkill(&fakeGateway{})
	release, err := skill.locks.acquire(context.Background(), "s")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := skill.ProcessTurn(ctx, turnReq("s", "hi")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHistoryAndReset(t *testing.T) {
	t.Parallel()

	skill, st := newTestSkill(&fakeGateway{})
	ctx := context.Background()

	history, err := skill.History(ctx, "fresh")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %#v", history)
	}

	if _, err := skill.ProcessTurn(ctx, turnReq("fresh", "hello")); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	history, err = skill.History(ctx, "fresh")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Role != domain.RoleUser || history[0].Content != "hello" || history[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected history %#v", history)
	}

	if err := skill.Reset(ctx, "fresh"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := st.Get(ctx, "fresh"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
	if err := skill.Reset(ctx, "never-existed"); err != nil {
		t.Fatalf("Reset of unknown session: %v", err)
	}

	resp, err := skill.ProcessTurn(ctx, turnReq("fresh", "again"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if resp.CurrentState != domain.StateDiscoveringProfession {
		t.Fatalf("expected fresh start, got %s", resp.CurrentState)
	}
}

func TestTerminalStateIsStable(t *testing.T) {
	t.Parallel()

	skill, st := newTestSkill(&fakeGateway{})
	ctx := context.Background()

	c := domain.NewConversationContext("done", testTime)
	c.State = domain.StateComplete
	c.Profession = "artist"
	c.DiscoveredEntities = []domain.Entity{entityWithFields("artwork", 1)}
	if err := st.Put(ctx, c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	first, err := skill.ProcessTurn(ctx, turnReq("done", "thanks"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	second, err := skill.ProcessTurn(ctx, turnReq("done", "bye"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if first.CurrentState != domain.StateComplete || second.CurrentState != domain.StateComplete {
		t.Fatal("expected complete to be terminal")
	}
	if diff := cmp.Diff(first.ContentSchema.Entities, second.ContentSchema.Entities); diff != "" {
		t.Fatalf("entities changed between terminal turns:\n%s", diff)
	}
}

func TestConversationLogReceivesTurns(t *testing.T) {
	t.Parallel()

	log := &recordingLog{}
	skill, _ := newTestSkill(&fakeGateway{}, WithConversationLog(log))
	req := turnReq("s", "\x1b[1mhello\x1b[0m")
	req.Channel = "http"
	req.ClientID = "client"

	if _, err := skill.ProcessTurn(context.Background(), req); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(log.entries))
	}
	in, out := log.entries[0], log.entries[1]
	if in.Direction != convlog.DirectionInbound || in.Content != "hello" || in.Channel != "http" || in.ClientID != "client" {
		t.Fatalf("unexpected inbound entry %#v", in)
	}
	if out.Direction != convlog.DirectionOutbound || out.Meta["parsed"] != true {
		t.Fatalf("unexpected outbound entry %#v", out)
	}
}

func collect(seq iter.Seq[Event]) []Event {
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func TestStreamTurnOrder(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{chunks: []string{`{"message":"Hel`, `lo","suggested_questions":["Next?"],`, `"profession":"designer"}`}}
	skill, st := newTestSkill(gw)
	ctx := context.Background()

	events := collect(skill.StreamTurn(ctx, turnReq("s", "hi")))
	want := []EventType{EventMessage, EventMessage, EventMessage, EventStateChange, EventComplete}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	if events[0].Content != `{"message":"Hel` {
		t.Fatalf("chunks must be forwarded verbatim, got %q", events[0].Content)
	}
	if events[3].Data["state"] != domain.StateDiscoveringProfession {
		t.Fatalf("state event = %v", events[3].Data)
	}
	if diff := cmp.Diff([]string{"Next?"}, events[4].Data["suggestedQuestions"]); diff != "" {
		t.Fatalf("complete summary mismatch:\n%s", diff)
	}

	c, err := st.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Profession != "designer" || len(c.ConversationHistory) != 2 {
		t.Fatalf("stream turn not merged: profession=%q history=%d", c.Profession, len(c.ConversationHistory))
	}
}

func TestStreamTurnSchemaOnCompletion(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{chunks: []string{`{"message":"Done!"}`}}
	skill, st := newTestSkill(gw)
	ctx := context.Background()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateValidating
	c.DiscoveredEntities = []domain.Entity{entityWithFields("project", 2)}
	if err := st.Put(ctx, c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	events := collect(skill.StreamTurn(ctx, turnReq("s", "perfect")))
	want := []EventType{EventMessage, EventStateChange, EventSchemaUpdate, EventComplete}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	schema, ok := events[2].Data["schema"].(*domain.ContentSchema)
	if !ok || len(schema.Entities) != 1 {
		t.Fatalf("unexpected schema payload %#v", events[2].Data)
	}
}

func TestStreamTurnGatewayError(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{chunks: []string{"partial "}, midErr: errors.New("stream reset")}
	skill, st := newTestSkill(gw)
	ctx := context.Background()

	events := collect(skill.StreamTurn(ctx, turnReq("s", "hi")))
	want := []EventType{EventMessage, EventMessage, EventStateChange, EventComplete}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	if events[1].Content != "I encountered an error: stream reset. Let's try again." {
		t.Fatalf("unexpected apology %q", events[1].Content)
	}
	if events[2].Data["state"] != domain.StateInitial {
		t.Fatalf("state must not advance, got %v", events[2].Data)
	}

	c, err := st.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.State != domain.StateInitial || len(c.ConversationHistory) != 0 {
		t.Fatalf("stored context changed: state=%s history=%d", c.State, len(c.ConversationHistory))
	}
}

func TestStreamTurnConsumerStops(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{chunks: []string{"a", "b", "c"}}
	skill, st := newTestSkill(gw)
	ctx := context.Background()

	for ev := range skill.StreamTurn(ctx, turnReq("s", "hi")) {
		if ev.Type != EventMessage {
			t.Fatalf("unexpected first event %s", ev.Type)
		}
		break
	}

	c, err := st.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(c.ConversationHistory) != 0 {
		t.Fatalf("abandoned stream must not be merged, history=%d", len(c.ConversationHistory))
	}
	if n := skill.locks.len(); n != 0 {
		t.Fatalf("session lock not released, %d held", n)
	}
}

func TestStreamTurnInvalidRequest(t *testing.T) {
	t.Parallel()

	skill, _ := newTestSkill(&fakeGateway{})
	events := collect(skill.StreamTurn(context.Background(), turnReq("s", "")))
	want := []EventType{EventMessage, EventStateChange, EventComplete}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestImprovements(t *testing.T) {
	t.Parallel()

	schema := &domain.ContentSchema{Version: "1.0.0", Entities: []domain.Entity{{ID: "p", Name: "Project"}}}

	tests := []struct {
		name    string
		reply   string
		err     error
		want    []string
		wantErr bool
	}{
		{"bare array", `["Add SEO fields", "Link projects to clients"]`, nil, []string{"Add SEO fields", "Link projects to clients"}, false},
		{"fenced array", "```json\n[\"Add tags\", \"\"]\n```", nil, []string{"Add tags"}, false},
		{"object", `{"suggestions":["x"]}`, nil, []string{}, false},
		{"prose", "You should add tags.", nil, []string{}, false},
		{"gateway error", "", errors.New("boom"), []string{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw := &fakeGateway{replies: []string{tt.reply}, err: tt.err}
			skill, _ := newTestSkill(gw)

			got, err := skill.SuggestImprovements(context.Background(), schema)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("suggestions mismatch (-want +got):\n%s", diff)
			}

			req := gw.lastRequest(t)
			if req.MaxTokens != 1024 || req.System != suggestSystemPrompt {
				t.Fatalf("unexpected request %d %q", req.MaxTokens, req.System)
			}
			if !strings.Contains(req.Prompt, `"name": "Project"`) {
				t.Fatalf("prompt does not include schema: %q", req.Prompt)
			}
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	t.Parallel()

	reply := "Here you go:\n```json\n" + `{
  "entities": [
    {"id": "project", "name": "Project", "pluralName": "Projects", "fields": [
      {"id": "title", "name": "title", "label": "Title", "type": "text", "required": true}
    ]}
  ],
  "relationships": [{"id": "r1", "type": "many-to-many", "from": "Project", "to": "Tag"}],
  "metadata": {"name": "Design Portfolio"}
}` + "\n```"
	gw := &fakeGateway{replies: []string{reply}}
	skill, _ := newTestSkill(gw)

	schema, err := skill.GenerateSchema(context.Background(), "A portfolio for a product designer", "designer")
	if err != nil {
		t.Fatalf("GenerateSchema: %v", err)
	}
	if schema.Version != domain.SchemaVersion {
		t.Errorf("version = %q", schema.Version)
	}
	if len(schema.Entities) != 1 || len(schema.Entities[0].Fields) != 1 {
		t.Errorf("entities = %#v", schema.Entities)
	}
	if schema.Metadata.CreatedAt.IsZero() {
		t.Error("expected defaulted timestamps")
	}

	req := gw.lastRequest(t)
	if req.MaxTokens != 8000 || req.Temperature != 0.3 || req.System != generateSystemPrompt {
		t.Errorf("unexpected limits %d %v %q", req.MaxTokens, req.Temperature, req.System)
	}
	for _, want := range []string{"A portfolio for a product designer", "PROFESSION: designer", testTime.Format(time.RFC3339)} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateSchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		description string
		reply       string
		gwErr       error
		target      error
	}{
		{"empty description", " ", "", nil, ErrInvalidRequest},
		{"not json", "desc", "I cannot do that", nil, domain.ErrInvalidSchema},
		{"invalid entity", "desc", `{"entities":[{"name":"NoID"}]}`, nil, domain.ErrInvalidSchema},
		{"gateway", "desc", "", llm.ErrNotConfigured, llm.ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			skill, _ := newTestSkill(&fakeGateway{replies: []string{tt.reply}, err: tt.gwErr})
			if _, err := skill.GenerateSchema(context.Background(), tt.description, ""); !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}
