package acp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fakeHandler struct {
	promptUpdates []SessionUpdateParams
}

func (f *fakeHandler) Initialize(ctx context.Context, params InitializeParams) (InitializeResult, error) {
	return InitializeResult{ProtocolVersion: 1, AgentInfo: map[string]interface{}{"name": "fake"}, Capabilities: map[string]bool{}}, nil
}

func (f *fakeHandler) Authenticate(ctx context.Context, params AuthenticateParams) error { return nil }

func (f *fakeHandler) NewSession(ctx context.Context, params NewSessionParams) (NewSessionResult, error) {
	return NewSessionResult{SessionID: "sess-1"}, nil
}

func (f *fakeHandler) LoadSession(ctx context.Context, params LoadSessionParams) error { return nil }

func (f *fakeHandler) Prompt(ctx context.Context, params PromptParams, updates func(SessionUpdateParams)) (PromptResult, error) {
	updates(SessionUpdateParams{SessionID: params.SessionID, Update: SessionUpdateMessageChunk, Content: "hello"})
	return PromptResult{StopReason: StopReasonEndTurn}, nil
}

func (f *fakeHandler) Cancel(ctx context.Context, params CancelParams) error { return nil }

func (f *fakeHandler) SetSessionMode(ctx context.Context, params SetSessionModeParams) error {
	return nil
}

func TestServerInitializeRoundTrip(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":1}}` + "\n")
	var out bytes.Buffer
	server := NewServer(in, &out, &fakeHandler{}, nil)

	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for serve to finish")
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ProtocolVersion != 1 {
		t.Errorf("expected protocol version 1, got %d", result.ProtocolVersion)
	}
}

func TestServerPromptEmitsSessionUpdate(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"session/prompt","params":{"sessionId":"sess-1","prompt":[{"type":"text","text":"hi"}]}}` + "\n")
	var out bytes.Buffer
	server := NewServer(in, &out, &fakeHandler{}, nil)

	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (notification + response), got %d: %v", len(lines), lines)
	}

	var notif Notification
	if err := json.Unmarshal([]byte(lines[0]), &notif); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if notif.Method != "session/update" {
		t.Fatalf("expected session/update notification, got %s", notif.Method)
	}
	var update SessionUpdateParams
	if err := json.Unmarshal(notif.Params, &update); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if update.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", update.Content)
	}

	var resp Response
	if err := json.Unmarshal([]byte(lines[1]), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	var result PromptResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.StopReason != StopReasonEndTurn {
		t.Errorf("expected end_turn, got %s", result.StopReason)
	}
}

func TestMethodNotFound(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bogus"}` + "\n")
	var out bytes.Buffer
	server := NewServer(in, &out, &fakeHandler{}, nil)

	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}
