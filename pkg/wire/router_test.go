package wire

import (
	"context"
	"testing"
)

func TestRouter_ExactMatch(t *testing.T) {
	router := NewRouter()
	router.HandleFunc(MethodGet, "/api/agents", func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, map[string]string{"ok": "yes"})
	})

	msg := &Message{ID: "r1", Method: MethodGet, Path: "/api/agents"}
	resp, err := router.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("Expected success, got error %+v", resp.Error)
	}
	if resp.ID != "r1" {
		t.Errorf("Expected response ID r1, got %s", resp.ID)
	}
}

func TestRouter_ParamBinding(t *testing.T) {
	router := NewRouter()

	var gotID, gotCommentID string
	router.HandleFunc(MethodPost, "/api/tickets/:id/comments/:commentId/broadcast",
		func(ctx context.Context, msg *Message) (*Message, error) {
			gotID = msg.Param("id")
			gotCommentID = msg.Param("commentId")
			return NewResponse(msg.ID, nil)
		})

	msg := &Message{ID: "r2", Method: MethodPost, Path: "/api/tickets/t42/comments/c7/broadcast"}
	resp, err := router.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("Expected success, got error %+v", resp.Error)
	}
	if gotID != "t42" {
		t.Errorf("Expected id param t42, got %s", gotID)
	}
	if gotCommentID != "c7" {
		t.Errorf("Expected commentId param c7, got %s", gotCommentID)
	}
}

func TestRouter_MethodMismatch(t *testing.T) {
	router := NewRouter()
	router.HandleFunc(MethodGet, "/api/tickets", func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, nil)
	})

	msg := &Message{ID: "r3", Method: MethodDelete, Path: "/api/tickets"}
	resp, err := router.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !resp.IsError() {
		t.Fatal("Expected error response for method mismatch")
	}
	if resp.Error.Code != ErrorCodeNotFound {
		t.Errorf("Expected code %s, got %s", ErrorCodeNotFound, resp.Error.Code)
	}
}

func TestRouter_UnknownPath(t *testing.T) {
	router := NewRouter()

	msg := &Message{ID: "r4", Method: MethodGet, Path: "/api/nowhere"}
	resp, err := router.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !resp.IsError() {
		t.Fatal("Expected error response for unknown path")
	}
	if resp.ID != "r4" {
		t.Errorf("Error response must echo request ID, got %s", resp.ID)
	}
}

func TestRouter_SegmentCountMustMatch(t *testing.T) {
	router := NewRouter()
	router.HandleFunc(MethodGet, "/api/tickets/:id", func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, nil)
	})

	// Shorter and longer paths must not match the pattern
	for _, path := range []string{"/api/tickets", "/api/tickets/t1/comments"} {
		msg := &Message{ID: "r5", Method: MethodGet, Path: path}
		resp, err := router.Dispatch(context.Background(), msg)
		if err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		if !resp.IsError() {
			t.Errorf("Expected no match for %s", path)
		}
	}
}

func TestRouter_FirstMatchWins(t *testing.T) {
	router := NewRouter()

	var hit string
	router.HandleFunc(MethodGet, "/api/agents/types", func(ctx context.Context, msg *Message) (*Message, error) {
		hit = "static"
		return NewResponse(msg.ID, nil)
	})
	router.HandleFunc(MethodGet, "/api/agents/:id", func(ctx context.Context, msg *Message) (*Message, error) {
		hit = "param"
		return NewResponse(msg.ID, nil)
	})

	msg := &Message{ID: "r6", Method: MethodGet, Path: "/api/agents/types"}
	if _, err := router.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if hit != "static" {
		t.Errorf("Expected static route to win, got %s", hit)
	}

	msg = &Message{ID: "r7", Method: MethodGet, Path: "/api/agents/a9"}
	if _, err := router.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if hit != "param" {
		t.Errorf("Expected param route for /api/agents/a9, got %s", hit)
	}
}

func TestRouter_HasRoute(t *testing.T) {
	router := NewRouter()
	router.HandleFunc(MethodPost, "/api/agents/:id/trigger", func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, nil)
	})

	if !router.HasRoute(MethodPost, "/api/agents/a1/trigger") {
		t.Error("Expected route to exist")
	}
	if router.HasRoute(MethodGet, "/api/agents/a1/trigger") {
		t.Error("Expected no GET route")
	}
}
