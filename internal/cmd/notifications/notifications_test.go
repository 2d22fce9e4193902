package notifications

import (
	"context"
	"flag"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tableroom/internal/auth/token"
	server "github.com/louisbranch/tableroom/internal/services/roomsim/app"
)

type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *logRecorder) logf(format string, args ...any) {
	r.mu.Lock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *logRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("notifications", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.BaseURL != "http://game:8090" {
		t.Fatalf("expected default base url, got %q", cfg.BaseURL)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("TABLEROOM_GAME_BASE_URL", "http://env")
	t.Setenv("TABLEROOM_USER_ID", "env-user")

	fs := flag.NewFlagSet("notifications", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-user-id", "flag-user"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.BaseURL != "http://env" {
		t.Fatalf("expected env base url, got %q", cfg.BaseURL)
	}
	if cfg.UserID != "flag-user" {
		t.Fatalf("expected flag user id, got %q", cfg.UserID)
	}
}

func TestResolveUserID(t *testing.T) {
	signed, err := token.Issue(token.Claims{UserID: "U9"}, []byte("k"), time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	testCases := []struct {
		name    string
		userID  string
		token   string
		want    string
		wantErr bool
	}{
		{name: "explicit", userID: " U7 ", token: signed, want: "U7"},
		{name: "from token", token: signed, want: "U9"},
		{name: "neither", want: ""},
		{name: "bad token", token: "nope", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveUserID(tc.userID, tc.token)
			if (err != nil) != tc.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("user id = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestListenLogsInbox(t *testing.T) {
	srv := httptest.NewServer(server.NewHandler(server.Config{Seed: true, Logf: func(string, ...any) {}}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &logRecorder{}
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, Config{BaseURL: srv.URL, UserID: server.DemoUserID}, rec.logf)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !rec.contains("NOTIFICATIONS_CONNECTED") {
		if time.Now().After(deadline) {
			t.Fatal("greeting not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not stop on cancel")
	}
	if !rec.contains("2 unread at exit") {
		t.Fatal("unread count not logged at exit")
	}
}

func TestListenRequiresUser(t *testing.T) {
	err := Listen(context.Background(), Config{BaseURL: "http://127.0.0.1:1"}, func(string, ...any) {})
	if err == nil {
		t.Fatal("expected missing user error")
	}
}
