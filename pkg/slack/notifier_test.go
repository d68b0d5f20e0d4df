package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/models"
)

func pendingCall() *approval.PendingCall {
	return &approval.PendingCall{
		ID:         "pend-1",
		InstanceID: "inst-1",
		Principal:  "bob",
		Tool:       "run_command",
		Args:       map[string]any{"cmd": "kubectl get pods"},
		Safety:     models.SafetyModerate,
		Reason:     "moderate tool in require_approval mode",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
}

func TestNewNotifierDisabledWithoutCredentials(t *testing.T) {
	assert.Nil(t, NewNotifier(NotifierConfig{Token: "", Channel: "C123"}))
	assert.Nil(t, NewNotifier(NotifierConfig{Token: "xoxb-x", Channel: ""}))
	assert.NotNil(t, NewNotifier(NotifierConfig{Token: "xoxb-x", Channel: "C123"}))
}

func TestNilNotifierIsNoOp(t *testing.T) {
	var n *Notifier
	// Must not panic.
	n.NotifyPending(context.Background(), pendingCall())
	n.NotifyResolved(context.Background(), pendingCall(), true)
}

func TestNotifyPendingPostsToChannel(t *testing.T) {
	var posted url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.Form
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1.1"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	notifier := NewNotifierWithClient(client, "https://kestrel.example.com")

	notifier.NotifyPending(context.Background(), pendingCall())

	require.NotNil(t, posted, "chat.postMessage was not called")
	assert.Equal(t, "C123", posted.Get("channel"))

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(posted.Get("blocks")), &blocks))
	raw, _ := json.Marshal(blocks)
	assert.Contains(t, string(raw), Fingerprint("pend-1"))
	assert.Contains(t, string(raw), "run_command")
}

func TestNotifyResolvedThreadsUnderRequest(t *testing.T) {
	var threadTS string
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"text":"awaiting approval (pending:pend-1)","ts":"42.1"}]}`))
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		threadTS = r.Form.Get("thread_ts")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1.2"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	notifier := NewNotifierWithClient(client, "")

	notifier.NotifyResolved(context.Background(), pendingCall(), false)
	assert.Equal(t, "42.1", threadTS)
}

func TestBuildApprovalRequestMessage(t *testing.T) {
	blocks := BuildApprovalRequestMessage(pendingCall(), "https://kestrel.example.com")
	require.Len(t, blocks, 3, "header, details, dashboard button")

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, "pending:pend-1")

	details, ok := blocks[1].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, details.Text.Text, "run_command")
	assert.Contains(t, details.Text.Text, "bob")

	// No dashboard configured: the button block is omitted.
	assert.Len(t, BuildApprovalRequestMessage(pendingCall(), ""), 2)
}
