package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

func newPostmarkServer(t *testing.T, handler func(body map[string]any) map[string]any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/email" {
			t.Errorf("path = %s, want /email", r.URL.Path)
		}
		if r.Header.Get("X-Postmark-Server-Token") != "server-token" {
			t.Errorf("missing server token header")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPostmarkProviderSendAcceptsWithoutDelivery(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := newPostmarkServer(t, func(body map[string]any) map[string]any {
		got = body
		return map[string]any{"MessageID": "pm-1", "ErrorCode": 0, "Message": "OK"}
	})

	p, err := NewPostmarkProvider(PostmarkConfig{
		ServerToken: "server-token",
		SenderEmail: "noreply@example.com",
		BaseURL:     server.URL,
	})
	if err != nil {
		t.Fatalf("NewPostmarkProvider() error = %v", err)
	}

	resp, err := p.Send(context.Background(), Message{
		NotificationID: "n-1",
		Channel:        domain.ChannelEmail,
		To:             "ada@example.com",
		Subject:        "Order 123",
		Body:           "Order 123 confirmed",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.MessageID != "pm-1" {
		t.Fatalf("MessageID = %q, want pm-1", resp.MessageID)
	}
	if resp.Delivered {
		t.Fatal("Delivered = true, want false until the delivery webhook arrives")
	}
	if got["To"] != "ada@example.com" || got["Subject"] != "Order 123" || got["TextBody"] != "Order 123 confirmed" {
		t.Fatalf("request body = %v", got)
	}
}

func TestPostmarkProviderErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		code          int
		wantTransient bool
	}{
		{name: "inactive recipient is permanent", code: 406, wantTransient: false},
		{name: "maintenance is transient", code: postmarkMaintenanceCode, wantTransient: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newPostmarkServer(t, func(map[string]any) map[string]any {
				return map[string]any{"ErrorCode": tt.code, "Message": "rejected"}
			})

			p, err := NewPostmarkProvider(PostmarkConfig{
				ServerToken: "server-token",
				SenderEmail: "noreply@example.com",
				BaseURL:     server.URL,
			})
			if err != nil {
				t.Fatalf("NewPostmarkProvider() error = %v", err)
			}

			_, err = p.Send(context.Background(), Message{Channel: domain.ChannelEmail, To: "ada@example.com", Body: "hi"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}

func TestNewPostmarkProviderRequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewPostmarkProvider(PostmarkConfig{SenderEmail: "a@example.com"}); err == nil {
		t.Fatal("expected error without server token")
	}
	if _, err := NewPostmarkProvider(PostmarkConfig{ServerToken: "x"}); err == nil {
		t.Fatal("expected error without sender")
	}
}
