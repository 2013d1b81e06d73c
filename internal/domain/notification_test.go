package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "SENT", want: StatusSent},
		{name: "valid lowercase with spaces", input: " retry ", want: StatusRetry},
		{name: "invalid", input: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Channel
		wantErr bool
	}{
		{input: " sms ", want: ChannelSMS},
		{input: "in_app", want: ChannelInApp},
		{input: "in-app", want: ChannelInApp},
		{input: "inapp", want: ChannelInApp},
		{input: "fax", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseChannelFromString(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ParseChannelFromString(%q) error = %v, want ErrValidation", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseChannelFromString(%q) unexpected error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("ParseChannelFromString(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParsePriorityFromString(t *testing.T) {
	t.Parallel()

	got, err := ParsePriorityFromString(" critical ")
	if err != nil {
		t.Fatalf("ParsePriorityFromString() unexpected error = %v", err)
	}
	if got != PriorityCritical {
		t.Fatalf("ParsePriorityFromString() = %s, want %s", got, PriorityCritical)
	}

	got, err = ParsePriorityFromString("normal")
	if err != nil {
		t.Fatalf("ParsePriorityFromString(normal) unexpected error = %v", err)
	}
	if got != PriorityMedium {
		t.Fatalf("ParsePriorityFromString(normal) = %s, want %s", got, PriorityMedium)
	}

	_, err = ParsePriorityFromString("urgent")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParsePriorityFromString() error = %v, want ErrValidation", err)
	}
}

func TestTypeMandatory(t *testing.T) {
	t.Parallel()

	mandatory := map[Type]bool{
		TypeTransactional: true,
		TypeAlert:         true,
		TypeSystem:        true,
		TypePromotional:   false,
		TypeReminder:      false,
	}
	for tp, want := range mandatory {
		if got := tp.Mandatory(); got != want {
			t.Fatalf("%s.Mandatory() = %v, want %v", tp, got, want)
		}
	}
}

func TestPriorityMaxDelayOrdering(t *testing.T) {
	t.Parallel()

	ordered := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].MaxDelay() >= ordered[i].MaxDelay() {
			t.Fatalf("%s max delay %s should be below %s max delay %s",
				ordered[i-1], ordered[i-1].MaxDelay(), ordered[i], ordered[i].MaxDelay())
		}
	}
}

func TestStatusCancelable(t *testing.T) {
	t.Parallel()

	for _, st := range []Status{StatusPending, StatusRetry} {
		if !st.Cancelable() {
			t.Fatalf("%s should be cancelable", st)
		}
	}
	for _, st := range []Status{StatusProcessing, StatusSent, StatusDelivered, StatusFailed, StatusCancelled} {
		if st.Cancelable() {
			t.Fatalf("%s should not be cancelable", st)
		}
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	base := Notification{
		UserID:     "u-1",
		Channel:    ChannelSMS,
		Type:       TypeTransactional,
		Priority:   PriorityMedium,
		Body:       "hello",
		MaxRetries: 3,
	}

	tests := []struct {
		name    string
		mutate  func(*Notification)
		wantErr bool
	}{
		{
			name: "valid notification",
			mutate: func(n *Notification) {
				// keep base
			},
		},
		{
			name: "missing user",
			mutate: func(n *Notification) {
				n.UserID = " "
			},
			wantErr: true,
		},
		{
			name: "missing channel",
			mutate: func(n *Notification) {
				n.Channel = ""
			},
			wantErr: true,
		},
		{
			name: "missing message",
			mutate: func(n *Notification) {
				n.Body = ""
			},
			wantErr: true,
		},
		{
			name: "invalid channel",
			mutate: func(n *Notification) {
				n.Channel = Channel("VOICE")
			},
			wantErr: true,
		},
		{
			name: "invalid priority",
			mutate: func(n *Notification) {
				n.Priority = Priority("URGENT")
			},
			wantErr: true,
		},
		{
			name: "retry count above budget",
			mutate: func(n *Notification) {
				n.RetryCount = 4
			},
			wantErr: true,
		},
		{
			name: "sms content over limit",
			mutate: func(n *Notification) {
				n.Body = strings.Repeat("a", MaxSMSContent+1)
			},
			wantErr: true,
		},
		{
			name: "push content over limit",
			mutate: func(n *Notification) {
				n.Channel = ChannelPush
				n.Body = strings.Repeat("a", MaxPushContent+1)
			},
			wantErr: true,
		},
		{
			name: "email content over limit",
			mutate: func(n *Notification) {
				n.Channel = ChannelEmail
				n.Body = strings.Repeat("a", MaxEmailContent+1)
			},
			wantErr: true,
		},
		{
			name: "rune-aware sms length accepted",
			mutate: func(n *Notification) {
				n.Body = strings.Repeat("ğ", MaxSMSContent)
			},
		},
		{
			name: "rune-aware sms length overflow",
			mutate: func(n *Notification) {
				n.Body = strings.Repeat("ğ", MaxSMSContent+1)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestNotificationApplyDefaults(t *testing.T) {
	t.Parallel()

	n := Notification{}
	n.ApplyDefaults()

	if n.Type != TypeTransactional {
		t.Fatalf("Type = %s, want %s", n.Type, TypeTransactional)
	}
	if n.Priority != PriorityMedium {
		t.Fatalf("Priority = %s, want %s", n.Priority, PriorityMedium)
	}
	if n.MaxRetries != 0 {
		t.Fatalf("MaxRetries = %d, want explicit 0 kept", n.MaxRetries)
	}
}

func TestMaxRetriesOrDefault(t *testing.T) {
	t.Parallel()

	zero, five := 0, 5
	tests := []struct {
		name      string
		requested *int
		want      int
	}{
		{name: "omitted", requested: nil, want: DefaultMaxRetries},
		{name: "explicit zero", requested: &zero, want: 0},
		{name: "explicit five", requested: &five, want: 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := MaxRetriesOrDefault(tt.requested); got != tt.want {
				t.Fatalf("MaxRetriesOrDefault() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrAlreadyProcessingIsConflict(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrAlreadyProcessing, ErrConflict) {
		t.Fatal("ErrAlreadyProcessing should match ErrConflict")
	}
}

func TestUserLocation(t *testing.T) {
	t.Parallel()

	u := &User{Timezone: "Europe/Istanbul"}
	if got := u.Location().String(); got != "Europe/Istanbul" {
		t.Fatalf("Location() = %s, want Europe/Istanbul", got)
	}

	u.Timezone = "Not/AZone"
	if got := u.Location(); got != time.UTC {
		t.Fatalf("Location() = %v, want UTC fallback", got)
	}

	u.Locale = "tr-TR"
	if got := u.Language(); got != "tr" {
		t.Fatalf("Language() = %q, want tr", got)
	}
}
