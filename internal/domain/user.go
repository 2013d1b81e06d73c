package domain

import (
	"strings"
	"time"
)

// User is read from the user directory; the dispatcher never writes it.
type User struct {
	ID        string
	Email     string
	Phone     string
	PushToken string
	Active    bool
	Locale    string
	Timezone  string
}

func (u *User) CanReceiveNotifications() bool {
	return u != nil && u.Active
}

// Address returns the destination for a channel, or "" when the user has none.
func (u *User) Address(channel Channel) string {
	if u == nil {
		return ""
	}

	switch channel {
	case ChannelEmail:
		return strings.TrimSpace(u.Email)
	case ChannelSMS:
		return strings.TrimSpace(u.Phone)
	case ChannelPush:
		return strings.TrimSpace(u.PushToken)
	case ChannelInApp:
		return u.ID
	}
	return ""
}

// Location resolves the user's timezone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u == nil || strings.TrimSpace(u.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(strings.TrimSpace(u.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// Language returns the base language of the user locale, e.g. "en" for "en-US".
func (u *User) Language() string {
	if u == nil {
		return ""
	}
	locale := strings.ToLower(strings.TrimSpace(u.Locale))
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	return locale
}
