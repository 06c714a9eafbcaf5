package bgp

import "testing"

func TestParseNotificationKnownSubcode(t *testing.T) {
	msg, err := ParseNotification([]byte{ErrCodeCease, 2})
	if err != nil {
		t.Fatalf("parse notification: %v", err)
	}
	if msg.Text != "Cease: Administrative Shutdown" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestParseNotificationUnknownCode(t *testing.T) {
	msg, err := ParseNotification([]byte{99, 1})
	if err != nil {
		t.Fatalf("parse notification: %v", err)
	}
	if msg.Text != "Unknown notification type [99]" {
		t.Fatalf("text = %q", msg.Text)
	}
}
