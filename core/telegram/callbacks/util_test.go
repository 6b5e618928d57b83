package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		cb      *tele.Callback
		key     string
		payload string
	}{
		{&tele.Callback{Data: "\fappeal_status|15|completed"}, "appeal_status", "15|completed"},
		{&tele.Callback{Data: "\fping"}, "ping", ""},
		{&tele.Callback{Unique: "appeal_status", Data: "15|rejected"}, "appeal_status", "15|rejected"},
		{nil, "", ""},
	}
	for _, tc := range cases {
		key, payload := ParseCallbackData(tc.cb)
		if key != tc.key || payload != tc.payload {
			t.Fatalf("ParseCallbackData(%+v) = %q, %q; want %q, %q", tc.cb, key, payload, tc.key, tc.payload)
		}
	}
}
