package billing

import (
	"encoding/json"
	"testing"
)

func mustPayload(t *testing.T, raw string) Payload {
	t.Helper()
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return p
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer("revenuecat", "pro")

	tests := []struct {
		name    string
		payload string
		want    *WebhookEvent
	}{
		{
			name:    "nested entitlement ids",
			payload: `{"event":{"id":"evt_1","app_user_id":"u1","entitlement_ids":["pro"]}}`,
			want:    &WebhookEvent{EventID: "evt_1", UserID: "u1", IsPro: true, Source: "revenuecat"},
		},
		{
			name:    "ids outrank boolean",
			payload: `{"event":{"id":"evt_1","app_user_id":"u1","entitlement_ids":["pro"],"is_pro":false}}`,
			want:    &WebhookEvent{EventID: "evt_1", UserID: "u1", IsPro: true, Source: "revenuecat"},
		},
		{
			name:    "ids without pro",
			payload: `{"event":{"id":"evt_1","app_user_id":"u1","entitlement_ids":["basic",7],"is_pro":true}}`,
			want:    &WebhookEvent{EventID: "evt_1", UserID: "u1", IsPro: false, Source: "revenuecat"},
		},
		{
			name:    "empty ids fall through to single id",
			payload: `{"event":{"id":"evt_1","app_user_id":"u1","entitlement_ids":[],"entitlement_id":"pro"}}`,
			want:    &WebhookEvent{EventID: "evt_1", UserID: "u1", IsPro: true, Source: "revenuecat"},
		},
		{
			name:    "single id mismatch",
			payload: `{"event":{"id":"evt_1","app_user_id":"u1","entitlement_id":"gold","is_pro":true}}`,
			want:    &WebhookEvent{EventID: "evt_1", UserID: "u1", IsPro: false, Source: "revenuecat"},
		},
		{
			name:    "flat payload with camelCase boolean",
			payload: `{"event_id":"evt_2","user_id":"u2","isPro":true}`,
			want:    &WebhookEvent{EventID: "evt_2", UserID: "u2", IsPro: true, Source: "revenuecat"},
		},
		{
			name:    "nested preferred over flat",
			payload: `{"id":"outer","event":{"id":"inner","userId":"u3","is_pro":false}}`,
			want:    &WebhookEvent{EventID: "inner", UserID: "u3", IsPro: false, Source: "revenuecat"},
		},
		{
			name:    "flat fallback when nested field blank",
			payload: `{"id":"outer","app_user_id":"u4","event":{"id":"  ","is_pro":true}}`,
			want:    &WebhookEvent{EventID: "outer", UserID: "u4", IsPro: true, Source: "revenuecat"},
		},
		{
			name:    "original app user id",
			payload: `{"event":{"id":"evt_5","original_app_user_id":" u5 ","is_pro":true}}`,
			want:    &WebhookEvent{EventID: "evt_5", UserID: "u5", IsPro: true, Source: "revenuecat"},
		},
		{
			name:    "source is never taken from payload",
			payload: `{"event":{"id":"evt_6","app_user_id":"u6","is_pro":true,"source":"client"}}`,
			want:    &WebhookEvent{EventID: "evt_6", UserID: "u6", IsPro: true, Source: "revenuecat"},
		},
		{name: "missing event id", payload: `{"event":{"app_user_id":"u1","is_pro":true}}`},
		{name: "missing user id", payload: `{"event":{"id":"evt_1","is_pro":true}}`},
		{name: "missing pro status", payload: `{"event":{"id":"evt_1","app_user_id":"u1"}}`},
		{name: "string boolean is not a boolean", payload: `{"event":{"id":"evt_1","app_user_id":"u1","is_pro":"true"}}`},
		{name: "numeric ids are ignored", payload: `{"event":{"id":42,"app_user_id":"u1","is_pro":true}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(mustPayload(t, tt.payload))
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected rejection, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected an event, got nil")
			}
			if *got != *tt.want {
				t.Errorf("Normalize() = %+v, want %+v", *got, *tt.want)
			}
		})
	}
}

func TestNormalizer_NilPayload(t *testing.T) {
	if NewNormalizer("p", "pro").Normalize(nil) != nil {
		t.Error("nil payload must not normalize")
	}
}
