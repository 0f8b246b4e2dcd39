package billing

import "strings"

// Payload is a decoded webhook body. Providers disagree on shape, so it is
// probed field by field instead of decoded into a struct.
type Payload map[string]interface{}

// Rule extracts one candidate value from a payload. ok is false when the
// rule does not apply.
type Rule[T any] func(p Payload) (v T, ok bool)

// first applies rules in order and returns the first hit.
func first[T any](p Payload, rules []Rule[T]) (T, bool) {
	for _, rule := range rules {
		if v, ok := rule(p); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// eventObject is the nested "event" object when present, else the payload itself.
func eventObject(p Payload) Payload {
	if ev, ok := p["event"].(map[string]interface{}); ok {
		return ev
	}
	return p
}

// stringAt matches a non-blank string field, trimmed.
func stringAt(nested bool, key string) Rule[string] {
	return func(p Payload) (string, bool) {
		obj := p
		if nested {
			obj = eventObject(p)
		}
		s, ok := obj[key].(string)
		if !ok {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
}

// boolAt matches a JSON boolean field.
func boolAt(nested bool, key string) Rule[bool] {
	return func(p Payload) (bool, bool) {
		obj := p
		if nested {
			obj = eventObject(p)
		}
		b, ok := obj[key].(bool)
		return b, ok
	}
}

// stringsAt matches an array field, keeping only its string elements.
func stringsAt(nested bool, key string) Rule[[]string] {
	return func(p Payload) ([]string, bool) {
		obj := p
		if nested {
			obj = eventObject(p)
		}
		arr, ok := obj[key].([]interface{})
		if !ok {
			return nil, false
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
}

const (
	inEvent = true
	atRoot  = false
)

var eventIDRules = []Rule[string]{
	stringAt(inEvent, "id"),
	stringAt(inEvent, "event_id"),
	stringAt(atRoot, "id"),
	stringAt(atRoot, "event_id"),
}

var userIDRules = []Rule[string]{
	stringAt(inEvent, "app_user_id"),
	stringAt(inEvent, "appUserId"),
	stringAt(inEvent, "original_app_user_id"),
	stringAt(inEvent, "originalAppUserId"),
	stringAt(inEvent, "user_id"),
	stringAt(inEvent, "userId"),
	stringAt(atRoot, "app_user_id"),
	stringAt(atRoot, "user_id"),
}

var entitlementIDsRules = []Rule[[]string]{
	stringsAt(inEvent, "entitlement_ids"),
	stringsAt(atRoot, "entitlement_ids"),
}

var entitlementIDRules = []Rule[string]{
	stringAt(inEvent, "entitlement_id"),
	stringAt(atRoot, "entitlement_id"),
}

var isProRules = []Rule[bool]{
	boolAt(inEvent, "is_pro"),
	boolAt(atRoot, "is_pro"),
	boolAt(inEvent, "isPro"),
	boolAt(atRoot, "isPro"),
}

// Normalizer turns provider payloads into WebhookEvents.
type Normalizer struct {
	provider         string
	proEntitlementID string
}

// NewNormalizer creates a normalizer that stamps events with provider and
// interprets entitlement ids against proEntitlementID.
func NewNormalizer(provider, proEntitlementID string) *Normalizer {
	return &Normalizer{provider: provider, proEntitlementID: proEntitlementID}
}

// Normalize returns nil unless the payload yields an event id, a user id and
// a pro status. Pro status precedence: a non-empty entitlement_ids array,
// then a single entitlement_id, then an is_pro/isPro boolean.
func (n *Normalizer) Normalize(p Payload) *WebhookEvent {
	if p == nil {
		return nil
	}

	eventID, ok := first(p, eventIDRules)
	if !ok {
		return nil
	}
	userID, ok := first(p, userIDRules)
	if !ok {
		return nil
	}
	isPro, ok := n.resolveIsPro(p)
	if !ok {
		return nil
	}

	return &WebhookEvent{
		EventID: eventID,
		UserID:  userID,
		IsPro:   isPro,
		Source:  n.provider,
	}
}

func (n *Normalizer) resolveIsPro(p Payload) (bool, bool) {
	if ids, _ := first(p, entitlementIDsRules); len(ids) > 0 {
		for _, id := range ids {
			if id == n.proEntitlementID {
				return true, true
			}
		}
		return false, true
	}
	if id, ok := first(p, entitlementIDRules); ok {
		return id == n.proEntitlementID, true
	}
	return first(p, isProRules)
}
