package notification

import (
	"fmt"
	"hash/fnv"
	"maps"
)

// Decorate adds tap tracking to a payload that asks for a click action:
// a tag identifying the notification and a trailing TAP_EVENT action.
// Payloads without clickAction are returned as is. The caller's data map is
// not modified.
func Decorate(p Payload) Payload {
	if _, ok := p.Data[KeyClickAction]; !ok {
		return p
	}

	data := maps.Clone(p.Data)

	tag, ok := data[KeyTag]
	if !ok {
		tag = DefaultTag(p.Message)
	}
	data[KeyTag] = tag

	actions := existingActions(data[KeyActions])
	data[KeyActions] = append(actions, Action{
		Action: TrackingAction,
		Title:  TrackingActionTitle,
		Launch: true,
	}.toMap())

	p.Data = data
	return p
}

// DefaultTag derives a stable tag from the message text.
func DefaultTag(message string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(message))
	return fmt.Sprintf("notify_%d", h.Sum64())
}

// existingActions copies the caller's action list. Anything that is not a
// list is dropped.
func existingActions(v any) []any {
	switch actions := v.(type) {
	case []any:
		out := make([]any, len(actions), len(actions)+1)
		copy(out, actions)
		return out
	case []map[string]any:
		out := make([]any, 0, len(actions)+1)
		for _, a := range actions {
			out = append(out, a)
		}
		return out
	default:
		return make([]any, 0, 1)
	}
}
