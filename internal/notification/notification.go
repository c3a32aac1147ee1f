// Package notification holds the payload and event shapes relayed between
// callers, the mobile app notify service and the Home Assistant event bus.
package notification

const (
	Domain = "notification_tap"

	// EventTapped is fired on the host bus for every tap or click.
	EventTapped = "notification_tapped"
	// EventMobileAppAction is fired by the mobile_app integration when a
	// notification action is pressed.
	EventMobileAppAction = "mobile_app_notification_action"

	CommandClicked = "mobile_app/notification_clicked"

	ServiceNotify = "notify"

	TapAction = "tap"

	TrackingAction      = "TAP_EVENT"
	TrackingActionTitle = "Tap"

	KeyMessage     = "message"
	KeyTarget      = "target"
	KeyData        = "data"
	KeyClickAction = "clickAction"
	KeyTag         = "tag"
	KeyActions     = "actions"
)

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Launch bool   `json:"launch"`
}

func (a Action) toMap() map[string]any {
	return map[string]any{
		"action": a.Action,
		"title":  a.Title,
		"launch": a.Launch,
	}
}

// Payload is the inbound notify call. Data is kept as a generic mapping so
// fields the mobile app understands pass through untouched.
type Payload struct {
	Message string         `json:"message"`
	Target  string         `json:"target,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// PayloadFromServiceData reads a validated notify service call.
func PayloadFromServiceData(data map[string]any) Payload {
	p := Payload{}
	p.Message, _ = data[KeyMessage].(string)
	p.Target, _ = data[KeyTarget].(string)
	p.Data, _ = data[KeyData].(map[string]any)
	return p
}

// ServiceData is the body forwarded to the mobile app notify service.
func (p Payload) ServiceData() map[string]any {
	data := p.Data
	if data == nil {
		data = map[string]any{}
	}

	out := map[string]any{
		KeyMessage: p.Message,
		KeyData:    data,
	}
	if p.Target != "" {
		out[KeyTarget] = p.Target
	}
	return out
}

// TapEvent mirrors the inbound action event, so its fields keep whatever
// JSON type the mobile app sent.
type TapEvent struct {
	DeviceID       any            `json:"device_id"`
	NotificationID any            `json:"notification_id"`
	Title          any            `json:"title"`
	Message        any            `json:"message"`
	Data           map[string]any `json:"data"`
}

func (e TapEvent) EventData() map[string]any {
	return map[string]any{
		"device_id":       e.DeviceID,
		"notification_id": e.NotificationID,
		"title":           e.Title,
		"message":         e.Message,
		"data":            e.Data,
	}
}

type ClickEvent struct {
	NotificationID string         `json:"notification_id"`
	Action         string         `json:"action"`
	ClickAction    any            `json:"click_action"`
	Data           map[string]any `json:"data"`
}

func (e ClickEvent) EventData() map[string]any {
	return map[string]any{
		"notification_id": e.NotificationID,
		"action":          e.Action,
		"click_action":    e.ClickAction,
		"data":            e.Data,
	}
}
