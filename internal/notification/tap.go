package notification

// ProjectTap turns a mobile_app_notification_action event into a tap event.
// It reports false for any action other than "tap". Field values are copied
// as they arrive; a missing key stays nil.
func ProjectTap(event map[string]any) (TapEvent, bool) {
	if action, _ := event["action"].(string); action != TapAction {
		return TapEvent{}, false
	}

	data, _ := event["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	return TapEvent{
		DeviceID:       event["device_id"],
		NotificationID: data["notification_id"],
		Title:          data["title"],
		Message:        data["message"],
		Data:           data,
	}, true
}

// ClickFromMessage reads a notification_clicked websocket command that has
// already passed the command schema.
func ClickFromMessage(msg map[string]any) ClickEvent {
	data, _ := msg["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	ev := ClickEvent{
		ClickAction: msg["click_action"],
		Data:        data,
	}
	ev.NotificationID, _ = msg["notification_id"].(string)
	ev.Action, _ = msg["action"].(string)
	return ev
}
