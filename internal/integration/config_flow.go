package integration

import (
	"fmt"

	"notitap/internal/configflow"
	"notitap/internal/notification"
)

const (
	ConfigFlowVersion = 1
	EntryTitle        = "Notification Tap Events"
)

// ConfigFlow has a single confirmation step and allows one entry.
type ConfigFlow struct{}

var _ configflow.Handler = ConfigFlow{}

func (ConfigFlow) Version() int {
	return ConfigFlowVersion
}

func (c ConfigFlow) Step(f *configflow.Flow, stepID string, input map[string]any) (configflow.Result, error) {
	switch stepID {
	case configflow.StepUser:
		return c.stepUser(f, input)
	default:
		return configflow.Result{}, fmt.Errorf("%w: %s", configflow.ErrUnknownStep, stepID)
	}
}

func (ConfigFlow) stepUser(f *configflow.Flow, input map[string]any) (configflow.Result, error) {
	if input == nil {
		return f.ShowForm(configflow.StepUser), nil
	}

	f.SetUniqueID(notification.Domain)
	configured, err := f.UniqueIDConfigured()
	if err != nil {
		return configflow.Result{}, err
	}
	if configured {
		return f.Abort(configflow.ReasonAlreadyConfigured), nil
	}

	return f.CreateEntry(EntryTitle, map[string]any{})
}
