// Package integration wires notification tap relaying into the host: the
// notify service wrapper, the action event listener and the click command.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"notitap/internal/host"
	"notitap/internal/notification"
	"notitap/internal/util"
)

var NotifySchema = host.NewSchema(
	host.Required(notification.KeyMessage, host.KindText),
	host.Optional(notification.KeyTarget, host.KindText),
	host.Optional(notification.KeyData, host.KindMap),
)

var ClickSchema = host.NewSchema(
	host.Required("notification_id", host.KindString),
	host.Required("action", host.KindString),
	host.Optional("click_action", host.KindAny),
	host.Optional("data", host.KindMap),
)

type Config struct {
	// NotifyDomain and NotifyService name the mobile app notify service that
	// decorated notifications are forwarded to.
	NotifyDomain  string
	NotifyService string
}

type Integration struct {
	cfg      Config
	bus      host.Bus
	caller   host.ServiceCaller
	services *host.Services
	commands *host.Commands
	logger   *slog.Logger

	mu       sync.Mutex
	unlisten func()
}

func New(cfg Config, bus host.Bus, caller host.ServiceCaller, services *host.Services, commands *host.Commands, logger *slog.Logger) *Integration {
	if cfg.NotifyDomain == "" {
		cfg.NotifyDomain = "notify"
	}
	if cfg.NotifyService == "" {
		cfg.NotifyService = "mobile_app"
	}
	return &Integration{
		cfg:      cfg,
		bus:      bus,
		caller:   caller,
		services: services,
		commands: commands,
		logger:   logger.With("integration", notification.Domain),
	}
}

func (i *Integration) Setup() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.unlisten != nil {
		return fmt.Errorf("%s already set up", notification.Domain)
	}

	if err := i.commands.Register(notification.CommandClicked, ClickSchema, i.handleNotificationClick); err != nil {
		return err
	}
	i.logger.Debug("Registered notification click handler")

	unlisten, err := i.bus.Listen(notification.EventMobileAppAction, i.handleActionEvent)
	if err != nil {
		i.commands.Remove(notification.CommandClicked)
		return fmt.Errorf("failed to listen for %s: %w", notification.EventMobileAppAction, err)
	}

	if err := i.services.Register(notification.Domain, notification.ServiceNotify, i.handleNotify, NotifySchema); err != nil {
		unlisten()
		i.commands.Remove(notification.CommandClicked)
		return err
	}

	i.unlisten = unlisten
	i.logger.Info("Integration set up", "forwardTo", i.cfg.NotifyDomain+"."+i.cfg.NotifyService)
	return nil
}

func (i *Integration) Unload() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.unlisten == nil {
		return
	}
	i.unlisten()
	i.unlisten = nil
	i.services.Remove(notification.Domain, notification.ServiceNotify)
	i.commands.Remove(notification.CommandClicked)
	i.logger.Info("Integration unloaded")
}

func (i *Integration) IsLoaded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unlisten != nil
}

func (i *Integration) handleNotify(ctx context.Context, call host.ServiceCall) error {
	payload := notification.Decorate(notification.PayloadFromServiceData(call.Data))

	i.logger.Debug("Forwarding notification",
		"service", i.cfg.NotifyDomain+"."+i.cfg.NotifyService,
		"target", payload.Target,
		"tag", payload.Data[notification.KeyTag])

	return i.caller.Call(ctx, i.cfg.NotifyDomain, i.cfg.NotifyService, payload.ServiceData())
}

func (i *Integration) handleActionEvent(ctx context.Context, event host.Event) {
	tap, ok := notification.ProjectTap(event.Data)
	if !ok {
		return
	}

	if err := i.bus.Fire(ctx, notification.EventTapped, tap.EventData()); err != nil {
		i.logger.Warn("Failed to fire tap event", "notificationID", tap.NotificationID, "error", err)
		return
	}
	i.logger.Debug("Relayed notification tap", "deviceID", tap.DeviceID, "notificationID", tap.NotificationID)
}

func (i *Integration) handleNotificationClick(ctx context.Context, msg map[string]any) error {
	i.logger.Debug("Received notification click", "msg", msg)

	click := notification.ClickFromMessage(msg)
	if err := i.bus.Fire(ctx, notification.EventTapped, click.EventData()); err != nil {
		return util.LogError(i.logger, "Failed to fire click event", err, "notificationID", click.NotificationID)
	}
	return nil
}
