// Package notify sends a desktop notification when the bridge fails to
// start, the same fallback yabridge's VSTPluginMain reaches for on the
// assumption most users won't see a console they don't have attached to
// their DAW. It speaks directly to the session D-Bus notification
// daemon rather than shelling out to notify-send.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"
	"github.com/samber/oops"
)

// Notifier sends a single desktop notification. The production
// implementation talks to org.freedesktop.Notifications over the session
// bus; tests use a recording fake instead of requiring a running D-Bus
// session.
type Notifier interface {
	Notify(ctx context.Context, summary, body string) error
}

// DBusNotifier is the production Notifier, backed by a session D-Bus
// connection.
type DBusNotifier struct {
	conn *dbus.Conn
	n    notify.Notifier
}

// NewDBusNotifier connects to the session bus and registers with the
// notification daemon. Callers should Close it when done, though in
// practice nativeproxy only ever sends one notification before exiting.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, oops.Wrapf(err, "notify: connect to session bus")
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, oops.Wrapf(err, "notify: authenticate with session bus")
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, oops.Wrapf(err, "notify: send hello")
	}

	n, err := notify.New(conn)
	if err != nil {
		conn.Close()
		return nil, oops.Wrapf(err, "notify: register with notification daemon")
	}

	return &DBusNotifier{conn: conn, n: n}, nil
}

// Notify sends summary/body as a normal-urgency notification under the
// "yabridge-go" app name, expiring after 10 seconds.
func (d *DBusNotifier) Notify(ctx context.Context, summary, body string) error {
	_, err := d.n.SendNotification(notify.Notification{
		AppName:       "yabridge-go",
		ReplacesID:    0,
		AppIcon:       "",
		Summary:       summary,
		Body:          body,
		ExpireTimeout: 10_000, // milliseconds
	})
	if err != nil {
		return oops.Wrapf(err, "notify: send notification")
	}
	return nil
}

// Close releases the D-Bus connection.
func (d *DBusNotifier) Close() error {
	return d.conn.Close()
}

// NotifyStartupFailure is the call site every binary's entry point uses
// on an unrecoverable startup error: it builds the summary/body yabridge
// itself sends ("Failed to initialize VST2 plugin" plus the error and a
// remediation hint) and swallows -- but logs -- any failure to actually
// deliver the notification, since a broken D-Bus session must never mask
// the original startup error from the caller.
func NotifyStartupFailure(ctx context.Context, n Notifier, pluginKind, pluginPath string, cause error) {
	if n == nil {
		return
	}
	summary := fmt.Sprintf("Failed to initialize %s plugin", pluginKind)
	body := fmt.Sprintf("%s\n\nPlugin: %s\n\nIf you just updated, re-run your plugin sync step first.", cause, pluginPath)
	if err := n.Notify(ctx, summary, body); err != nil {
		slog.Warn("notify: startup-failure notification not delivered", "error", err)
	}
}
