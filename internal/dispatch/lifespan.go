package dispatch

import (
	"context"

	"github.com/velo-web/velo/transport"
)

// serveLifespan runs the startup/shutdown protocol. The loop answers each
// event with a complete or failed acknowledgement and returns on shutdown.
// Startup hooks run at most once even if the event repeats.
func (d *Dispatcher) serveLifespan(ctx context.Context, recv transport.Receiver, send transport.Sender) error {
	for {
		ev, err := recv(ctx)
		if err != nil {
			return err
		}

		switch ev.Type {
		case transport.EventStartup:
			if err := d.startup(ctx); err != nil {
				d.Log.WithError(err).Error("startup hook failed")

				return send(ctx, transport.Event{
					Type: transport.EventStartupFailed,
					Text: err.Error(),
				})
			}

			if err := send(ctx, transport.Event{Type: transport.EventStartupComplete}); err != nil {
				return err
			}

		case transport.EventShutdown:
			if err := d.shutdown(ctx); err != nil {
				d.Log.WithError(err).Error("shutdown hook failed")

				return send(ctx, transport.Event{
					Type: transport.EventShutdownFailed,
					Text: err.Error(),
				})
			}

			return send(ctx, transport.Event{Type: transport.EventShutdownComplete})

		default:
			return nil
		}
	}
}

func (d *Dispatcher) startup(ctx context.Context) error {
	if d.started {
		return nil
	}

	for _, hook := range d.OnStartup {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	d.started = true
	return nil
}

func (d *Dispatcher) shutdown(ctx context.Context) error {
	for _, hook := range d.OnShutdown {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	return nil
}
