// Package whatsapp implements the transport over whatsmeow.
package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/transport"
)

// Dialer opens whatsmeow clients over a shared device container.
type Dialer struct {
	container  *sqlstore.Container
	deviceName string
	log        waLog.Logger
}

// NewDialer creates a Dialer. deviceName is shown in the phone's linked
// devices list.
func NewDialer(container *sqlstore.Container, deviceName string, log waLog.Logger) *Dialer {
	return &Dialer{
		container:  container,
		deviceName: deviceName,
		log:        log.Sub("WhatsApp"),
	}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, accountID string, creds *transport.Credentials, h transport.Handler) (transport.Session, error) {
	device, err := d.device(ctx, accountID, creds)
	if err != nil {
		return nil, err
	}

	cli := whatsmeow.NewClient(device, d.log.Sub("Client/"+accountID))
	// reconnects are driven by the session supervisor
	cli.EnableAutoReconnect = false
	// the post-pairing restart surfaces as ManualLoginReconnect
	cli.DisableLoginAutoReconnect = true
	cli.AutoTrustIdentity = true

	s := newSession(accountID, cli, h, d.deviceName, d.log.Sub(accountID))
	cli.AddEventHandler(s.handleEvent)
	return s, nil
}

func (d *Dialer) device(ctx context.Context, accountID string, creds *transport.Credentials) (*store.Device, error) {
	if creds == nil || creds.JID == "" {
		return d.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(creds.JID)
	if err != nil {
		return nil, fmt.Errorf("parse device jid %q: %w", creds.JID, err)
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", jid, err)
	}
	if device == nil {
		d.log.Warnf("[persistence] device %s of %s is gone, pairing again", jid, accountID)
		return d.container.NewDevice(), nil
	}
	return device, nil
}

// Forget implements transport.Dialer by deleting the device keys.
func (d *Dialer) Forget(ctx context.Context, creds *transport.Credentials) error {
	if creds == nil || creds.JID == "" {
		return nil
	}
	jid, err := types.ParseJID(creds.JID)
	if err != nil {
		return fmt.Errorf("parse device jid %q: %w", creds.JID, err)
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return fmt.Errorf("load device %s: %w", jid, err)
	}
	if device == nil {
		return nil
	}
	if err := device.Delete(ctx); err != nil {
		return fmt.Errorf("delete device %s: %w", jid, err)
	}
	return nil
}
