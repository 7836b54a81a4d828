// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build linux || freebsd || openbsd || netbsd || dragonfly

package keyring

import (
	"context"
	"fmt"

	dbus "github.com/godbus/dbus/v5"
)

// The freedesktop Secret Service API (gnome-keyring, KWallet's
// compatibility layer, KeePassXC) over the session bus.
const (
	ssDest           = "org.freedesktop.secrets"
	ssServicePath    = dbus.ObjectPath("/org/freedesktop/secrets")
	ssServiceIface   = "org.freedesktop.Secret.Service"
	ssItemIface      = "org.freedesktop.Secret.Item"
	ssDefaultAlias   = dbus.ObjectPath("/org/freedesktop/secrets/aliases/default")
	ssCollectionItfc = "org.freedesktop.Secret.Collection"
)

func init() {
	provider = secretServiceProvider{}
}

// ssSecret mirrors the wire shape of org.freedesktop.Secret.Secret.
type ssSecret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

type secretServiceProvider struct{}

func (secretServiceProvider) session() (*dbus.Conn, dbus.ObjectPath, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, "", fmt.Errorf("keyring: session bus: %w", err)
	}
	svc := conn.Object(ssDest, ssServicePath)
	var discard dbus.Variant
	var session dbus.ObjectPath
	if err := svc.Call(ssServiceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).Store(&discard, &session); err != nil {
		return nil, "", fmt.Errorf("keyring: open session: %w", err)
	}
	return conn, session, nil
}

func (p secretServiceProvider) unlock(conn *dbus.Conn, path dbus.ObjectPath) error {
	svc := conn.Object(ssDest, ssServicePath)
	var unlocked []dbus.ObjectPath
	var prompt dbus.ObjectPath
	return svc.Call(ssServiceIface+".Unlock", 0, []dbus.ObjectPath{path}).Store(&unlocked, &prompt)
}

func (p secretServiceProvider) findItem(conn *dbus.Conn, targetName string) (dbus.ObjectPath, error) {
	if err := p.unlock(conn, ssDefaultAlias); err != nil {
		return "", err
	}
	collection := conn.Object(ssDest, ssDefaultAlias)
	var results []dbus.ObjectPath
	err := collection.Call(ssCollectionItfc+".SearchItems", 0, map[string]string{
		"service": targetName,
	}).Store(&results)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", ErrNotFound
	}
	return results[0], nil
}

func (p secretServiceProvider) Find(ctx context.Context, targetName string) (*Cred, error) {
	conn, session, err := p.session()
	if err != nil {
		return nil, err
	}
	itemPath, err := p.findItem(conn, targetName)
	if err != nil {
		return nil, err
	}
	item := conn.Object(ssDest, itemPath)
	var secret ssSecret
	if err := item.Call(ssItemIface+".GetSecret", 0, session).Store(&secret); err != nil {
		return nil, err
	}
	attrsVar, err := item.GetProperty(ssItemIface + ".Attributes")
	if err != nil {
		return nil, err
	}
	username := ""
	if attrs, ok := attrsVar.Value().(map[string]string); ok {
		username = attrs["username"]
	}
	return &Cred{UserName: username, Password: string(secret.Value)}, nil
}

func (p secretServiceProvider) Store(ctx context.Context, targetName string, c *Cred) error {
	conn, session, err := p.session()
	if err != nil {
		return err
	}
	if err := p.unlock(conn, ssDefaultAlias); err != nil {
		return err
	}
	collection := conn.Object(ssDest, ssDefaultAlias)
	properties := map[string]dbus.Variant{
		"org.freedesktop.Secret.Item.Label": dbus.MakeVariant(fmt.Sprintf("Credential for '%s' on '%s'", c.UserName, targetName)),
		"org.freedesktop.Secret.Item.Attributes": dbus.MakeVariant(map[string]string{
			"service":  targetName,
			"username": c.UserName,
		}),
	}
	secret := ssSecret{Session: session, Value: []byte(c.Password), ContentType: "text/plain; charset=utf8"}
	var itemPath, promptPath dbus.ObjectPath
	return collection.Call(ssCollectionItfc+".CreateItem", 0, properties, secret, true).Store(&itemPath, &promptPath)
}

func (p secretServiceProvider) Discard(ctx context.Context, targetName string) error {
	conn, _, err := p.session()
	if err != nil {
		return err
	}
	itemPath, err := p.findItem(conn, targetName)
	if err != nil {
		return err
	}
	item := conn.Object(ssDest, itemPath)
	var prompt dbus.ObjectPath
	return item.Call(ssItemIface+".Delete", 0).Store(&prompt)
}
