// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/broadcast"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/cmdutil"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/hostconfig"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/pairing"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpsession"

	"github.com/open-source-firmware/go-ptpip-wireless/cmd/ptpiphostd/mtpdemo"
)

const (
	programName = "ptpiphostd"
	programDesc = "PTP/IP wireless pairing host daemon"

	defaultMTPProtocolVersion      = 100
	defaultWirelessProtocolVersion = 100
)

var cli struct {
	Name        string `flag:"" type:"hostname" help:"Friendly name advertised to devices; prompted for if omitted on an interactive terminal"`
	Type        string `flag:"" default:"win" help:"Host type advertised in the SRCH reply (e.g. win, mac)"`
	GUID        string `flag:"" optional:"" help:"32 hex character host GUID; a random one is generated if omitted"`
	Addr        string `flag:"" default:"" help:"Local IP to bind the broadcast and pairing sockets to; empty means all interfaces"`
	Port        int    `flag:"" default:"9309" help:"UDP broadcast and TCP pairing port"`
	KnownHosts  string `flag:"" optional:"" type:"accessiblefile" help:"Path to an existing (possibly empty) flat file of known device GUIDs; paired devices are appended to it"`
	MetricsAddr string `flag:"" default:"127.0.0.1:9310" help:"Address to serve /metrics on"`
	Verbose     bool   `flag:"" short:"v" help:"Dump parsed device records and opened sessions with spew"`
}

func main() {
	kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.NamedMapper("accessiblefile", cmdutil.AccessibleFileMapper()),
		kong.Resolvers(cmdutil.ResolveHostName()),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}))

	guid, err := resolveGUID(cli.GUID)
	if err != nil {
		log.Fatalf("ptpiphostd: %v", err)
	}

	store, err := knownHostsStore(cli.KnownHosts)
	if err != nil {
		log.Fatalf("ptpiphostd: %v", err)
	}

	m := newMetrics()
	go serveMetrics(cli.MetricsAddr, m)

	desc := hostconfig.HostDescription{
		GUID:                    guid,
		Type:                    cli.Type,
		Name:                    cli.Name,
		PairingPort:             cli.Port,
		MTPProtocolVersion:      defaultMTPProtocolVersion,
		WirelessProtocolVersion: defaultWirelessProtocolVersion,
	}
	log.Printf("ptpiphostd: advertising host-id %s (%s) on port %d", hostconfig.GUIDString(guid), cli.Name, cli.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Printf("ptpiphostd: shutting down")
		cancel()
	}()

	responder := broadcast.New(desc, broadcast.OnProbeAnswered(func() { m.probesAnswered.Inc() }))
	go func() {
		bindAddr := fmt.Sprintf("%s:%d", cli.Addr, cli.Port)
		if err := responder.Start(ctx, bindAddr); err != nil {
			log.Printf("ptpiphostd: broadcast responder: %v", err)
		}
	}()

	callbacks := &pairingCallbacks{store: store, metrics: m}
	listener := pairing.New(callbacks)

	for {
		if ctx.Err() != nil {
			return
		}

		bindAddr := fmt.Sprintf("%s:%d", cli.Addr, cli.Port)
		rec, err := listener.GetWirelessDevice(ctx, bindAddr, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ptpiphostd: pairing listener: %v", err)
			continue
		}
		if rec.Zero() {
			continue
		}

		if cli.Verbose {
			spew.Dump(rec)
		}
		store.Register(rec.GUID)

		go handleDevice(ctx, rec, cli.Verbose, m)
	}
}

func handleDevice(ctx context.Context, rec hostconfig.DeviceRecord, verbose bool, m *metrics) {
	sess, err := ptpsession.Connect(ctx, rec.Addr.String(), rec.DataPort,
		ptpsession.WithGUID(rec.GUID), ptpsession.WithFriendlyName(cli.Name))
	if err != nil {
		log.Printf("ptpiphostd: handshake with %s failed: %v", rec.Addr, err)
		return
	}
	defer sess.Close()
	m.sessionsOpened.Inc()

	if verbose {
		spew.Dump(sess)
	}

	log.Printf("ptpiphostd: session open with %s, event pipe id %#08x", rec.Addr, sess.EventPipeID)
	if err := mtpdemo.Run(ctx, sess); err != nil {
		log.Printf("ptpiphostd: session with %s ended: %v", rec.Addr, err)
	}
}

func resolveGUID(s string) (ptpip.GUID, error) {
	if s == "" {
		return hostconfig.NewRandomGUID(), nil
	}
	return hostconfig.ParseGUIDString(s)
}

func knownHostsStore(path string) (hostconfig.KnownDeviceStore, error) {
	if path == "" {
		return &memoryStore{}, nil
	}
	fp, err := hostconfig.NewFilePersister(path)
	if err != nil {
		return nil, err
	}
	return fp, nil
}

// memoryStore is the zero-configuration fallback when -known-hosts is
// omitted: every device is unknown until paired once per process
// lifetime, never persisted across restarts.
type memoryStore struct {
	registered map[ptpip.GUID]bool
}

func (m *memoryStore) IsRegistered(guid ptpip.GUID) bool {
	return m.registered != nil && m.registered[guid]
}

func (m *memoryStore) Register(guid ptpip.GUID) {
	if m.registered == nil {
		m.registered = make(map[ptpip.GUID]bool)
	}
	m.registered[guid] = true
}

// pairingCallbacks implements pairing.Callbacks with an interactive PIN
// confirmation prompt (cmdutil.ConfirmPIN) standing in for a real GUI.
type pairingCallbacks struct {
	store   hostconfig.KnownDeviceStore
	metrics *metrics
}

func (c *pairingCallbacks) IsRegistered(guid ptpip.GUID) bool {
	c.metrics.pairingAttempts.Inc()
	return c.store.IsRegistered(guid)
}

func (c *pairingCallbacks) CreateRegisterPIN(info pairing.DeviceInfo) (int, error) {
	pin := 10000000 + rand.Intn(90000000)
	ok, err := cmdutil.ConfirmPIN(pin)
	if err != nil {
		c.metrics.pairingRejections.Inc()
		return -1, &pairing.PINError{Code: -1, Err: err}
	}
	if !ok {
		c.metrics.pairingRejections.Inc()
		return -1, &pairing.PINError{Code: -2, Err: fmt.Errorf("pairing declined by operator")}
	}
	return pin, nil
}
