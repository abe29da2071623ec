// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/broadcast"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/cmdutil"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/hostconfig"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/pairing"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpsession"
)

const (
	programName = "ptpiphostctl"
	programDesc = "Run one discovery and pairing round, print the resulting device record"
)

var cli struct {
	Name      string        `flag:"" type:"hostname" help:"Friendly name advertised to devices; prompted for if omitted on an interactive terminal"`
	Type      string        `flag:"" default:"win" help:"Host type advertised in the SRCH reply"`
	Addr      string        `flag:"" default:"" help:"Local IP to bind to; empty means all interfaces"`
	Port      int           `flag:"" default:"9309" help:"UDP broadcast and TCP pairing port"`
	Timeout   time.Duration `flag:"" default:"2m" help:"Give up waiting for a device after this long; 0 waits indefinitely"`
	Connect   bool          `flag:"" help:"Also drive the PTP/IP handshake against the paired device and report the event pipe id"`
	Output    string        `flag:"" default:"table" enum:"table,json" help:"Output format; one of [table, json]"`
	AlwaysPIN bool          `flag:"" name:"always-accept" help:"Accept every pairing request non-interactively with a fixed PIN, for scripted testing"`
	Verbose   bool          `flag:"" short:"v" help:"Dump the device record and session with spew"`
}

type result struct {
	GUID       string `json:"guid"`
	Addr       string `json:"addr"`
	DataPort   int    `json:"data_port"`
	Registered bool   `json:"registered"`
	EventPipe  uint32 `json:"event_pipe_id,omitempty"`
}

func main() {
	kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Resolvers(cmdutil.ResolveHostName()),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}))

	guid := hostconfig.NewRandomGUID()
	desc := hostconfig.HostDescription{
		GUID:                    guid,
		Type:                    cli.Type,
		Name:                    cli.Name,
		PairingPort:             cli.Port,
		MTPProtocolVersion:      100,
		WirelessProtocolVersion: 100,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cli.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	responder := broadcast.New(desc)
	bindAddr := fmt.Sprintf("%s:%d", cli.Addr, cli.Port)
	go func() {
		if err := responder.Start(ctx, bindAddr); err != nil {
			log.Printf("ptpiphostctl: broadcast responder: %v", err)
		}
	}()
	defer responder.Stop()

	listener := pairing.New(&oneShotCallbacks{alwaysAccept: cli.AlwaysPIN})
	rec, err := listener.GetWirelessDevice(ctx, bindAddr, cli.Timeout)
	if err != nil {
		log.Fatalf("ptpiphostctl: pairing failed: %v", err)
	}
	if rec.Zero() {
		log.Fatalf("ptpiphostctl: no device paired within %s", cli.Timeout)
	}

	if cli.Verbose {
		spew.Dump(rec)
	}

	res := result{
		GUID:       hostconfig.GUIDString(rec.GUID),
		Addr:       rec.Addr.String(),
		DataPort:   rec.DataPort,
		Registered: rec.Registered,
	}

	if cli.Connect {
		sess, err := ptpsession.Connect(ctx, rec.Addr.String(), rec.DataPort, ptpsession.WithGUID(rec.GUID))
		if err != nil {
			log.Fatalf("ptpiphostctl: handshake failed: %v", err)
		}
		defer sess.Close()
		res.EventPipe = sess.EventPipeID
		if cli.Verbose {
			spew.Dump(sess)
		}
	}

	switch cli.Output {
	case "json":
		outputJSON(res)
	default:
		outputTable(res)
	}
}

func outputJSON(res result) {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("ptpiphostctl: marshal json: %v", err)
	}
	os.Stdout.Write(b)
	fmt.Println()
}

func outputTable(res result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "GUID\tADDR\tDATA PORT\tREGISTERED\tEVENT PIPE\n")
	eventPipe := "-"
	if res.EventPipe != 0 {
		eventPipe = fmt.Sprintf("%#08x", res.EventPipe)
	}
	fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n", res.GUID, res.Addr, res.DataPort, res.Registered, eventPipe)
	w.Flush()
}

// oneShotCallbacks is a minimal pairing.Callbacks for a one-shot CLI run:
// it treats every device as unknown (so CONNECT always proceeds to
// SHOWPIN) and either prompts interactively for PIN confirmation or, with
// -always-accept, hands back a fixed PIN for scripted use against a test
// device.
type oneShotCallbacks struct {
	alwaysAccept bool
}

func (c *oneShotCallbacks) IsRegistered(guid ptpip.GUID) bool { return false }

func (c *oneShotCallbacks) CreateRegisterPIN(info pairing.DeviceInfo) (int, error) {
	if c.alwaysAccept {
		return 12345678, nil
	}
	pin := 10000000 + rand.Intn(90000000)
	ok, err := cmdutil.ConfirmPIN(pin)
	if err != nil {
		return -1, &pairing.PINError{Code: -1, Err: err}
	}
	if !ok {
		return -1, &pairing.PINError{Code: -2, Err: fmt.Errorf("pairing declined by operator")}
	}
	return pin, nil
}
