// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"golang.org/x/sync/errgroup"
)

// walker drives a GetNext/GetBulk walk. All its methods run on the
// transport loop goroutine.
type walker struct {
	e       *PowerSNMP.Engine
	req     PowerSNMP.SendRequest
	root    []int
	last    []int
	bulk    bool
	maxRep  int32
	rawToo  bool
	results int
	done    chan error
}

func (w *walker) next() {
	pdu := &PowerSNMP.PDU{Type: PowerSNMP.SNMPv2_REQUEST_GETNEXT, VarBinds: PowerSNMP.NullBindings(w.last)}
	if w.bulk {
		pdu.Type = PowerSNMP.SNMPv2_REQUEST_GETBULK
		pdu.ErrorIndex = w.maxRep
	}
	req := w.req
	req.PDU = pdu
	req.Callback = w.onResponse
	if _, err := w.e.SendPdu(req); err != nil {
		w.done <- err
	}
}

func (w *walker) onResponse(requestID int32, pdu *PowerSNMP.PDU, err error) {
	if err != nil {
		w.done <- err
		return
	}
	for _, vb := range pdu.VarBinds {
		if vb.Value.IsException() || !PowerSNMP.InSubTreeCheck(w.root, vb.OID) || PowerSNMP.OIDCompare(vb.OID, w.last) <= 0 {
			w.done <- nil
			return
		}
		w.results++
		if w.rawToo {
			fmt.Println(PowerSNMP.Convert_OID_IntArrayToString_RAW(vb.OID), "=", PowerSNMP.Convert_Variable_To_String(vb.Value.Data), ":", PowerSNMP.Convert_ClassTag_to_String(vb.Value.Data), vb.Value.Data.Value)
		} else {
			fmt.Println(PowerSNMP.Convert_OID_IntArrayToString_RAW(vb.OID), "=", PowerSNMP.Convert_Variable_To_String(vb.Value.Data), ":", PowerSNMP.Convert_ClassTag_to_String(vb.Value.Data))
		}
		w.last = vb.OID
	}
	if len(pdu.VarBinds) == 0 {
		w.done <- errors.New("empty response")
		return
	}
	w.next()
}

func main() {
	Host := flag.String("h", "", "Switch or routers IP")
	Port := flag.Int("p", 161, "Agent UDP port")
	SNMPVersion := flag.String("v", "3", "SNMP version: 1, 2c or 3")
	SNMPuser := flag.String("u", "", "SNMP v3 USER")
	SNMPcommunity := flag.String("c", "public", "SNMP v1/v2c community name")
	SNMPv3Context := flag.String("context", "", "SNMP v3 context")
	SNMPauthProtocol := flag.String("a", "", "SNMP auth protocol")
	SNMPauthPassword := flag.String("A", "", "SNMP auth password")
	SNMPprivProtocol := flag.String("x", "", "SNMP priv protocol")
	SNMPprivPassword := flag.String("X", "", "SNMP priv password")
	Bulk := flag.Bool("bulk", false, "Use GetBulk")
	MaxRep := flag.Int("maxrep", 50, "GetBulk max-repetitions")
	Retries := flag.Int("retries", 5, "Retransmissions per request")
	TimeoutMs := flag.Int("t", 800, "Timeout before the first retransmission, ms")
	LogLevel := flag.String("log", "warn", "Log level")
	StrOid := flag.String("o", "1.3.6", "SNMP OID")
	RawToo := flag.Bool("r", false, "RAW data")
	flag.Parse()

	if *Host == "" {
		fmt.Println("host is required (-h)")
		os.Exit(1)
	}
	iArOID, err := PowerSNMP.ParseOID(*StrOid)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	target, err := net.ResolveUDPAddr("udp", net.JoinHostPort(*Host, strconv.Itoa(*Port)))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	logger := PowerSNMP.NewLogger(*LogLevel)
	e, err := PowerSNMP.NewEngine(PowerSNMP.EngineConfig{Logger: logger})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	req := PowerSNMP.SendRequest{
		Address:     target,
		ContextName: *SNMPv3Context,
		Retries:     *Retries,
		Timeout:     time.Duration(*TimeoutMs) * time.Millisecond,
	}
	switch *SNMPVersion {
	case "1", "2", "2c":
		req.MPModel = PowerSNMP.MP_MODEL_SNMPv2c
		req.SecurityModel = PowerSNMP.SEC_MODEL_SNMPv2c
		if *SNMPVersion == "1" {
			req.MPModel = PowerSNMP.MP_MODEL_SNMPv1
			req.SecurityModel = PowerSNMP.SEC_MODEL_SNMPv1
			*Bulk = false
		}
		req.SecurityName = *SNMPcommunity
		if err := e.Community().AddCommunity(*SNMPcommunity, *SNMPcommunity, nil, ""); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	case "3":
		user, err := PowerSNMP.NewUsmUser(*SNMPuser, *SNMPauthProtocol, *SNMPauthPassword, *SNMPprivProtocol, *SNMPprivPassword)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if err := e.USM().AddUser(user); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		req.MPModel = PowerSNMP.MP_MODEL_SNMPv3
		req.SecurityModel = PowerSNMP.SEC_MODEL_USM
		req.SecurityName = user.Name
		req.SecurityLevel = user.SecurityLevel()
	default:
		fmt.Println("unsupported SNMP version", *SNMPVersion)
		os.Exit(1)
	}

	t, err := PowerSNMP.OpenClientMode(logger)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := e.RegisterTransportDispatcher(t); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	t.SetTimerInterval(100 * time.Millisecond)

	w := &walker{e: e, req: req, root: iArOID, last: iArOID, bulk: *Bulk, maxRep: int32(*MaxRep), rawToo: *RawToo, done: make(chan error, 1)}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		if err := t.Do(gctx, w.next); err != nil {
			return err
		}
		select {
		case err := <-w.done:
			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println(err)
		os.Exit(1)
	}
	if w.results == 0 {
		fmt.Println("No Such Object available on this agent at this OID")
	}
}
