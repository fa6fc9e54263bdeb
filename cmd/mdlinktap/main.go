// Command mdlinktap is an offline/online diagnostic tap for the Turbo-PMAC
// wire protocol: it watches TCP traffic on the controller's port, decodes
// each frame header, and prints a running log of request/response traffic
// for field debugging. It can read a live interface or replay a saved PCAP
// capture at its original pace.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/md2ctl/md2d/internal/pmaclink"
)

var (
	iface    = flag.String("iface", "", "network interface to capture live (requires -tags=pcap)")
	pcapFile = flag.String("pcap", "", "PCAP file to replay instead of a live interface")
	port     = flag.Int("port", 1025, "TCP port the Turbo-PMAC Ethernet protocol listens on")
	realtime = flag.Bool("realtime", false, "pace PCAP replay by the capture's own packet timestamps")
	snaplen  = flag.Int("snaplen", 65536, "live capture snapshot length in bytes")
)

func main() {
	flag.Parse()

	if *iface == "" && *pcapFile == "" {
		fmt.Fprintln(os.Stderr, "mdlinktap: one of -iface or -pcap is required")
		flag.Usage()
		os.Exit(2)
	}
	if *iface != "" && *pcapFile != "" {
		fmt.Fprintln(os.Stderr, "mdlinktap: -iface and -pcap are mutually exclusive")
		os.Exit(2)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	dec := newStreamDecoder()
	var err error
	if *pcapFile != "" {
		err = tapOffline(*pcapFile, *port, *realtime, dec.feed)
	} else {
		err = tapLive(*iface, *port, *snaplen, dec.feed)
	}
	if err != nil {
		log.Fatalf("mdlinktap: %v", err)
	}
}

// segment is one direction-tagged chunk of TCP payload handed to the
// decoder by either capture backend.
type segment struct {
	fromController bool
	payload        []byte
}

func printSegment(seg segment, frame pmaclink.Header, payload []byte) {
	dir := "-> controller"
	if seg.fromController {
		dir = "<- controller"
	}
	desc := requestTypeName(frame.RequestType)
	log.Printf("%s %-12s code=%d arg1=%d arg2=%d len=%d %s", dir, desc, frame.RequestCode, frame.Arg1, frame.Arg2, frame.Length, previewPayload(payload))
}

func requestTypeName(rt pmaclink.RequestType) string {
	switch rt {
	case pmaclink.ReqSendLine:
		return "SENDLINE"
	case pmaclink.ReqSendLineNR:
		return "SENDLINE_NR"
	case pmaclink.ReqGetMem:
		return "GETMEM"
	case pmaclink.ReqSetMem:
		return "SETMEM"
	case pmaclink.ReqSetBit:
		return "SETBIT"
	case pmaclink.ReqSetBits:
		return "SETBITS"
	case pmaclink.ReqSendCtrlChar:
		return "SENDCTRLCHAR"
	case pmaclink.ReqReadReady:
		return "READREADY"
	case pmaclink.ReqGetBuffer:
		return "GETBUFFER"
	case pmaclink.ReqFlush:
		return "FLUSH"
	default:
		return fmt.Sprintf("0x%02x", byte(rt))
	}
}

// previewPayload renders a short, printable preview of a frame payload: as
// text when it looks like ASCII command/reply traffic, otherwise a hex dump
// capped at a handful of bytes.
func previewPayload(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if isPrintableASCII(b) {
		if len(b) > 64 {
			return fmt.Sprintf("%q...", b[:64])
		}
		return fmt.Sprintf("%q", b)
	}
	n := len(b)
	if n > 16 {
		n = 16
	}
	return fmt.Sprintf("% x", b[:n])
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x09 || (c > 0x0d && c < 0x20) || c > 0x7e {
			return false
		}
	}
	return true
}
