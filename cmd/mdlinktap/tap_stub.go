//go:build !pcap
// +build !pcap

package main

import "fmt"

// tapLive is a stub used when built without -tags=pcap (no libpcap
// dependency available).
func tapLive(iface string, port, snaplen int, decode func(fromController bool, payload []byte)) error {
	return fmt.Errorf("live capture not enabled: rebuild with -tags=pcap")
}

// tapOffline is a stub used when built without -tags=pcap.
func tapOffline(pcapFile string, port int, realtime bool, decode func(fromController bool, payload []byte)) error {
	return fmt.Errorf("PCAP replay not enabled: rebuild with -tags=pcap")
}
