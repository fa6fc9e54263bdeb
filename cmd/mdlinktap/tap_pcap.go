//go:build pcap
// +build pcap

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// tapLive captures Turbo-PMAC TCP traffic from a live interface and feeds
// each payload chunk to decode as it arrives.
func tapLive(iface string, port, snaplen int, decode func(fromController bool, payload []byte)) error {
	handle, err := pcap.OpenLive(iface, int32(snaplen), true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("open interface %s: %w", iface, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("tcp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}
	log.Printf("mdlinktap: capturing on %s (%s)", iface, filter)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		dispatchTCPPacket(packet, port, decode)
	}
	return nil
}

// tapOffline replays a saved PCAP capture, optionally pacing playback by the
// capture's own timestamps, feeding each payload chunk to decode in order.
func tapOffline(pcapFile string, port int, realtime bool, decode func(fromController bool, payload []byte)) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("tcp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var last time.Time
	count := 0
	for packet := range source.Packets() {
		ts := packet.Metadata().Timestamp
		if realtime {
			if !last.IsZero() {
				if gap := ts.Sub(last); gap > 0 {
					time.Sleep(gap)
				}
			}
			last = ts
		}
		dispatchTCPPacket(packet, port, decode)
		count++
	}
	log.Printf("mdlinktap: replay complete, %d packets", count)
	return nil
}

func dispatchTCPPacket(packet gopacket.Packet, port int, decode func(fromController bool, payload []byte)) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 {
		return
	}
	fromController := int(tcp.SrcPort) == port
	decode(fromController, tcp.Payload)
}
