/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/clocksync/servod/ptp/protocol"
)

var decodeDumpFlag bool

func init() {
	RootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVarP(&decodeDumpFlag, "dump", "d", false, "dump decoded messages in full")
}

// LayerSignaling wraps around PTP signaling message carrying slave timing data
type LayerSignaling struct {
	layers.BaseLayer

	// nil for other PTP messages
	Msg *ptp.Signaling
}

// LayerTypeSignaling is registered as a layer with gopacket
var LayerTypeSignaling = gopacket.RegisterLayerType(
	1588,
	gopacket.LayerTypeMetadata{
		Name:    "PTPv2Signaling",
		Decoder: gopacket.DecodeFunc(decodeSignaling),
	},
)

// LayerType returns type this layer implements
func (l *LayerSignaling) LayerType() gopacket.LayerType {
	return LayerTypeSignaling
}

// Payload is empty as it's the final layer
func (l *LayerSignaling) Payload() []byte {
	return nil
}

func decodeSignaling(data []byte, p gopacket.PacketBuilder) error {
	msg, err := ptp.DecodeSignaling(data)
	if err != nil {
		return fmt.Errorf("decoding PTPv2 signaling: %w", err)
	}
	d := &LayerSignaling{Msg: msg}
	d.BaseLayer = layers.BaseLayer{Contents: data}
	p.AddLayer(d)
	p.SetApplicationLayer(d)
	return nil
}

// packetHandle abstracts packet handles provided by pcapgo.Reader and pcapgo.NgReader
type packetHandle interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(f *os.File) (packetHandle, error) {
	handle, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err == nil {
		return handle, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewReader(f)
}

func endpoints(packet gopacket.Packet) (string, string) {
	var srcIP, dstIP net.IP
	if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip, _ := ip6Layer.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else if ip4Layer := packet.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip, _ := ip4Layer.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	}
	var srcPort, dstPort layers.UDPPort
	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		srcPort, dstPort = udp.SrcPort, udp.DstPort
	}
	return net.JoinHostPort(srcIP.String(), strconv.Itoa(int(srcPort))),
		net.JoinHostPort(dstIP.String(), strconv.Itoa(int(dstPort)))
}

func printSignaling(w io.Writer, msg *ptp.Signaling) {
	for _, tlv := range msg.TLVs {
		switch v := tlv.(type) {
		case *ptp.SlaveRxSyncTimingDataTLV:
			for _, r := range v.Records {
				t1, t2 := r.Timing()
				fmt.Fprintf(w, "  %s seq %d t1 %d t2 %d cf %s\n", v.Type(), r.SequenceID, t1, t2, r.TotalCorrectionField)
			}
		case *ptp.SlaveDelayTimingDataTLV:
			for _, r := range v.Records {
				t3, t4 := r.Timing()
				fmt.Fprintf(w, "  %s seq %d t3 %d t4 %d cf %s\n", v.Type(), r.SequenceID, t3, t4, r.TotalCorrectionField)
			}
		}
	}
}

func decodeRun(w io.Writer, input string, dump bool) error {
	// register mapping between ports and our custom layer
	layers.RegisterUDPPortLayerType(ptp.PortEvent, LayerTypeSignaling)
	layers.RegisterUDPPortLayerType(ptp.PortGeneral, LayerTypeSignaling)

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()
	handle, err := openCapture(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", input, err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			log.Warningf("failed to decode packet: %v", errLayer.Error())
			continue
		}
		l := packet.Layer(LayerTypeSignaling)
		if l == nil {
			continue
		}
		sig, _ := l.(*LayerSignaling)
		if sig.Msg == nil || len(sig.Msg.TLVs) == 0 {
			continue
		}
		src, dst := endpoints(packet)
		fmt.Fprintf(w, "%s -> %s %s from %s\n", src, dst, sig.Msg.MessageType(), sig.Msg.SourcePortIdentity)
		if dump {
			spew.Fdump(w, sig.Msg)
			continue
		}
		printSignaling(w, sig.Msg)
	}
	return nil
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Print slave timing data found in a packet capture",
	Long:  "Print slave timing data TLVs of PTPv2 signaling messages found in .pcap or .pcapng file, the way servod sees them",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := decodeRun(os.Stdout, args[0], decodeDumpFlag); err != nil {
			log.Fatal(err)
		}
	},
}
