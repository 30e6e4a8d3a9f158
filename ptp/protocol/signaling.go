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

package protocol

import (
	"fmt"
)

// Signaling packet. As it's of variable size, we cannot just binary.Read/Write it.
type Signaling struct {
	Header
	TargetPortIdentity PortIdentity
	TLVs               []TLV
}

// MarshalBinaryTo marshals bytes to Signaling
func (p *Signaling) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < headerSize+portIdentitySize {
		return 0, fmt.Errorf("not enough buffer to write Signaling")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	portIdentityMarshalBinaryTo(&p.TargetPortIdentity, b[n:])
	pos := n + portIdentitySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary converts packet to []bytes, filling in the message length
func (p *Signaling) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 1500)
	n, err := p.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	p.MessageLength = uint16(n)
	headerMarshalBinaryTo(&p.Header, buf)
	return buf[:n], nil
}

// UnmarshalBinary parses []byte and populates struct fields.
// TLVs of types we don't decode are skipped.
func (p *Signaling) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize+portIdentitySize {
		return fmt.Errorf("not enough data to decode Signaling")
	}

	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	if int(p.MessageLength) < headerSize+portIdentitySize {
		return fmt.Errorf("message length %d is too short for Signaling", p.MessageLength)
	}

	if p.SdoIDAndMsgType.MsgType() != MessageSignaling {
		return fmt.Errorf("not a signaling message: %s", p.SdoIDAndMsgType.MsgType())
	}

	unmarshalPortIdentity(&p.TargetPortIdentity, b[headerSize:])

	pos := headerSize + portIdentitySize
	var err error
	p.TLVs, err = readTLVs(p.TLVs[:0], int(p.MessageLength)-pos, b[pos:])
	return err
}

// DecodeSignaling returns the Signaling message held in b.
// It returns nil without error when b carries any other message type.
func DecodeSignaling(b []byte) (*Signaling, error) {
	msgType, err := ProbeMsgType(b)
	if err != nil {
		return nil, err
	}
	if msgType != MessageSignaling {
		return nil, nil
	}
	p := &Signaling{}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
