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
	"encoding/binary"
	"fmt"
)

// TLV abstracts away any TLV
type TLV interface {
	Type() TLVType
}

// BinaryMarshalerTo is implemented by TLVs that can be written into a preallocated buffer
type BinaryMarshalerTo interface {
	MarshalBinaryTo([]byte) (int, error)
}

const tlvHeadSize = 4

// TLVHead is a common part of all TLVs
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16 // The length of all TLVs shall be an even number of octets
}

// Type implements TLV interface
func (t TLVHead) Type() TLVType {
	return t.TLVType
}

func tlvHeadMarshalBinaryTo(t *TLVHead, b []byte) {
	binary.BigEndian.PutUint16(b, uint16(t.TLVType))
	binary.BigEndian.PutUint16(b[2:], t.LengthField)
}

func unmarshalTLVHeader(p *TLVHead, b []byte) error {
	if len(b) < tlvHeadSize {
		return fmt.Errorf("not enough data to decode TLV header")
	}
	p.TLVType = TLVType(binary.BigEndian.Uint16(b[0:]))
	p.LengthField = binary.BigEndian.Uint16(b[2:])
	return nil
}

func checkTLVLength(p *TLVHead, l, want int) error {
	if int(p.LengthField) < want {
		return fmt.Errorf("expected TLV of type %s to have length of at least %d, got %d in the header", p.TLVType, want, p.LengthField)
	}
	if tlvHeadSize+int(p.LengthField) > l {
		return fmt.Errorf("cannot decode TLV of length %d from %d bytes", tlvHeadSize+int(p.LengthField), l)
	}
	return nil
}

// recordCount validates that the TLV body after the source port identity holds whole records
func recordCount(p *TLVHead, recordSize int) (int, error) {
	body := int(p.LengthField) - portIdentitySize
	if body%recordSize != 0 {
		return 0, fmt.Errorf("%s: %d bytes of records is not a multiple of %d", p.TLVType, body, recordSize)
	}
	return body / recordSize, nil
}

func readTLVs(tlvs []TLV, maxLength int, b []byte) ([]TLV, error) {
	pos := 0
	var tlvType TLVType
	for {
		// packet can have trailing bytes, let's make sure we don't try to read past given length
		if pos+tlvHeadSize > maxLength {
			break
		}
		tlvType = TLVType(binary.BigEndian.Uint16(b[pos:]))

		switch tlvType {
		case TLVSlaveRxSyncTimingData:
			tlv := &SlaveRxSyncTimingDataTLV{}
			if err := tlv.UnmarshalBinary(b[pos:maxLength]); err != nil {
				return tlvs, err
			}
			tlvs = append(tlvs, tlv)
			pos += tlvHeadSize + int(tlv.LengthField)

		case TLVSlaveDelayTimingDataNP:
			tlv := &SlaveDelayTimingDataTLV{}
			if err := tlv.UnmarshalBinary(b[pos:maxLength]); err != nil {
				return tlvs, err
			}
			tlvs = append(tlvs, tlv)
			pos += tlvHeadSize + int(tlv.LengthField)

		default:
			// not interested, but it still has to fit
			head := TLVHead{}
			if err := unmarshalTLVHeader(&head, b[pos:]); err != nil {
				return tlvs, err
			}
			if err := checkTLVLength(&head, maxLength-pos, 0); err != nil {
				return tlvs, err
			}
			pos += tlvHeadSize + int(head.LengthField)
		}
	}
	return tlvs, nil
}

func writeTLVs(tlvs []TLV, b []byte) (int, error) {
	pos := 0
	for _, tlv := range tlvs {
		ttlv, ok := tlv.(BinaryMarshalerTo)
		if !ok {
			return 0, fmt.Errorf("unsupported TLV %s", tlv.Type())
		}
		nn, err := ttlv.MarshalBinaryTo(b[pos:])
		if err != nil {
			return 0, err
		}
		pos += nn
	}
	return pos, nil
}

const slaveRxSyncTimingRecordSize = 34

// SlaveRxSyncTimingRecord is a single sync reception record, IEEE 1588-2019 16.11.4.2
type SlaveRxSyncTimingRecord struct {
	SequenceID                 uint16
	SyncOriginTimestamp        Timestamp
	TotalCorrectionField       Correction
	ScaledCumulativeRateOffset int32
	SyncEventIngressTimestamp  Timestamp
}

// Timing returns master send time t1, corrected for path residence, and local receive time t2 in nanoseconds
func (r *SlaveRxSyncTimingRecord) Timing() (t1, t2 int64) {
	t1 = r.SyncOriginTimestamp.UnixNano() + r.TotalCorrectionField.WholeNanoseconds()
	t2 = r.SyncEventIngressTimestamp.UnixNano()
	return t1, t2
}

func (r *SlaveRxSyncTimingRecord) unmarshal(b []byte) {
	r.SequenceID = binary.BigEndian.Uint16(b)
	unmarshalTimestamp(&r.SyncOriginTimestamp, b[2:])
	r.TotalCorrectionField = Correction(binary.BigEndian.Uint64(b[12:]))
	r.ScaledCumulativeRateOffset = int32(binary.BigEndian.Uint32(b[20:]))
	unmarshalTimestamp(&r.SyncEventIngressTimestamp, b[24:])
}

func (r *SlaveRxSyncTimingRecord) marshalTo(b []byte) {
	binary.BigEndian.PutUint16(b, r.SequenceID)
	timestampMarshalBinaryTo(&r.SyncOriginTimestamp, b[2:])
	binary.BigEndian.PutUint64(b[12:], uint64(r.TotalCorrectionField))
	binary.BigEndian.PutUint32(b[20:], uint32(r.ScaledCumulativeRateOffset))
	timestampMarshalBinaryTo(&r.SyncEventIngressTimestamp, b[24:])
}

// SlaveRxSyncTimingDataTLV reports timing of sync messages received by a slave port
type SlaveRxSyncTimingDataTLV struct {
	TLVHead
	SourcePortIdentity PortIdentity
	Records            []SlaveRxSyncTimingRecord
}

// MarshalBinaryTo marshals bytes to SlaveRxSyncTimingDataTLV
func (t *SlaveRxSyncTimingDataTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + portIdentitySize + len(t.Records)*slaveRxSyncTimingRecordSize
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write SlaveRxSyncTimingDataTLV")
	}
	t.TLVType = TLVSlaveRxSyncTimingData
	t.LengthField = uint16(size - tlvHeadSize)
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	portIdentityMarshalBinaryTo(&t.SourcePortIdentity, b[tlvHeadSize:])
	pos := tlvHeadSize + portIdentitySize
	for i := range t.Records {
		t.Records[i].marshalTo(b[pos:])
		pos += slaveRxSyncTimingRecordSize
	}
	return pos, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *SlaveRxSyncTimingDataTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), portIdentitySize+slaveRxSyncTimingRecordSize); err != nil {
		return err
	}
	n, err := recordCount(&t.TLVHead, slaveRxSyncTimingRecordSize)
	if err != nil {
		return err
	}
	unmarshalPortIdentity(&t.SourcePortIdentity, b[tlvHeadSize:])
	t.Records = make([]SlaveRxSyncTimingRecord, n)
	pos := tlvHeadSize + portIdentitySize
	for i := range t.Records {
		t.Records[i].unmarshal(b[pos:])
		pos += slaveRxSyncTimingRecordSize
	}
	return nil
}

const slaveDelayTimingRecordSize = 30

// SlaveDelayTimingRecord is a single delay request/response exchange record
type SlaveDelayTimingRecord struct {
	SequenceID             uint16
	DelayOriginTimestamp   Timestamp
	TotalCorrectionField   Correction
	DelayResponseTimestamp Timestamp
}

// Timing returns local send time t3 and master receive time t4, corrected for path residence, in nanoseconds
func (r *SlaveDelayTimingRecord) Timing() (t3, t4 int64) {
	t3 = r.DelayOriginTimestamp.UnixNano()
	t4 = r.DelayResponseTimestamp.UnixNano() - r.TotalCorrectionField.WholeNanoseconds()
	return t3, t4
}

func (r *SlaveDelayTimingRecord) unmarshal(b []byte) {
	r.SequenceID = binary.BigEndian.Uint16(b)
	unmarshalTimestamp(&r.DelayOriginTimestamp, b[2:])
	r.TotalCorrectionField = Correction(binary.BigEndian.Uint64(b[12:]))
	unmarshalTimestamp(&r.DelayResponseTimestamp, b[20:])
}

func (r *SlaveDelayTimingRecord) marshalTo(b []byte) {
	binary.BigEndian.PutUint16(b, r.SequenceID)
	timestampMarshalBinaryTo(&r.DelayOriginTimestamp, b[2:])
	binary.BigEndian.PutUint64(b[12:], uint64(r.TotalCorrectionField))
	timestampMarshalBinaryTo(&r.DelayResponseTimestamp, b[20:])
}

// SlaveDelayTimingDataTLV reports timing of delay request exchanges done by a slave port
type SlaveDelayTimingDataTLV struct {
	TLVHead
	SourcePortIdentity PortIdentity
	Records            []SlaveDelayTimingRecord
}

// MarshalBinaryTo marshals bytes to SlaveDelayTimingDataTLV
func (t *SlaveDelayTimingDataTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + portIdentitySize + len(t.Records)*slaveDelayTimingRecordSize
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write SlaveDelayTimingDataTLV")
	}
	t.TLVType = TLVSlaveDelayTimingDataNP
	t.LengthField = uint16(size - tlvHeadSize)
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	portIdentityMarshalBinaryTo(&t.SourcePortIdentity, b[tlvHeadSize:])
	pos := tlvHeadSize + portIdentitySize
	for i := range t.Records {
		t.Records[i].marshalTo(b[pos:])
		pos += slaveDelayTimingRecordSize
	}
	return pos, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *SlaveDelayTimingDataTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), portIdentitySize+slaveDelayTimingRecordSize); err != nil {
		return err
	}
	n, err := recordCount(&t.TLVHead, slaveDelayTimingRecordSize)
	if err != nil {
		return err
	}
	unmarshalPortIdentity(&t.SourcePortIdentity, b[tlvHeadSize:])
	t.Records = make([]SlaveDelayTimingRecord, n)
	pos := tlvHeadSize + portIdentitySize
	for i := range t.Records {
		t.Records[i].unmarshal(b[pos:])
		pos += slaveDelayTimingRecordSize
	}
	return nil
}
