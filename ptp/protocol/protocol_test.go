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
	"testing"

	"github.com/stretchr/testify/require"
)

// rawSignaling builds a signaling packet by hand so decoding is not checked against our own encoder
func rawSignaling(tlvs ...[]byte) []byte {
	b := make([]byte, headerSize+portIdentitySize)
	b[0] = byte(MessageSignaling)
	b[1] = Version
	b[4] = 24 // domain
	binary.BigEndian.PutUint64(b[20:], 0x001122fffe334455)
	binary.BigEndian.PutUint16(b[28:], 1)
	binary.BigEndian.PutUint16(b[30:], 42)
	b[32] = 5
	b[33] = 0x7f
	binary.BigEndian.PutUint64(b[34:], 0xffffffffffffffff)
	binary.BigEndian.PutUint16(b[42:], 0xffff)
	for _, t := range tlvs {
		b = append(b, t...)
	}
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)))
	return b
}

func rawTimestamp(sec uint64, nsec uint32) []byte {
	b := make([]byte, 10)
	ts := NewPTPSeconds(sec)
	copy(b, ts[:])
	binary.BigEndian.PutUint32(b[6:], nsec)
	return b
}

func rawTLV(typ TLVType, records ...[]byte) []byte {
	b := make([]byte, 14)
	binary.BigEndian.PutUint16(b, uint16(typ))
	binary.BigEndian.PutUint64(b[4:], 0x001122fffe334455)
	binary.BigEndian.PutUint16(b[12:], 1)
	for _, r := range records {
		b = append(b, r...)
	}
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)-tlvHeadSize))
	return b
}

func rawSyncRecord(seq uint16, originSec uint64, originNsec uint32, corr int64, ingressSec uint64, ingressNsec uint32) []byte {
	b := make([]byte, 2, slaveRxSyncTimingRecordSize)
	binary.BigEndian.PutUint16(b, seq)
	b = append(b, rawTimestamp(originSec, originNsec)...)
	b = binary.BigEndian.AppendUint64(b, uint64(corr))
	b = binary.BigEndian.AppendUint32(b, 0)
	b = append(b, rawTimestamp(ingressSec, ingressNsec)...)
	return b
}

func rawDelayRecord(seq uint16, originSec uint64, originNsec uint32, corr int64, respSec uint64, respNsec uint32) []byte {
	b := make([]byte, 2, slaveDelayTimingRecordSize)
	binary.BigEndian.PutUint16(b, seq)
	b = append(b, rawTimestamp(originSec, originNsec)...)
	b = binary.BigEndian.AppendUint64(b, uint64(corr))
	b = append(b, rawTimestamp(respSec, respNsec)...)
	return b
}

func TestDecodeSignalingSyncTiming(t *testing.T) {
	raw := rawSignaling(rawTLV(TLVSlaveRxSyncTimingData,
		rawSyncRecord(7, 1700000000, 100, 5<<16|0x8000, 1700000000, 900),
	))
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	require.NotNil(t, p)

	require.Equal(t, MessageSignaling, p.MessageType())
	require.Equal(t, uint8(24), p.DomainNumber)
	require.Equal(t, uint16(42), p.SequenceID)
	require.Equal(t, LogInterval(0x7f), p.LogMessageInterval)
	require.Equal(t, "001122.fffe.334455-1", p.SourcePortIdentity.String())
	require.Equal(t, PortIdentity{ClockIdentity: 0xffffffffffffffff, PortNumber: 0xffff}, p.TargetPortIdentity)
	require.Len(t, p.TLVs, 1)

	tlv, ok := p.TLVs[0].(*SlaveRxSyncTimingDataTLV)
	require.True(t, ok)
	require.Equal(t, TLVSlaveRxSyncTimingData, tlv.Type())
	require.Len(t, tlv.Records, 1)
	require.Equal(t, uint16(7), tlv.Records[0].SequenceID)

	t1, t2 := tlv.Records[0].Timing()
	require.Equal(t, int64(1700000000*1e9+105), t1)
	require.Equal(t, int64(1700000000*1e9+900), t2)
}

func TestSyncTimingNegativeCorrection(t *testing.T) {
	// -1.5ns shifted right by 16 rounds down to -2ns
	r := SlaveRxSyncTimingRecord{
		SyncOriginTimestamp:       NewTimestamp(10_000),
		TotalCorrectionField:      Correction(-(1<<16 | 0x8000)),
		SyncEventIngressTimestamp: NewTimestamp(20_000),
	}
	t1, t2 := r.Timing()
	require.Equal(t, int64(9_998), t1)
	require.Equal(t, int64(20_000), t2)
}

func TestDecodeSignalingDelayTiming(t *testing.T) {
	raw := rawSignaling(rawTLV(TLVSlaveDelayTimingDataNP,
		rawDelayRecord(3, 1700000001, 500, 10<<16, 1700000001, 2500),
	))
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	require.Len(t, p.TLVs, 1)

	tlv, ok := p.TLVs[0].(*SlaveDelayTimingDataTLV)
	require.True(t, ok)
	require.Len(t, tlv.Records, 1)
	t3, t4 := tlv.Records[0].Timing()
	require.Equal(t, int64(1700000001*1e9+500), t3)
	require.Equal(t, int64(1700000001*1e9+2490), t4)
}

func TestDecodeSignalingMultipleRecordsAndTLVs(t *testing.T) {
	raw := rawSignaling(
		rawTLV(TLVSlaveRxSyncTimingData,
			rawSyncRecord(1, 1, 0, 0, 1, 10),
			rawSyncRecord(2, 2, 0, 0, 2, 20),
		),
		rawTLV(TLVSlaveDelayTimingDataNP,
			rawDelayRecord(1, 3, 0, 0, 3, 30),
		),
	)
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	require.Len(t, p.TLVs, 2)
	sync := p.TLVs[0].(*SlaveRxSyncTimingDataTLV)
	require.Len(t, sync.Records, 2)
	_, t2 := sync.Records[1].Timing()
	require.Equal(t, int64(2*1e9+20), t2)
	delay := p.TLVs[1].(*SlaveDelayTimingDataTLV)
	require.Len(t, delay.Records, 1)
}

func TestDecodeSignalingSkipsUnknownTLV(t *testing.T) {
	unknown := []byte{0x00, 0x08, 0x00, 0x08, 1, 2, 3, 4, 5, 6, 7, 8}
	raw := rawSignaling(
		unknown,
		rawTLV(TLVSlaveRxSyncTimingData, rawSyncRecord(1, 1, 0, 0, 1, 10)),
	)
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	require.Len(t, p.TLVs, 1)
	require.Equal(t, TLVSlaveRxSyncTimingData, p.TLVs[0].Type())

	p, err = DecodeSignaling(rawSignaling(unknown))
	require.NoError(t, err)
	require.Empty(t, p.TLVs)
}

func TestDecodeSignalingIgnoresTrailingBytes(t *testing.T) {
	raw := rawSignaling(rawTLV(TLVSlaveRxSyncTimingData, rawSyncRecord(1, 1, 0, 0, 1, 10)))
	raw = append(raw, 0xde, 0xad)
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	require.Len(t, p.TLVs, 1)
}

func TestDecodeOtherMessage(t *testing.T) {
	raw := rawSignaling()
	raw[0] = byte(NewSdoIDAndMsgType(MessageSync, 0))
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = DecodeSignaling(nil)
	require.Error(t, err)
}

func TestDecodeSignalingTruncated(t *testing.T) {
	raw := rawSignaling(rawTLV(TLVSlaveRxSyncTimingData, rawSyncRecord(1, 1, 0, 0, 1, 10)))

	// shorter than header + target port identity
	_, err := DecodeSignaling(raw[:40])
	require.Error(t, err)

	// message length claims more than we have
	_, err = DecodeSignaling(raw[:len(raw)-1])
	require.Error(t, err)

	// TLV length runs past the message
	short := make([]byte, len(raw))
	copy(short, raw)
	binary.BigEndian.PutUint16(short[2:], uint16(len(raw)-4))
	_, err = DecodeSignaling(short)
	require.Error(t, err)

	// TLV body is not a whole number of records
	bad := rawSignaling(rawTLV(TLVSlaveRxSyncTimingData, rawSyncRecord(1, 1, 0, 0, 1, 10), []byte{0, 0}))
	_, err = DecodeSignaling(bad)
	require.Error(t, err)

	// TLV without any records
	empty := rawSignaling(rawTLV(TLVSlaveDelayTimingDataNP))
	_, err = DecodeSignaling(empty)
	require.Error(t, err)
}

func TestSignalingMarshalMatchesWire(t *testing.T) {
	raw := rawSignaling(
		rawTLV(TLVSlaveRxSyncTimingData, rawSyncRecord(9, 100, 1, -3<<16, 100, 50)),
		rawTLV(TLVSlaveDelayTimingDataNP, rawDelayRecord(9, 101, 2, 4<<16, 101, 70)),
	)
	p, err := DecodeSignaling(raw)
	require.NoError(t, err)
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, raw, b)
}

func TestTimestamp(t *testing.T) {
	ts := NewTimestamp(1700000000_123456789)
	require.Equal(t, uint64(1700000000), ts.Seconds.Seconds())
	require.Equal(t, uint32(123456789), ts.Nanoseconds)
	require.Equal(t, int64(1700000000_123456789), ts.UnixNano())
	require.Equal(t, "Timestamp(1700000000.123456789)", ts.String())
	require.True(t, Timestamp{}.Empty())
	require.Equal(t, "Timestamp(empty)", Timestamp{}.String())
}

func TestCorrection(t *testing.T) {
	c := NewCorrection(2.5)
	require.Equal(t, Correction(0x28000), c)
	require.InDelta(t, 2.5, c.Nanoseconds(), 0.0001)
	require.Equal(t, int64(2), c.WholeNanoseconds())
	require.Equal(t, "Correction(2.500ns)", c.String())
	require.True(t, Correction(0x7fffffffffffffff).TooBig())
}

func TestTypeStrings(t *testing.T) {
	require.Equal(t, "SIGNALING", MessageSignaling.String())
	require.Equal(t, "SLAVE_RX_SYNC_TIMING_DATA", TLVSlaveRxSyncTimingData.String())
	require.Equal(t, "SLAVE_DELAY_TIMING_DATA_NP", TLVSlaveDelayTimingDataNP.String())
	require.Equal(t, "TLVType(0x1234)", TLVType(0x1234).String())
	require.InDelta(t, 0.25, LogInterval(-2).Seconds(), 1e-12)
}
