// Package server hosts the ingest surfaces of the engine: the binary UDP
// frame protocol, the UDP listener, the MQTT sensor feeds, and the
// Prometheus metrics they report into.
package server

import (
	"encoding/binary"
	"fmt"
	"math"

	"positioning-go/estimate"
)

// Wire format: every datagram carries one or more frames of
//
//	magic(2) deviceID(4) type(1) payloadLen(2) payload(payloadLen)
//
// little-endian throughout.
const (
	FrameMagic  = 0x5850 // "PX"
	FrameHdrLen = 9

	TypeRssiFrame   = 0x60
	TypeImuFrame    = 0x90
	TypeVisualFrame = 0x91

	MaxPayloadLen = 1024
)

// IMU payload flag bits.
const imuFlagMag = 0x01

// FrameHeader is the decoded fixed prefix of one frame.
type FrameHeader struct {
	DeviceID   uint32
	Type       uint8
	PayloadLen int
}

// RssiSample is one anchor observation inside an RSSI frame.
type RssiSample struct {
	AnchorID int
	RSSIDb   int
}

// ImuData is one inertial sample: accelerometer and gyroscope, plus an
// optional magnetometer reading.
type ImuData struct {
	Accel estimate.Vector3
	Gyro  estimate.Vector3
	Mag   *estimate.Vector3
}

// VisualData is one visual-odometry motion delta.
type VisualData struct {
	VelocityMps      float64
	AngularRateRadps float64
	SpanS            float64
}

// ParseHeader decodes the frame header at the start of data.
func ParseHeader(data []byte) (*FrameHeader, error) {
	if len(data) < FrameHdrLen {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != FrameMagic {
		return nil, fmt.Errorf("invalid magic: 0x%x", magic)
	}
	payloadLen := int(binary.LittleEndian.Uint16(data[7:9]))
	if payloadLen > MaxPayloadLen {
		return nil, fmt.Errorf("payload length %d exceeds limit", payloadLen)
	}
	return &FrameHeader{
		DeviceID:   binary.LittleEndian.Uint32(data[2:6]),
		Type:       data[6],
		PayloadLen: payloadLen,
	}, nil
}

// EncodeFrame assembles a complete frame around payload.
func EncodeFrame(deviceID uint32, frameType uint8, payload []byte) []byte {
	out := make([]byte, FrameHdrLen+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], FrameMagic)
	binary.LittleEndian.PutUint32(out[2:6], deviceID)
	out[6] = frameType
	binary.LittleEndian.PutUint16(out[7:9], uint16(len(payload)))
	copy(out[FrameHdrLen:], payload)
	return out
}

// ParseRssiFrame decodes count(1) + count * (anchorID(2) rssi(1)).
func ParseRssiFrame(body []byte) ([]RssiSample, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("rssi frame too short")
	}
	num := int(body[0])
	base := 1
	samples := make([]RssiSample, 0, num)
	for i := 0; i < num; i++ {
		if base+3 > len(body) {
			return nil, fmt.Errorf("rssi sample truncated")
		}
		addr := binary.LittleEndian.Uint16(body[base : base+2])
		rssi := int8(body[base+2])
		base += 3
		samples = append(samples, RssiSample{AnchorID: int(addr), RSSIDb: int(rssi)})
	}
	return samples, nil
}

// EncodeRssiFrame builds an RSSI frame payload.
func EncodeRssiFrame(samples []RssiSample) []byte {
	out := make([]byte, 1+3*len(samples))
	out[0] = uint8(len(samples))
	base := 1
	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[base:base+2], uint16(s.AnchorID))
		out[base+2] = uint8(int8(s.RSSIDb))
		base += 3
	}
	return out
}

// ParseImuFrame decodes flags(1) + accel xyz + gyro xyz as float32, plus
// mag xyz when the flag bit is set.
func ParseImuFrame(body []byte) (*ImuData, error) {
	if len(body) < 25 {
		return nil, fmt.Errorf("imu frame too short")
	}
	flags := body[0]
	imu := &ImuData{
		Accel: readVec3(body[1:13]),
		Gyro:  readVec3(body[13:25]),
	}
	if flags&imuFlagMag != 0 {
		if len(body) < 37 {
			return nil, fmt.Errorf("imu frame missing magnetometer block")
		}
		mag := readVec3(body[25:37])
		imu.Mag = &mag
	}
	return imu, nil
}

// EncodeImuFrame builds an IMU frame payload.
func EncodeImuFrame(imu ImuData) []byte {
	size := 25
	flags := uint8(0)
	if imu.Mag != nil {
		size = 37
		flags = imuFlagMag
	}
	out := make([]byte, size)
	out[0] = flags
	writeVec3(out[1:13], imu.Accel)
	writeVec3(out[13:25], imu.Gyro)
	if imu.Mag != nil {
		writeVec3(out[25:37], *imu.Mag)
	}
	return out
}

// ParseVisualFrame decodes velocity, angular rate, and span as float32.
func ParseVisualFrame(body []byte) (*VisualData, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("visual frame too short")
	}
	return &VisualData{
		VelocityMps:      float64(readF32(body[0:4])),
		AngularRateRadps: float64(readF32(body[4:8])),
		SpanS:            float64(readF32(body[8:12])),
	}, nil
}

// EncodeVisualFrame builds a visual frame payload.
func EncodeVisualFrame(v VisualData) []byte {
	out := make([]byte, 12)
	writeF32(out[0:4], float32(v.VelocityMps))
	writeF32(out[4:8], float32(v.AngularRateRadps))
	writeF32(out[8:12], float32(v.SpanS))
	return out
}

func readF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func writeF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func readVec3(b []byte) estimate.Vector3 {
	return estimate.Vector3{
		X: float64(readF32(b[0:4])),
		Y: float64(readF32(b[4:8])),
		Z: float64(readF32(b[8:12])),
	}
}

func writeVec3(b []byte, v estimate.Vector3) {
	writeF32(b[0:4], float32(v.X))
	writeF32(b[4:8], float32(v.Y))
	writeF32(b[8:12], float32(v.Z))
}
