// Package wireproto implements the console's length-prefixed binary UDP
// wire format: a 12-byte header (magic, schema, packet type) followed by
// a client-identifier string and a type-specific body, all big-endian.
package wireproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// PacketType identifies the body layout that follows the header.
type PacketType uint32

const (
	TypeHeartbeat           PacketType = 0
	TypeStatus              PacketType = 1
	TypeDecode              PacketType = 2
	TypeClear               PacketType = 3
	TypeReply               PacketType = 4
	TypeQSOLogged           PacketType = 5
	TypeClose               PacketType = 6
	TypeReplay              PacketType = 7
	TypeHaltTx              PacketType = 8
	TypeFreeText            PacketType = 9
	TypeWSPRDecode          PacketType = 10
	TypeLocation            PacketType = 11
	TypeLoggedADIF          PacketType = 12
	TypeHighlightCallsign   PacketType = 13
	TypeSwitchConfiguration PacketType = 14
	TypeConfigure           PacketType = 15
)

const (
	magic         uint32 = 0xadbccbda
	schemaVersion uint32 = 2
	julianOrigin  int64  = 2451545
	// ReplyModifierShift is the "follow frequency" bit in a Reply's modifiers byte.
	ReplyModifierShift byte = 0x02
)

// ClientInbound and ClientOutbound are the two client identifiers the
// console protocol distinguishes between: messages carrying the console's
// own identity, and the Reply, Halt-TX and Free-Text packets this
// controller emits.
const (
	ClientInbound  = "AUTOFS"
	ClientOutbound = "AUTOFT"
)

// ProtocolError signals a malformed or unrecognized datagram: magic
// mismatch, an unknown packet type, or a truncated field. The datagram
// that produced it must be discarded, never retried.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("wireproto: %s: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(op string, err error) error { return &ProtocolError{Op: op, Err: err} }

var errTruncated = errors.New("truncated field")

// Packet is implemented by every decodable/encodable message body.
type Packet interface {
	Type() PacketType
}

// Header carries the fields common to every packet.
type Header struct {
	Schema   uint32
	Type     PacketType
	ClientID string
}

// Heartbeat is packet type 0. Ignored by the sequencer.
type Heartbeat struct {
	Header
	MaxSchema uint32
	Version   string
	Revision  string
}

func (p *Heartbeat) Type() PacketType { return TypeHeartbeat }

// Status is packet type 1.
type Status struct {
	Header
	Frequency            uint64
	Mode                 string
	DXCall               string
	Report               string
	TXMode               string
	TXEnabled            bool
	Transmitting         bool
	Decoding             bool
	RXDF                 uint32
	TXDF                 uint32
	DECall               string
	DEGrid               string
	DXGrid               string
	TXWatchdog           bool
	SubMode              string
	FastMode             bool
	SpecialOperatingMode uint8
	FreqTolerance        uint32
	TRPeriod             uint32
	ConfigurationName    string
	TXMessage            string
}

func (p *Status) Type() PacketType { return TypeStatus }

// Decode is packet type 2.
type Decode struct {
	Header
	New            bool
	Time           uint32 // ms since UTC midnight
	SNR            int32
	DeltaTime      float64
	DeltaFrequency uint32
	Mode           string
	Message        string
	LowConfidence  bool
	OffAir         bool
}

func (p *Decode) Type() PacketType { return TypeDecode }

// Clear is packet type 3.
type Clear struct {
	Header
	HasWindow bool
	Window    uint8
}

func (p *Clear) Type() PacketType { return TypeClear }

// Reply is packet type 4, sent by the sequencer in response to a Decode.
type Reply struct {
	Header
	Time           uint32
	SNR            int32
	DeltaTime      float64
	DeltaFrequency uint32
	Mode           string
	Message        string
	LowConfidence  bool
	Modifiers      byte
}

func (p *Reply) Type() PacketType { return TypeReply }

// QSOLogged is packet type 5.
type QSOLogged struct {
	Header
	DateTimeOff      time.Time
	DXCall           string
	DXGrid           string
	DialFrequency    uint64
	Mode             string
	ReportSent       string
	ReportReceived   string
	TXPower          string
	Comments         string
	Name             string
	DateTimeOn       time.Time
	OperatorCall     string
	MyCall           string
	MyGrid           string
	ExchangeSent     string
	ExchangeReceived string
	PropMode         string
}

func (p *QSOLogged) Type() PacketType { return TypeQSOLogged }

// Close is packet type 6, presence-only.
type Close struct{ Header }

func (p *Close) Type() PacketType { return TypeClose }

// HaltTx is packet type 8, sent by the sequencer to abort a transmission.
// Mode true halts at the end of the current sequence; false halts immediately.
type HaltTx struct {
	Header
	AutoTXOnly bool
}

func (p *HaltTx) Type() PacketType { return TypeHaltTx }

// FreeText is packet type 9. Format retained for compatibility; unused by
// the core sequencer.
type FreeText struct {
	Header
	Text string
	Send bool
}

func (p *FreeText) Type() PacketType { return TypeFreeText }

// LoggedADIF is packet type 12, passed through unmodified.
type LoggedADIF struct {
	Header
	ADIF string
}

func (p *LoggedADIF) Type() PacketType { return TypeLoggedADIF }

// HighlightCallsign is packet type 13, passed through unmodified.
type HighlightCallsign struct {
	Header
	Callsign        string
	BackgroundRed   uint8
	BackgroundGreen uint8
	BackgroundBlue  uint8
	BackgroundAlpha uint8
	ForegroundRed   uint8
	ForegroundGreen uint8
	ForegroundBlue  uint8
	ForegroundAlpha uint8
	HighlightLast   bool
}

func (p *HighlightCallsign) Type() PacketType { return TypeHighlightCallsign }

// SwitchConfiguration is the field layout of packet type 14. DecodePacket
// does not decode this type (it returns a *ProtocolError) and there is no
// encoder for it.
type SwitchConfiguration struct {
	Header
	ConfigurationName string
}

func (p *SwitchConfiguration) Type() PacketType { return TypeSwitchConfiguration }

// Configure is the field layout of packet type 15. DecodePacket does not
// decode this type (it returns a *ProtocolError) and there is no encoder
// for it.
type Configure struct {
	Header
	Mode               string
	FrequencyTolerance uint32
	SubMode            string
	FastMode           bool
	TRPeriod           uint32
	RXDF               uint32
	DXCall             string
	DXGrid             string
	GenerateMessages   bool
}

func (p *Configure) Type() PacketType { return TypeConfigure }

// DecodePacket parses a raw UDP datagram into one of the Packet types above.
// Unknown or unrecognized packet types yield a *ProtocolError, mirroring
// the console's own closed set of dispatchable message kinds. Types 7, 10,
// 11, 14 and 15 are not decoded and also yield a *ProtocolError.
func DecodePacket(raw []byte) (Packet, error) {
	r := &reader{buf: raw}

	gotMagic, err := r.u32()
	if err != nil {
		return nil, protoErr("header.magic", err)
	}
	if gotMagic != magic {
		return nil, protoErr("header.magic", fmt.Errorf("got 0x%x, want 0x%x", gotMagic, magic))
	}

	schema, err := r.u32()
	if err != nil {
		return nil, protoErr("header.schema", err)
	}

	typ, err := r.u32()
	if err != nil {
		return nil, protoErr("header.type", err)
	}

	clientID, err := r.str()
	if err != nil {
		return nil, protoErr("header.clientid", err)
	}
	hdr := Header{Schema: schema, Type: PacketType(typ), ClientID: clientID}

	switch PacketType(typ) {
	case TypeHeartbeat:
		return decodeHeartbeat(r, hdr)
	case TypeStatus:
		return decodeStatus(r, hdr)
	case TypeDecode:
		return decodeDecode(r, hdr)
	case TypeClear:
		return decodeClear(r, hdr)
	case TypeReply:
		return decodeReply(r, hdr)
	case TypeQSOLogged:
		return decodeQSOLogged(r, hdr)
	case TypeClose:
		return &Close{Header: hdr}, nil
	case TypeHaltTx:
		autoTXOnly, err := r.boolean()
		if err != nil {
			return nil, protoErr("halttx.autotxonly", err)
		}
		return &HaltTx{Header: hdr, AutoTXOnly: autoTXOnly}, nil
	case TypeFreeText:
		text, err := r.str()
		if err != nil {
			return nil, protoErr("freetext.text", err)
		}
		send, err := r.boolean()
		if err != nil {
			return nil, protoErr("freetext.send", err)
		}
		return &FreeText{Header: hdr, Text: text, Send: send}, nil
	case TypeLoggedADIF:
		return decodeLoggedADIF(r, hdr)
	case TypeHighlightCallsign:
		return decodeHighlightCallsign(r, hdr)
	default:
		return nil, protoErr("header.type", fmt.Errorf("unrecognized packet type %d", typ))
	}
}

func decodeHeartbeat(r *reader, hdr Header) (*Heartbeat, error) {
	maxSchema, err := r.u32()
	if err != nil {
		return nil, protoErr("heartbeat.maxschema", err)
	}
	version, err := r.str()
	if err != nil {
		return nil, protoErr("heartbeat.version", err)
	}
	revision, err := r.str()
	if err != nil {
		return nil, protoErr("heartbeat.revision", err)
	}
	return &Heartbeat{Header: hdr, MaxSchema: maxSchema, Version: version, Revision: revision}, nil
}

func decodeStatus(r *reader, hdr Header) (*Status, error) {
	s := &Status{Header: hdr}
	var err error
	if s.Frequency, err = r.u64(); err != nil {
		return nil, protoErr("status.frequency", err)
	}
	if s.Mode, err = r.str(); err != nil {
		return nil, protoErr("status.mode", err)
	}
	if s.DXCall, err = r.str(); err != nil {
		return nil, protoErr("status.dxcall", err)
	}
	if s.Report, err = r.str(); err != nil {
		return nil, protoErr("status.report", err)
	}
	if s.TXMode, err = r.str(); err != nil {
		return nil, protoErr("status.txmode", err)
	}
	if s.TXEnabled, err = r.boolean(); err != nil {
		return nil, protoErr("status.txenabled", err)
	}
	if s.Transmitting, err = r.boolean(); err != nil {
		return nil, protoErr("status.transmitting", err)
	}
	if s.Decoding, err = r.boolean(); err != nil {
		return nil, protoErr("status.decoding", err)
	}
	if s.RXDF, err = r.u32(); err != nil {
		return nil, protoErr("status.rxdf", err)
	}
	if s.TXDF, err = r.u32(); err != nil {
		return nil, protoErr("status.txdf", err)
	}
	if s.DECall, err = r.str(); err != nil {
		return nil, protoErr("status.decall", err)
	}
	if s.DEGrid, err = r.str(); err != nil {
		return nil, protoErr("status.degrid", err)
	}
	if s.DXGrid, err = r.str(); err != nil {
		return nil, protoErr("status.dxgrid", err)
	}
	if s.TXWatchdog, err = r.boolean(); err != nil {
		return nil, protoErr("status.txwatchdog", err)
	}
	if s.SubMode, err = r.str(); err != nil {
		return nil, protoErr("status.submode", err)
	}
	if s.FastMode, err = r.boolean(); err != nil {
		return nil, protoErr("status.fastmode", err)
	}
	som, err := r.u8()
	if err != nil {
		return nil, protoErr("status.specialoperatingmode", err)
	}
	s.SpecialOperatingMode = som
	if s.FreqTolerance, err = r.u32(); err != nil {
		return nil, protoErr("status.freqtolerance", err)
	}
	if s.TRPeriod, err = r.u32(); err != nil {
		return nil, protoErr("status.trperiod", err)
	}
	if s.ConfigurationName, err = r.str(); err != nil {
		return nil, protoErr("status.configname", err)
	}
	if s.TXMessage, err = r.str(); err != nil {
		return nil, protoErr("status.txmessage", err)
	}
	return s, nil
}

func decodeDecode(r *reader, hdr Header) (*Decode, error) {
	d := &Decode{Header: hdr}
	var err error
	if d.New, err = r.boolean(); err != nil {
		return nil, protoErr("decode.new", err)
	}
	if d.Time, err = r.u32(); err != nil {
		return nil, protoErr("decode.time", err)
	}
	snr, err := r.i32()
	if err != nil {
		return nil, protoErr("decode.snr", err)
	}
	d.SNR = snr
	if d.DeltaTime, err = r.f64(); err != nil {
		return nil, protoErr("decode.deltatime", err)
	}
	if d.DeltaFrequency, err = r.u32(); err != nil {
		return nil, protoErr("decode.deltafrequency", err)
	}
	if d.Mode, err = r.str(); err != nil {
		return nil, protoErr("decode.mode", err)
	}
	if d.Message, err = r.str(); err != nil {
		return nil, protoErr("decode.message", err)
	}
	if d.LowConfidence, err = r.boolean(); err != nil {
		return nil, protoErr("decode.lowconfidence", err)
	}
	if d.OffAir, err = r.boolean(); err != nil {
		return nil, protoErr("decode.offair", err)
	}
	return d, nil
}

func decodeClear(r *reader, hdr Header) (*Clear, error) {
	c := &Clear{Header: hdr}
	if r.remaining() == 0 {
		return c, nil
	}
	w, err := r.u8()
	if err != nil {
		return nil, protoErr("clear.window", err)
	}
	c.HasWindow = true
	c.Window = w
	return c, nil
}

func decodeReply(r *reader, hdr Header) (*Reply, error) {
	p := &Reply{Header: hdr}
	var err error
	if p.Time, err = r.u32(); err != nil {
		return nil, protoErr("reply.time", err)
	}
	snr, err := r.i32()
	if err != nil {
		return nil, protoErr("reply.snr", err)
	}
	p.SNR = snr
	if p.DeltaTime, err = r.f64(); err != nil {
		return nil, protoErr("reply.deltatime", err)
	}
	if p.DeltaFrequency, err = r.u32(); err != nil {
		return nil, protoErr("reply.deltafrequency", err)
	}
	if p.Mode, err = r.str(); err != nil {
		return nil, protoErr("reply.mode", err)
	}
	if p.Message, err = r.str(); err != nil {
		return nil, protoErr("reply.message", err)
	}
	if p.LowConfidence, err = r.boolean(); err != nil {
		return nil, protoErr("reply.lowconfidence", err)
	}
	mod, err := r.u8()
	if err != nil {
		return nil, protoErr("reply.modifiers", err)
	}
	p.Modifiers = mod
	return p, nil
}

func decodeQSOLogged(r *reader, hdr Header) (*QSOLogged, error) {
	q := &QSOLogged{Header: hdr}
	var err error
	if q.DateTimeOff, err = r.datetime(); err != nil {
		return nil, protoErr("qsologged.datetimeoff", err)
	}
	if q.DXCall, err = r.str(); err != nil {
		return nil, protoErr("qsologged.dxcall", err)
	}
	if q.DXGrid, err = r.str(); err != nil {
		return nil, protoErr("qsologged.dxgrid", err)
	}
	if q.DialFrequency, err = r.u64(); err != nil {
		return nil, protoErr("qsologged.dialfrequency", err)
	}
	if q.Mode, err = r.str(); err != nil {
		return nil, protoErr("qsologged.mode", err)
	}
	if q.ReportSent, err = r.str(); err != nil {
		return nil, protoErr("qsologged.reportsent", err)
	}
	if q.ReportReceived, err = r.str(); err != nil {
		return nil, protoErr("qsologged.reportreceived", err)
	}
	if q.TXPower, err = r.str(); err != nil {
		return nil, protoErr("qsologged.txpower", err)
	}
	if q.Comments, err = r.str(); err != nil {
		return nil, protoErr("qsologged.comments", err)
	}
	if q.Name, err = r.str(); err != nil {
		return nil, protoErr("qsologged.name", err)
	}
	if q.DateTimeOn, err = r.datetime(); err != nil {
		return nil, protoErr("qsologged.datetimeon", err)
	}
	if q.OperatorCall, err = r.str(); err != nil {
		return nil, protoErr("qsologged.operatorcall", err)
	}
	if q.MyCall, err = r.str(); err != nil {
		return nil, protoErr("qsologged.mycall", err)
	}
	if q.MyGrid, err = r.str(); err != nil {
		return nil, protoErr("qsologged.mygrid", err)
	}
	if q.ExchangeSent, err = r.str(); err != nil {
		return nil, protoErr("qsologged.exchangesent", err)
	}
	if q.ExchangeReceived, err = r.str(); err != nil {
		return nil, protoErr("qsologged.exchangereceived", err)
	}
	if q.PropMode, err = r.str(); err != nil {
		return nil, protoErr("qsologged.propmode", err)
	}
	return q, nil
}

func decodeLoggedADIF(r *reader, hdr Header) (*LoggedADIF, error) {
	adif, err := r.str()
	if err != nil {
		return nil, protoErr("loggedadif.adif", err)
	}
	return &LoggedADIF{Header: hdr, ADIF: adif}, nil
}

func decodeHighlightCallsign(r *reader, hdr Header) (*HighlightCallsign, error) {
	h := &HighlightCallsign{Header: hdr}
	var err error
	if h.Callsign, err = r.str(); err != nil {
		return nil, protoErr("highlightcallsign.callsign", err)
	}
	fields := []*uint8{&h.BackgroundRed, &h.BackgroundGreen, &h.BackgroundBlue, &h.BackgroundAlpha}
	for _, f := range fields {
		v, err := r.u8()
		if err != nil {
			return nil, protoErr("highlightcallsign.background", err)
		}
		*f = v
	}
	fields = []*uint8{&h.ForegroundRed, &h.ForegroundGreen, &h.ForegroundBlue, &h.ForegroundAlpha}
	for _, f := range fields {
		v, err := r.u8()
		if err != nil {
			return nil, protoErr("highlightcallsign.foreground", err)
		}
		*f = v
	}
	if h.HighlightLast, err = r.boolean(); err != nil {
		return nil, protoErr("highlightcallsign.last", err)
	}
	return h, nil
}

// EncodeReply serializes an outbound Reply packet (type 4), echoing the
// fields of the originating Decode per §4.1.
func EncodeReply(p *Reply) []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, TypeReply, ClientOutbound)
	writeU32(buf, p.Time)
	writeI32(buf, p.SNR)
	writeF64(buf, p.DeltaTime)
	writeU32(buf, p.DeltaFrequency)
	writeStr(buf, p.Mode)
	writeStr(buf, p.Message)
	writeBool(buf, p.LowConfidence)
	buf.WriteByte(p.Modifiers)
	return buf.Bytes()
}

// EncodeHaltTx serializes an outbound Halt-TX packet (type 8).
func EncodeHaltTx(autoTXOnly bool) []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, TypeHaltTx, ClientOutbound)
	writeBool(buf, autoTXOnly)
	return buf.Bytes()
}

// EncodeFreeText serializes an outbound Free-Text packet (type 9).
func EncodeFreeText(text string, send bool) []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, TypeFreeText, ClientOutbound)
	writeStr(buf, text)
	writeBool(buf, send)
	return buf.Bytes()
}

// EncodeQSOLogged serializes an outbound QSO-Logged packet (type 5),
// used when forwarding a logged QSO to an upstream logger endpoint.
func EncodeQSOLogged(q *QSOLogged) []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, TypeQSOLogged, q.ClientID)
	writeDatetime(buf, q.DateTimeOff)
	writeStr(buf, q.DXCall)
	writeStr(buf, q.DXGrid)
	writeU64(buf, q.DialFrequency)
	writeStr(buf, q.Mode)
	writeStr(buf, q.ReportSent)
	writeStr(buf, q.ReportReceived)
	writeStr(buf, q.TXPower)
	writeStr(buf, q.Comments)
	writeStr(buf, q.Name)
	writeDatetime(buf, q.DateTimeOn)
	writeStr(buf, q.OperatorCall)
	writeStr(buf, q.MyCall)
	writeStr(buf, q.MyGrid)
	writeStr(buf, q.ExchangeSent)
	writeStr(buf, q.ExchangeReceived)
	writeStr(buf, q.PropMode)
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, typ PacketType, clientID string) {
	writeU32(buf, magic)
	writeU32(buf, schemaVersion)
	writeU32(buf, uint32(typ))
	writeStr(buf, clientID)
}

func writeU32(buf *bytes.Buffer, v uint32)  { binary.Write(buf, binary.BigEndian, v) }
func writeI32(buf *bytes.Buffer, v int32)   { binary.Write(buf, binary.BigEndian, v) }
func writeU64(buf *bytes.Buffer, v uint64)  { binary.Write(buf, binary.BigEndian, v) }
func writeF64(buf *bytes.Buffer, v float64) { binary.Write(buf, binary.BigEndian, v) }

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// writeStr writes a length-prefixed UTF-8 string; a negative length (-1)
// represents a null string and is never produced here since Go strings
// cannot be nil — callers that must round-trip a null use writeNullStr.
func writeStr(buf *bytes.Buffer, s string) {
	writeI32(buf, int32(len(s)))
	buf.WriteString(s)
}

// writeNullStr writes the length −1 sentinel for a null (as opposed to
// empty) string field.
func writeNullStr(buf *bytes.Buffer) {
	writeI32(buf, -1)
}

func writeDatetime(buf *bytes.Buffer, t time.Time) {
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	jd := julianOrigin + int64(midnight.Unix()/86400-referenceDay())
	msSinceMidnight := uint32(utc.Sub(midnight).Milliseconds())
	binary.Write(buf, binary.BigEndian, jd)
	writeU32(buf, msSinceMidnight)
	buf.WriteByte(2) // time-spec: UTC with explicit offset
	writeI32(buf, 0) // offset-seconds
}

func referenceDay() int64 {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return epoch.Unix() / 86400
}

// reader is a cursor over a raw datagram, decoding QDataStream scalars.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return errTruncated
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) f64() (float64, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// str decodes a length-prefixed string. Length −1 means null (returned as
// ""); length 0 means empty (also ""). Callers that must distinguish
// null from empty use strNullable.
func (r *reader) str() (string, error) {
	s, _, err := r.strNullable()
	return s, err
}

func (r *reader) strNullable() (s string, isNull bool, err error) {
	n, err := r.i32()
	if err != nil {
		return "", false, err
	}
	if n == -1 {
		return "", true, nil
	}
	if n < 0 {
		return "", false, fmt.Errorf("negative string length %d", n)
	}
	if err := r.need(int(n)); err != nil {
		return "", false, err
	}
	s = string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, false, nil
}

func (r *reader) datetime() (time.Time, error) {
	jdBytes, err := r.u64()
	if err != nil {
		return time.Time{}, err
	}
	jd := int64(jdBytes)
	ms, err := r.u32()
	if err != nil {
		return time.Time{}, err
	}
	spec, err := r.u8()
	if err != nil {
		return time.Time{}, err
	}
	var offsetSeconds int32
	if spec == 2 {
		offsetSeconds, err = r.i32()
		if err != nil {
			return time.Time{}, err
		}
	}
	days := jd - julianOrigin + referenceDay()
	t := time.Unix(days*86400, 0).UTC().Add(time.Duration(ms) * time.Millisecond)
	if offsetSeconds != 0 {
		t = t.Add(-time.Duration(offsetSeconds) * time.Second)
	}
	return t, nil
}
