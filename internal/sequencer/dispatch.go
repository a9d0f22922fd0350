package sequencer

import (
	"encoding/json"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/w6bsd/ft8ctrl/internal/parser"
	"github.com/w6bsd/ft8ctrl/internal/wireproto"
	"github.com/w6bsd/ft8ctrl/internal/writer"
)

// handleDatagram decodes one UDP datagram and dispatches it by packet
// type. Decode errors (unknown type, truncated field) are logged and
// the datagram discarded; the loop never aborts on a bad packet.
func (s *Sequencer) handleDatagram(dg udpDatagram) {
	pkt, err := wireproto.DecodePacket(dg.raw)
	if err != nil {
		log.Printf("sequencer: decode: %v", err)
		if s.metrics != nil {
			s.metrics.DecodeErrors.Inc()
		}
		return
	}
	s.lastSender = dg.addr

	switch p := pkt.(type) {
	case *wireproto.Heartbeat, *wireproto.LoggedADIF:
		// ignored
	case *wireproto.Status:
		s.handleStatus(p)
	case *wireproto.Decode:
		s.handleDecode(p)
	case *wireproto.QSOLogged:
		s.handleQSOLogged(p)
	default:
		// Other passthrough packet types carry nothing the sequencer acts on.
	}
}

func (s *Sequencer) handleStatus(p *wireproto.Status) {
	s.mode = normalizeMode(p.Mode)
	s.frequency = p.Frequency
	s.band = BandOf(p.Frequency)
	s.txStatusFlag = p.Transmitting || p.TXEnabled

	if p.Transmitting && !p.Decoding {
		if p.TXMessage == s.lastTXMsg {
			s.retries++
			if s.retries >= s.cfg.txRetries() {
				s.sendHaltTx(true)
				s.retries = 0
			}
		} else {
			s.retries = 0
		}
		s.lastTXMsg = p.TXMessage
	}

	if p.Transmitting && p.DXCall != "" {
		s.enqueue(writer.NewStatus(p.DXCall, s.band, 1))
	}
}

func normalizeMode(mode string) string {
	m := strings.ToUpper(strings.TrimSpace(mode))
	if m == "" {
		return "FT8"
	}
	if _, ok := SlotTable[m]; ok {
		return m
	}
	return "FT8"
}

func (s *Sequencer) handleDecode(p *wireproto.Decode) {
	res := parser.Parse(p.Message)
	switch res.Kind {
	case parser.Reply:
		if res.Call == s.current && res.To != s.cfg.MyCall {
			// Someone else replied first to the station we were calling.
			log.Printf("sequencer: snipe on %s by %s, aborting", s.current, res.To)
			s.sendHaltTx(false)
			s.enqueue(writer.NewDelete(s.current, s.band))
			s.current = ""
		}
	case parser.CQ:
		s.envelope[res.Call] = *p
		s.enqueue(writer.NewInsert(res.Call, s.band, res.Extra, res.Grid, int(p.SNR), s.frequency, decodeTime(p), rawEnvelope(p)))
	}
}

func (s *Sequencer) handleQSOLogged(p *wireproto.QSOLogged) {
	if s.loggerUp != nil {
		forward := *p
		forward.Comments = "[ft8ctrl] " + forward.Comments
		forward.TXPower = sanitizedTXPower(s.cfg.TXPower)
		if _, err := s.conn.WriteToUDP(wireproto.EncodeQSOLogged(&forward), s.loggerUp); err != nil {
			log.Printf("sequencer: forward to logger: %v", err)
		}
	}
	s.enqueue(writer.NewStatus(p.DXCall, s.band, 2))
	s.current = ""
}

// sanitizedTXPower reports the configured power, or a jittered 11-17W
// value when none is configured.
func sanitizedTXPower(configured string) string {
	if configured != "" {
		return configured
	}
	return strconv.Itoa(11 + rand.Intn(7))
}

// fireSlot runs the selector pipeline for the current band and, if it
// yields a candidate, builds and sends a Reply packet.
func (s *Sequencer) fireSlot() {
	cand, name, err := s.pipeline.Select(s.band)
	if err != nil {
		log.Printf("sequencer: select: %v", err)
		s.current = ""
		return
	}
	if cand == nil {
		s.current = ""
		return
	}

	env, ok := s.envelope[cand.Call]
	if !ok {
		log.Printf("sequencer: %s has no decode envelope, skipping", cand.Call)
		s.current = ""
		return
	}

	reply := &wireproto.Reply{
		Time: env.Time, SNR: env.SNR, DeltaTime: env.DeltaTime,
		DeltaFrequency: env.DeltaFrequency, Mode: env.Mode, Message: env.Message,
		LowConfidence: env.LowConfidence,
	}
	if s.cfg.FollowFrequency {
		reply.Modifiers |= wireproto.ReplyModifierShift
	}

	dst := s.lastSender
	if dst == nil {
		log.Printf("sequencer: no known sender address, cannot reply to %s", cand.Call)
		return
	}
	if _, err := s.conn.WriteToUDP(wireproto.EncodeReply(reply), dst); err != nil {
		log.Printf("sequencer: send reply to %s: %v", cand.Call, err)
		return
	}

	log.Printf("sequencer: replying to %s via %s", cand.Call, name)
	if s.metrics != nil {
		s.metrics.Selections.WithLabelValues(name).Inc()
	}
	s.current = cand.Call
	s.retries = 0
}

func (s *Sequencer) sendHaltTx(autoOnly bool) {
	if s.lastSender == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(wireproto.EncodeHaltTx(autoOnly), s.lastSender); err != nil {
		log.Printf("sequencer: send halt-tx: %v", err)
	}
}

func (s *Sequencer) enqueue(cmd writer.Command) {
	select {
	case s.writeq <- cmd:
	default:
		log.Printf("sequencer: writer queue full, dropping %v for %s", cmd.Kind, cmd.Call)
	}
}

func decodeTime(p *wireproto.Decode) time.Time {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	return midnight.Add(time.Duration(p.Time) * time.Millisecond)
}

// rawEnvelope captures just enough of the Decode packet to rebuild a
// Reply later, stored as the sighting's opaque packet column.
func rawEnvelope(p *wireproto.Decode) []byte {
	raw, _ := json.Marshal(struct {
		Time           uint32  `json:"time"`
		SNR            int32   `json:"snr"`
		DeltaTime      float64 `json:"delta_time"`
		DeltaFrequency uint32  `json:"delta_frequency"`
		Mode           string  `json:"mode"`
		Message        string  `json:"message"`
		LowConfidence  bool    `json:"low_confidence"`
	}{p.Time, p.SNR, p.DeltaTime, p.DeltaFrequency, p.Mode, p.Message, p.LowConfidence})
	return raw
}
