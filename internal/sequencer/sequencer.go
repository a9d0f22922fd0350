// Package sequencer implements the single-threaded, slot-aligned event
// loop that ties the console's UDP telemetry to the selector pipeline:
// it decodes incoming packets, classifies on-air messages, tracks the
// current reply target, and emits Reply/Halt-TX packets at the right
// second of each transmit cycle.
package sequencer

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/w6bsd/ft8ctrl/internal/metrics"
	"github.com/w6bsd/ft8ctrl/internal/selector"
	"github.com/w6bsd/ft8ctrl/internal/wireproto"
	"github.com/w6bsd/ft8ctrl/internal/writer"
)

// SlotTable holds the UTC seconds-within-minute at which a reply may be
// sent for each mode. FT4 cycles every 6 s starting on second 0.
var SlotTable = map[string][]int{
	"FT8": {2, 17, 32, 47},
	"FT4": {0, 6, 12, 18, 24, 30, 36, 42, 48, 54},
}

// BandOf maps a dial frequency in Hz to its nominal wavelength in
// meters, per the fixed MHz->meters table; frequencies outside it map
// to band 0.
func BandOf(freqHz uint64) int {
	mhz := freqHz / 1_000_000
	switch {
	case mhz == 1:
		return 160
	case mhz == 3:
		return 80
	case mhz == 7:
		return 40
	case mhz == 10:
		return 30
	case mhz == 14:
		return 20
	case mhz == 18:
		return 17
	case mhz == 21:
		return 15
	case mhz == 24:
		return 12
	case mhz == 28:
		return 10
	case mhz == 50:
		return 6
	default:
		return 0
	}
}

func inSlot(table []int, second int) bool {
	for _, s := range table {
		if s == second {
			return true
		}
	}
	return false
}

// Config carries the sequencer's tuning knobs, distinct from the
// selector/store configuration.
type Config struct {
	MyCall          string
	FollowFrequency bool
	TXPower         string
	TXRetries       int              // default 5
	Now             func() time.Time // overridable for tests; defaults to time.Now
	Stdin           io.Reader        // overridable for tests; defaults to os.Stdin
}

func (c Config) txRetries() int {
	if c.TXRetries == 0 {
		return 5
	}
	return c.TXRetries
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Sequencer is the event loop's state. Run must be invoked from exactly
// one goroutine; it is not safe for concurrent use.
type Sequencer struct {
	cfg      Config
	conn     *net.UDPConn
	loggerUp *net.UDPAddr
	pipeline *selector.Pipeline
	writeq   chan<- writer.Command
	metrics  *metrics.Metrics

	mode         string
	band         int
	frequency    uint64
	current      string
	lastSender   *net.UDPAddr
	retries      int
	lastTXMsg    string
	paused       bool
	txStatusFlag bool
	envelope     map[string]wireproto.Decode // call -> the CQ packet that produced its row
}

// New constructs a Sequencer bound to conn, driving writeq and selecting
// from pipeline. m may be nil, disabling metric collection.
func New(cfg Config, conn *net.UDPConn, loggerUp *net.UDPAddr, pipeline *selector.Pipeline, writeq chan<- writer.Command, m *metrics.Metrics) *Sequencer {
	return &Sequencer{
		cfg: cfg, conn: conn, loggerUp: loggerUp, pipeline: pipeline, writeq: writeq, metrics: m,
		mode: "FT8", envelope: map[string]wireproto.Decode{},
	}
}

// Run blocks until stdin is closed, a QUIT command is read, or stop is
// closed. It cooperatively polls the UDP socket and stdin at 0.7s
// resolution, checking slot alignment once per pass so the check runs
// at least once per second.
func (s *Sequencer) Run(stop <-chan struct{}) error {
	stdin := s.cfg.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdinLines := make(chan string)
	go func() {
		defer close(stdinLines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			stdinLines <- scanner.Text()
		}
	}()

	udpPackets := make(chan udpDatagram, 16)
	go s.readUDP(udpPackets)

	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	var lastFire time.Time
	for {
		select {
		case <-stop:
			return nil
		case line, ok := <-stdinLines:
			if !ok {
				return nil
			}
			if quit := s.handleStdin(line); quit {
				return nil
			}
		case dg, ok := <-udpPackets:
			if !ok {
				return fmt.Errorf("sequencer: udp socket closed")
			}
			s.handleDatagram(dg)
		case <-ticker.C:
		}

		now := s.cfg.now().UTC()
		if !s.paused && !s.txStatus() && inSlot(SlotTable[s.mode], now.Second()) {
			// Fire at most once per absolute second, so a slot second is
			// not re-entered within a pass nor skipped on the next minute.
			tick := now.Truncate(time.Second)
			if tick.Equal(lastFire) {
				continue
			}
			lastFire = tick
			s.fireSlot()
		}
	}
}

type udpDatagram struct {
	raw  []byte
	addr *net.UDPAddr
}

func (s *Sequencer) readUDP(out chan<- udpDatagram) {
	defer close(out)
	buf := make([]byte, 65536)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		out <- udpDatagram{raw: raw, addr: addr}
	}
}

func (s *Sequencer) handleStdin(line string) (quit bool) {
	cmd := strings.ToUpper(strings.TrimSpace(line))
	switch cmd {
	case "QUIT":
		return true
	case "PAUSE":
		s.paused = true
		log.Printf("sequencer: paused")
	case "RUN":
		s.paused = false
		log.Printf("sequencer: running")
	case "SELECTOR", "SELECTORS":
		log.Printf("sequencer: active selectors: %v", s.pipeline.Names())
	case "CACHE":
		log.Printf("sequencer: band=%d mode=%s current=%q retries=%d", s.band, s.mode, s.current, s.retries)
	case "HELP", "?":
		log.Printf("sequencer: commands: QUIT PAUSE RUN SELECTOR CACHE HELP")
	default:
		log.Printf("sequencer: unrecognized command %q", cmd)
	}
	return false
}

// txStatus reflects the last Status packet: true when the console is
// transmitting or TX is enabled.
func (s *Sequencer) txStatus() bool { return s.txStatusFlag }
