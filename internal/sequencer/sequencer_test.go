package sequencer

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w6bsd/ft8ctrl/internal/config"
	"github.com/w6bsd/ft8ctrl/internal/dxcc"
	"github.com/w6bsd/ft8ctrl/internal/lotw"
	"github.com/w6bsd/ft8ctrl/internal/selector"
	"github.com/w6bsd/ft8ctrl/internal/store"
	"github.com/w6bsd/ft8ctrl/internal/wireproto"
	"github.com/w6bsd/ft8ctrl/internal/writer"
)

func TestBandOf(t *testing.T) {
	cases := map[uint64]int{
		1840000:   160,
		3573000:   80,
		7074000:   40,
		10136000:  30,
		14074000:  20,
		18100000:  17,
		21074000:  15,
		24915000:  12,
		28074000:  10,
		50313000:  6,
		144174000: 0,
		0:         0,
	}
	for freq, want := range cases {
		assert.Equal(t, want, BandOf(freq), "frequency %d", freq)
	}
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, "FT8", normalizeMode("FT8"))
	assert.Equal(t, "FT4", normalizeMode("ft4"))
	assert.Equal(t, "FT8", normalizeMode(""))
	assert.Equal(t, "FT8", normalizeMode("JT65"))
}

func TestSlotTable(t *testing.T) {
	assert.Equal(t, []int{2, 17, 32, 47}, SlotTable["FT8"])
	assert.Equal(t, []int{0, 6, 12, 18, 24, 30, 36, 42, 48, 54}, SlotTable["FT4"])
	assert.True(t, inSlot(SlotTable["FT8"], 17))
	assert.False(t, inSlot(SlotTable["FT8"], 18))
}

// udpPair returns a bound controller socket and a peer socket standing in
// for the radio console.
func udpPair(t *testing.T) (conn, peer *net.UDPConn) {
	t.Helper()
	var err error
	conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	peer, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return conn, peer
}

func readPacket(t *testing.T, peer *net.UDPConn) wireproto.Packet {
	t.Helper()
	buf := make([]byte, 65536)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := wireproto.DecodePacket(buf[:n])
	require.NoError(t, err)
	return pkt
}

func newTestSequencer(t *testing.T, cfg Config) (*Sequencer, *net.UDPConn, chan writer.Command) {
	t.Helper()
	conn, peer := udpPair(t)
	writeq := make(chan writer.Command, 16)
	s := New(cfg, conn, nil, nil, writeq, nil)
	s.lastSender = peer.LocalAddr().(*net.UDPAddr)
	return s, peer, writeq
}

func TestHandleDecode_SnipeAbort(t *testing.T) {
	s, peer, writeq := newTestSequencer(t, Config{MyCall: "K1ABC"})
	s.current = "W1AW"
	s.band = 20

	s.handleDecode(&wireproto.Decode{Message: "W9XYZ W1AW -12"})

	pkt := readPacket(t, peer)
	halt, ok := pkt.(*wireproto.HaltTx)
	require.True(t, ok, "a snipe triggers an immediate Halt-TX")
	assert.False(t, halt.AutoTXOnly)

	cmd := <-writeq
	assert.Equal(t, writer.Delete, cmd.Kind)
	assert.Equal(t, "W1AW", cmd.Call)
	assert.Equal(t, 20, cmd.Band)
	assert.Equal(t, "", s.current)
}

func TestHandleDecode_ReplyToUsIsNotASnipe(t *testing.T) {
	s, _, writeq := newTestSequencer(t, Config{MyCall: "K1ABC"})
	s.current = "W1AW"

	s.handleDecode(&wireproto.Decode{Message: "K1ABC W1AW -12"})

	assert.Equal(t, "W1AW", s.current)
	assert.Len(t, writeq, 0)
}

func TestHandleDecode_CQEnqueuesInsert(t *testing.T) {
	s, _, writeq := newTestSequencer(t, Config{MyCall: "K1ABC"})
	s.band = 20
	s.frequency = 14074000

	s.handleDecode(&wireproto.Decode{SNR: -7, Message: "CQ DX PY2XYZ GG66"})

	cmd := <-writeq
	assert.Equal(t, writer.Insert, cmd.Kind)
	assert.Equal(t, "PY2XYZ", cmd.Call)
	assert.Equal(t, "DX", cmd.Extra)
	assert.Equal(t, "GG66", cmd.Grid)
	assert.Equal(t, -7, cmd.SNR)
	assert.Equal(t, 20, cmd.Band)
	assert.Contains(t, s.envelope, "PY2XYZ")
}

func TestHandleStatus_RetryHaltsTX(t *testing.T) {
	s, peer, _ := newTestSequencer(t, Config{MyCall: "K1ABC", TXRetries: 3})
	status := &wireproto.Status{
		Frequency: 14074000, Mode: "FT8",
		Transmitting: true, Decoding: false, TXMessage: "W1AW K1ABC FN20",
	}
	for i := 0; i < 4; i++ {
		s.handleStatus(status)
	}

	pkt := readPacket(t, peer)
	halt, ok := pkt.(*wireproto.HaltTx)
	require.True(t, ok, "repeating the same TX message past the retry cap halts")
	assert.True(t, halt.AutoTXOnly)
	assert.Equal(t, 0, s.retries)
}

func TestHandleStatus_TracksBandAndTXState(t *testing.T) {
	s, _, writeq := newTestSequencer(t, Config{MyCall: "K1ABC"})
	s.handleStatus(&wireproto.Status{
		Frequency: 7074000, Mode: "FT4",
		Transmitting: true, DXCall: "W1AW",
	})

	assert.Equal(t, 40, s.band)
	assert.Equal(t, "FT4", s.mode)
	assert.True(t, s.txStatus())

	cmd := <-writeq
	assert.Equal(t, writer.Status, cmd.Kind)
	assert.Equal(t, "W1AW", cmd.Call)
	assert.Equal(t, 1, cmd.Status)
}

func TestHandleQSOLogged(t *testing.T) {
	s, peer, writeq := newTestSequencer(t, Config{MyCall: "K1ABC", TXPower: "10"})
	s.loggerUp = peer.LocalAddr().(*net.UDPAddr)
	s.band = 20
	s.current = "W1AW"

	s.handleQSOLogged(&wireproto.QSOLogged{
		Header: wireproto.Header{ClientID: wireproto.ClientInbound},
		DXCall: "W1AW", Comments: "tnx", DateTimeOn: time.Now().UTC(), DateTimeOff: time.Now().UTC(),
	})

	pkt := readPacket(t, peer)
	fwd, ok := pkt.(*wireproto.QSOLogged)
	require.True(t, ok, "the logged QSO is forwarded upstream")
	assert.Equal(t, "W1AW", fwd.DXCall)
	assert.Equal(t, "[ft8ctrl] tnx", fwd.Comments)
	assert.Equal(t, "10", fwd.TXPower)

	cmd := <-writeq
	assert.Equal(t, writer.Status, cmd.Kind)
	assert.Equal(t, 2, cmd.Status)
	assert.Equal(t, "W1AW", cmd.Call)
	assert.Equal(t, "", s.current)
}

func newTestPipeline(t *testing.T, calls ...string) *selector.Pipeline {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	for _, call := range calls {
		_, err := st.Upsert(store.Sighting{
			Call: call, Band: 20, SNR: -5, Status: 0, Time: time.Now(),
			Continent: "SA", Country: "Brazil", Distance: 8000, Packet: []byte(`{}`),
		})
		require.NoError(t, err)
	}
	db := dxcc.FromRecords([]dxcc.Record{
		{Prefix: "PY", Country: "Brazil", Continent: "SA", CQZone: 11, ITUZone: 15},
	})
	cfg := &config.Config{FT8Ctrl: config.FT8Ctrl{CallSelector: []string{"Any"}}}
	p, err := selector.NewPipeline(cfg, selector.Deps{
		Store: st, DXCC: db, LOTW: lotw.Always{}, BlackList: map[string]bool{}, MyContinent: "NA",
	})
	require.NoError(t, err)
	return p
}

func TestFireSlot_SendsReply(t *testing.T) {
	conn, peer := udpPair(t)
	writeq := make(chan writer.Command, 16)
	s := New(Config{MyCall: "K1ABC", FollowFrequency: true}, conn, nil, newTestPipeline(t, "PY2XYZ"), writeq, nil)
	s.band = 20
	s.lastSender = peer.LocalAddr().(*net.UDPAddr)
	s.envelope["PY2XYZ"] = wireproto.Decode{
		Time: 45296000, SNR: -5, DeltaTime: 0.5, DeltaFrequency: 1500,
		Mode: "~", Message: "CQ PY2XYZ GG66",
	}

	s.fireSlot()

	pkt := readPacket(t, peer)
	reply, ok := pkt.(*wireproto.Reply)
	require.True(t, ok)
	assert.Equal(t, "CQ PY2XYZ GG66", reply.Message)
	assert.Equal(t, int32(-5), reply.SNR)
	assert.Equal(t, wireproto.ReplyModifierShift, reply.Modifiers&wireproto.ReplyModifierShift)
	assert.Equal(t, "PY2XYZ", s.current)
}

func TestFireSlot_NoCandidateClearsCurrent(t *testing.T) {
	conn, peer := udpPair(t)
	writeq := make(chan writer.Command, 16)
	s := New(Config{MyCall: "K1ABC"}, conn, nil, newTestPipeline(t), writeq, nil)
	s.band = 20
	s.lastSender = peer.LocalAddr().(*net.UDPAddr)
	s.current = "W1AW"

	s.fireSlot()
	assert.Equal(t, "", s.current)
}

// blockedReader never yields a line, standing in for an idle terminal.
type blockedReader struct{}

func (blockedReader) Read([]byte) (int, error) {
	select {}
}

var _ io.Reader = blockedReader{}

// TestRun_FiresOncePerSlotSecond pins the clock inside an FT8 slot and
// lets the loop tick several times: exactly one Reply may go out for
// that second.
func TestRun_FiresOncePerSlotSecond(t *testing.T) {
	conn, peer := udpPair(t)
	writeq := make(chan writer.Command, 16)
	pinned := time.Date(2024, 6, 1, 12, 0, 17, 0, time.UTC)
	s := New(Config{
		MyCall: "K1ABC",
		Now:    func() time.Time { return pinned },
		Stdin:  blockedReader{},
	}, conn, nil, newTestPipeline(t, "PY2XYZ"), writeq, nil)
	s.band = 20
	s.lastSender = peer.LocalAddr().(*net.UDPAddr)
	s.envelope["PY2XYZ"] = wireproto.Decode{Time: 43217000, SNR: -5, Mode: "~", Message: "CQ PY2XYZ GG66"}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(stop)
	}()

	pkt := readPacket(t, peer)
	_, ok := pkt.(*wireproto.Reply)
	require.True(t, ok)

	// Give the ticker time for further passes inside the same pinned
	// second; none of them may fire again.
	buf := make([]byte, 65536)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(1600*time.Millisecond)))
	_, _, err := peer.ReadFromUDP(buf)
	assert.Error(t, err, "a second Reply inside the same slot second is a bug")

	close(stop)
	<-done
}

// TestRun_PausedSuppressesReply checks that the pause flag gates slot
// firing entirely.
func TestRun_PausedSuppressesReply(t *testing.T) {
	conn, peer := udpPair(t)
	writeq := make(chan writer.Command, 16)
	pinned := time.Date(2024, 6, 1, 12, 0, 17, 0, time.UTC)
	s := New(Config{
		MyCall: "K1ABC",
		Now:    func() time.Time { return pinned },
		Stdin:  blockedReader{},
	}, conn, nil, newTestPipeline(t, "PY2XYZ"), writeq, nil)
	s.band = 20
	s.paused = true
	s.lastSender = peer.LocalAddr().(*net.UDPAddr)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(stop)
	}()

	buf := make([]byte, 65536)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(1500*time.Millisecond)))
	_, _, err := peer.ReadFromUDP(buf)
	assert.Error(t, err, "no Reply may be sent while paused")

	close(stop)
	<-done
}

func TestHandleStdin(t *testing.T) {
	s, _, _ := newTestSequencer(t, Config{MyCall: "K1ABC"})
	s.pipeline = newTestPipeline(t)

	assert.False(t, s.handleStdin("pause"))
	assert.True(t, s.paused)
	assert.False(t, s.handleStdin("RUN"))
	assert.False(t, s.paused)
	assert.False(t, s.handleStdin("SELECTORS"))
	assert.False(t, s.handleStdin("CACHE"))
	assert.False(t, s.handleStdin("bogus"))
	assert.True(t, s.handleStdin("QUIT"))
}
