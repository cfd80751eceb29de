package command

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/lan"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

type memRepository struct{}

func (memRepository) List(context.Context) ([]device.Device, error)      { return nil, nil }
func (memRepository) Save(context.Context, device.Device, int) error      { return nil }
func (memRepository) SaveAll(context.Context, []device.Device) error      { return nil }
func (memRepository) Delete(context.Context, string) error                { return nil }
func (memRepository) GetState(context.Context, string) (string, error)    { return "", nil }
func (memRepository) SetState(context.Context, string, string) error      { return nil }

type sendRecord struct {
	dst     netip.AddrPort
	payload []byte
	at      time.Time
}

// fakeTransport records sends and can fail or answer state queries.
type fakeTransport struct {
	mu        sync.Mutex
	sends     []sendRecord
	failNext  int
	failAll   bool
	answer    *protocol.StateResponse
	subs      map[int]func(lan.Packet)
	nextSubID int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[int]func(lan.Packet))}
}

func (t *fakeTransport) SendTo(_ context.Context, dst netip.AddrPort, payload []byte) error {
	t.mu.Lock()
	if t.failAll || t.failNext > 0 {
		if t.failNext > 0 {
			t.failNext--
		}
		t.mu.Unlock()
		return lan.ErrTransport
	}
	t.sends = append(t.sends, sendRecord{dst: dst, payload: payload, at: time.Now()})
	answer := t.answer
	subs := make([]func(lan.Packet), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	if answer != nil && string(payload) == string(protocol.MustEncode(protocol.QueryState{})) {
		body := fmt.Sprintf(`{"msg":{"cmd":"devStatus","data":{"onOff":1,"brightness":%d,"color":{"r":%d,"g":%d,"b":%d},"colorTemInKelvin":0}}}`,
			answer.Brightness, answer.Color.R, answer.Color.G, answer.Color.B)
		go func() {
			for _, fn := range subs {
				fn(lan.Packet{From: netip.AddrPortFrom(dst.Addr(), 4003), Payload: []byte(body), Received: time.Now()})
			}
		}()
	}
	return nil
}

func (t *fakeTransport) Broadcast(context.Context, []byte) error { return nil }

func (t *fakeTransport) Subscribe(fn func(lan.Packet)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *fakeTransport) records() []sendRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sendRecord(nil), t.sends...)
}

const testDevice = "AA:BB:CC:DD:EE:FF"

func setup(t *testing.T, cfg Config) (*Channel, *fakeTransport, *device.Registry) {
	t.Helper()
	reg := device.NewRegistry(memRepository{}, device.Config{})
	_, err := reg.Upsert(context.Background(), device.Discovered{
		ID:           testDevice,
		IP:           netip.MustParseAddr("192.0.2.10"),
		Model:        "H6159",
		Capabilities: protocol.LANCapabilities,
	})
	require.NoError(t, err)

	transport := newFakeTransport()
	ch := New(transport, reg, cfg)
	t.Cleanup(func() { ch.Close() }) //nolint:errcheck // test cleanup
	return ch, transport, reg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSend_DeliversToCommandPort(t *testing.T) {
	ch, transport, _ := setup(t, Config{})

	require.NoError(t, ch.Send(testDevice, protocol.SetPower{On: true}))
	waitFor(t, func() bool { s, _ := ch.Stats(testDevice); return s.Sent == 1 })

	s := transport.records()[0]
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.10:4003"), s.dst)
	assert.JSONEq(t, `{"msg":{"cmd":"turn","data":{"value":1}}}`, string(s.payload))

	stats, ok := ch.Stats(testDevice)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Sent)
}

func TestSend_CoalescesWithinRate(t *testing.T) {
	ch, transport, _ := setup(t, Config{RateHz: 10})

	// The first command takes the initial token; the rest pile into the
	// slot while the limiter waits.
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, ch.Send(testDevice, protocol.SetBrightness{Percent: 10 + i}))
	}

	waitFor(t, func() bool {
		s, _ := ch.Stats(testDevice)
		return s.Sent+s.Coalesced == n
	})

	sends := transport.records()
	assert.LessOrEqual(t, len(sends), 2, "coalescing should leave at most first and last")
	last := string(protocol.MustEncode(protocol.SetBrightness{Percent: 10 + n - 1}))
	assert.Equal(t, last, string(sends[len(sends)-1].payload))
}

func TestSend_RateBound(t *testing.T) {
	ch, transport, _ := setup(t, Config{RateHz: 20})

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, ch.Send(testDevice, protocol.SetColor{R: 1, G: 2, B: 3}))
		time.Sleep(time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	sends := transport.records()
	// 300ms at 20 Hz with burst 1: one immediate plus about six more.
	assert.LessOrEqual(t, len(sends), 9)
	for i := 1; i < len(sends); i++ {
		gap := sends[i].at.Sub(sends[i-1].at)
		assert.GreaterOrEqual(t, gap, 30*time.Millisecond, "send %d came %s after previous", i, gap)
	}
}

func TestSetRate(t *testing.T) {
	ch, _, _ := setup(t, Config{})

	assert.ErrorIs(t, ch.SetRate(testDevice, 0), ErrInvalidRate)
	require.NoError(t, ch.SetRate(testDevice, 5))
	assert.ErrorIs(t, ch.SetRate("missing", 5), device.ErrDeviceNotFound)
}

func TestSend_UnknownDevice(t *testing.T) {
	ch, _, _ := setup(t, Config{})
	assert.ErrorIs(t, ch.Send("missing", protocol.SetPower{}), device.ErrDeviceNotFound)
}

func TestDo_RetriesOnce(t *testing.T) {
	ch, transport, reg := setup(t, Config{})
	transport.failNext = 1

	require.NoError(t, ch.Do(context.Background(), testDevice, protocol.SetPower{On: false}))
	assert.Len(t, transport.records(), 1)

	stats, _ := ch.Stats(testDevice)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.False(t, stats.Suspended)

	d, err := reg.Get(testDevice)
	require.NoError(t, err)
	assert.True(t, d.Online)
}

func TestDo_SecondFailureSuspends(t *testing.T) {
	ch, transport, reg := setup(t, Config{})
	transport.failAll = true

	var offline int
	reg.Subscribe(func(ev device.Event) {
		if ev.Type == device.EventOffline {
			offline++
		}
	})

	err := ch.Do(context.Background(), testDevice, protocol.SetColor{R: 255})
	require.ErrorIs(t, err, ErrDeviceOffline)

	d, err := reg.Get(testDevice)
	require.NoError(t, err)
	assert.False(t, d.Online)
	assert.Equal(t, 1, offline)
	assert.True(t, ch.Suspended(testDevice))

	assert.ErrorIs(t, ch.Send(testDevice, protocol.SetColor{R: 1}), ErrDeviceOffline)
	assert.ErrorIs(t, ch.Do(context.Background(), testDevice, protocol.SetColor{R: 1}), ErrDeviceOffline)

	stats, _ := ch.Stats(testDevice)
	assert.Equal(t, uint64(2), stats.Failures)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestResumeOnOnlineEvent(t *testing.T) {
	ch, transport, reg := setup(t, Config{})
	transport.failAll = true
	require.Error(t, ch.Do(context.Background(), testDevice, protocol.SetPower{On: true}))
	require.True(t, ch.Suspended(testDevice))

	transport.mu.Lock()
	transport.failAll = false
	transport.mu.Unlock()

	// Device answers the next discovery.
	_, err := reg.Upsert(context.Background(), device.Discovered{
		ID:           testDevice,
		IP:           netip.MustParseAddr("192.0.2.10"),
		Model:        "H6159",
		Capabilities: protocol.LANCapabilities,
	})
	require.NoError(t, err)

	assert.False(t, ch.Suspended(testDevice))
	require.NoError(t, ch.Send(testDevice, protocol.SetPower{On: true}))
	waitFor(t, func() bool { return len(transport.records()) == 1 })
}

func TestReconnect(t *testing.T) {
	ch, transport, _ := setup(t, Config{})
	transport.failAll = true
	require.Error(t, ch.Do(context.Background(), testDevice, protocol.SetPower{On: true}))

	transport.mu.Lock()
	transport.failAll = false
	transport.mu.Unlock()

	require.NoError(t, ch.Reconnect(testDevice))
	assert.False(t, ch.Suspended(testDevice))
	require.NoError(t, ch.Do(context.Background(), testDevice, protocol.SetPower{On: true}))

	assert.ErrorIs(t, ch.Reconnect("missing"), device.ErrDeviceNotFound)
}

func TestDo_RecordsLastColor(t *testing.T) {
	ch, _, reg := setup(t, Config{})

	require.NoError(t, ch.Do(context.Background(), testDevice, protocol.SetColor{R: 10, G: 20, B: 30}))

	d, err := reg.Get(testDevice)
	require.NoError(t, err)
	require.NotNil(t, d.LastColor)
	assert.Equal(t, protocol.RGB{R: 10, G: 20, B: 30}, *d.LastColor)
}

func TestDo_InvalidCommand(t *testing.T) {
	ch, transport, _ := setup(t, Config{})

	err := ch.Do(context.Background(), testDevice, protocol.SetColor{R: 300})
	assert.ErrorIs(t, err, protocol.ErrInvalidParameter)
	assert.Empty(t, transport.records())
	assert.False(t, ch.Suspended(testDevice))
}

func TestQueryState(t *testing.T) {
	ch, transport, reg := setup(t, Config{})
	transport.answer = &protocol.StateResponse{On: true, Brightness: 64, Color: protocol.RGB{R: 255, G: 128}}

	state, err := ch.QueryState(context.Background(), testDevice)
	require.NoError(t, err)
	assert.True(t, state.On)
	assert.Equal(t, 64, state.Brightness)
	assert.Equal(t, protocol.RGB{R: 255, G: 128}, state.Color)

	d, err := reg.Get(testDevice)
	require.NoError(t, err)
	require.NotNil(t, d.State)
	assert.Equal(t, 64, d.State.Brightness)
}

func TestQueryState_Timeout(t *testing.T) {
	ch, _, _ := setup(t, Config{QueryTimeout: 30 * time.Millisecond})

	_, err := ch.QueryState(context.Background(), testDevice)
	assert.ErrorIs(t, err, ErrQueryTimeout)
}

func TestRemovedDeviceDropsQueue(t *testing.T) {
	ch, _, reg := setup(t, Config{})
	require.NoError(t, ch.Send(testDevice, protocol.SetPower{On: true}))

	require.NoError(t, reg.Remove(context.Background(), testDevice))

	_, ok := ch.Stats(testDevice)
	assert.False(t, ok)
	assert.ErrorIs(t, ch.Send(testDevice, protocol.SetPower{On: true}), device.ErrDeviceNotFound)
}

func TestClose(t *testing.T) {
	ch, _, _ := setup(t, Config{})
	require.NoError(t, ch.Send(testDevice, protocol.SetPower{On: true}))

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(testDevice, protocol.SetPower{On: true}), ErrClosed)
}

func TestSnapshot(t *testing.T) {
	ch, transport, _ := setup(t, Config{})
	require.NoError(t, ch.Send(testDevice, protocol.SetPower{On: true}))
	waitFor(t, func() bool { s, _ := ch.Stats(testDevice); return s.Sent == 1 })
	assert.Len(t, transport.records(), 1)

	snap := ch.Snapshot()
	require.Contains(t, snap, testDevice)
	assert.Equal(t, uint64(1), snap[testDevice].Sent)
}

func TestDo_KeepsEnqueueOrder(t *testing.T) {
	ch, transport, _ := setup(t, Config{RateHz: 20})

	red := protocol.SetColor{R: 255}
	green := protocol.SetColor{G: 255}
	require.NoError(t, ch.Send(testDevice, red))
	require.NoError(t, ch.Send(testDevice, green))
	require.NoError(t, ch.Do(context.Background(), testDevice, protocol.SetSegmentMode{On: false}))

	waitFor(t, func() bool { s, _ := ch.Stats(testDevice); return s.Sent+s.Coalesced == 3 })

	records := transport.records()
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, string(protocol.MustEncode(protocol.SetSegmentMode{On: false})), string(last.payload),
		"the mode frame must not be overtaken by a queued color")
	if len(records) > 1 {
		assert.Equal(t, string(protocol.MustEncode(green)), string(records[len(records)-2].payload))
	}
}
