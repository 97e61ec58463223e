package exchange

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rickgao/wsstress/internal/market"
	"github.com/rickgao/wsstress/internal/protocol"
	"github.com/rickgao/wsstress/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

// recorder is a Peer that keeps every frame it is sent.
type recorder struct {
	mu     sync.Mutex
	frames []protocol.Message
	full   bool
}

func (r *recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return protocol.ErrBackpressure
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, msg)
	return nil
}

func (r *recorder) byAction(action string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.frames {
		if m.Action == action {
			out = append(out, m)
		}
	}
	return out
}

// memFanout delivers publishes to recorders by channel membership.
type memFanout struct {
	mu            sync.Mutex
	peers         map[protocol.ConnID]*recorder
	members       map[string]map[protocol.ConnID]bool
	includeSender bool
	publishes     int
}

func newMemFanout(includeSender bool) *memFanout {
	return &memFanout{
		peers:         make(map[protocol.ConnID]*recorder),
		members:       make(map[string]map[protocol.ConnID]bool),
		includeSender: includeSender,
	}
}

func (f *memFanout) Subscribe(id protocol.ConnID, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[channel] == nil {
		f.members[channel] = make(map[protocol.ConnID]bool)
	}
	f.members[channel][id] = true
	return nil
}

func (f *memFanout) Unsubscribe(id protocol.ConnID, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[channel], id)
}

func (f *memFanout) Publish(channel string, data []byte, origin protocol.ConnID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes++
	n := 0
	for id := range f.members[channel] {
		if id == origin && !f.includeSender {
			continue
		}
		if p := f.peers[id]; p != nil && p.Send(data) == nil {
			n++
		}
	}
	return n
}

func (f *memFanout) Capabilities() Capabilities {
	return Capabilities{PublishIncludesSender: f.includeSender}
}

func (f *memFanout) memberCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[channel])
}

type fixture struct {
	engine *Engine
	agg    *stats.Aggregator
	fanout *memFanout
}

func newFixture(t *testing.T, includeSender bool) *fixture {
	t.Helper()
	catalog := market.DefaultCatalog()
	agg := stats.NewAggregator(stats.Config{Role: "exchange-test", Symbols: catalog.Symbols()}, clockwork.NewFakeClock(), nil)
	e, err := New(Config{Secret: testSecret}, catalog, agg, nil)
	require.NoError(t, err)
	fan := newMemFanout(includeSender)
	e.Bind(fan)
	return &fixture{engine: e, agg: agg, fanout: fan}
}

func (f *fixture) open() (*Session, *recorder) {
	rec := &recorder{}
	s := f.engine.Open(rec)
	f.fanout.mu.Lock()
	f.fanout.peers[s.ID()] = rec
	f.fanout.mu.Unlock()
	return s, rec
}

func frame(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	return data
}

func TestNewRejectsInvalidCatalog(t *testing.T) {
	_, err := New(Config{Secret: testSecret}, market.Catalog{}, nil, nil)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, false)
	assert.True(t, f.engine.Authenticate("testroom", testSecret))
	assert.False(t, f.engine.Authenticate("testroom", "wrong"))
	assert.False(t, f.engine.Authenticate("testroom", ""))

	scoped, err := New(Config{Secret: testSecret, Namespace: "testroom"}, market.DefaultCatalog(), f.agg, nil)
	require.NoError(t, err)
	assert.True(t, scoped.Authenticate("testroom", testSecret))
	assert.False(t, scoped.Authenticate("other", testSecret))
}

func TestOpenSendsAuthConfirmedOnce(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()
	b, recB := f.open()

	assert.NotEqual(t, a.ID(), b.ID())
	confirmed := recA.byAction(protocol.ActionAuthConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, a.ID(), confirmed[0].ID)
	require.Len(t, recB.byAction(protocol.ActionAuthConfirmed), 1)
	assert.Equal(t, 2, f.engine.Connections())

	snap := f.agg.Swap()
	assert.Equal(t, int64(2), snap.Opens)
	assert.Equal(t, int64(2), snap.Active)
}

func TestSubscribeReportsCountAtAdmission(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()
	b, recB := f.open()

	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("NFLX"))))
	require.NoError(t, b.Handle(frame(t, protocol.Subscribe("NFLX"))))

	okA := recA.byAction(protocol.ActionSubscribeOK)
	require.Len(t, okA, 1)
	assert.Equal(t, "NFLX", okA[0].Channel)
	assert.Equal(t, 1, okA[0].ChannelCount)
	okB := recB.byAction(protocol.ActionSubscribeOK)
	require.Len(t, okB, 1)
	assert.Equal(t, 2, okB[0].ChannelCount)
	assert.Equal(t, 2, f.fanout.memberCount("NFLX"))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()
	b, recB := f.open()
	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("GOOG"))))

	err := a.Handle(frame(t, protocol.Subscribe("GOOG")))
	assert.True(t, errors.Is(err, ErrAlreadySubscribed))
	assert.Len(t, recA.byAction(protocol.ActionSubscribeOK), 1, "no second confirmation")

	st, ok := f.engine.Channel("GOOG")
	require.True(t, ok)
	assert.Equal(t, 1, st.Subscribers)

	require.NoError(t, b.Handle(frame(t, protocol.Subscribe("GOOG"))))
	okB := recB.byAction(protocol.ActionSubscribeOK)
	require.Len(t, okB, 1)
	assert.Equal(t, 2, okB[0].ChannelCount, "duplicate did not inflate the count")
}

func TestSubscribeUnknownChannel(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()

	err := a.Handle(frame(t, protocol.Subscribe("AAPL")))
	assert.True(t, errors.Is(err, protocol.ErrUnknownChannel))
	assert.Empty(t, recA.byAction(protocol.ActionSubscribeOK))
	assert.Equal(t, int64(1), f.agg.Swap().Errors)
}

func TestBuySingleSubscriber(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()
	_, recB := f.open()

	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("NFLX"))))
	require.NoError(t, a.Handle(frame(t, protocol.Trade(protocol.ActionBuy, "NFLX"))))

	st, _ := f.engine.Channel("NFLX")
	assert.InDelta(t, 280.48*1.001, st.Value, 1e-9)
	assert.Equal(t, int64(1), st.Volume)

	infos := recA.byAction(protocol.ActionInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, "280.76", infos[0].Value.String())
	assert.Equal(t, int64(1), infos[0].Volume)
	assert.Equal(t, a.ID(), infos[0].ID)
	assert.Empty(t, recB.byAction(protocol.ActionInfo))

	snap := f.agg.Swap()
	assert.Equal(t, int64(1), snap.Transactions)
}

func TestSellTwoSubscribers(t *testing.T) {
	for _, includeSender := range []bool{false, true} {
		f := newFixture(t, includeSender)
		a, recA := f.open()
		b, recB := f.open()
		require.NoError(t, a.Handle(frame(t, protocol.Subscribe("TSLA"))))
		require.NoError(t, b.Handle(frame(t, protocol.Subscribe("TSLA"))))

		require.NoError(t, a.Handle(frame(t, protocol.Trade(protocol.ActionSell, "TSLA"))))

		st, _ := f.engine.Channel("TSLA")
		assert.InDelta(t, 244.74*0.999, st.Value, 1e-9)

		gotB := recB.byAction(protocol.ActionInfo)
		require.Len(t, gotB, 1, "includeSender=%v", includeSender)
		assert.Equal(t, a.ID(), gotB[0].ID)

		gotA := recA.byAction(protocol.ActionInfo)
		require.Len(t, gotA, 1, "sender receives exactly one info, includeSender=%v", includeSender)
		assert.Equal(t, gotB[0].Value.String(), gotA[0].Value.String())
	}
}

func TestTradeWithoutSubscribersSkipsPublish(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()

	require.NoError(t, a.Handle(frame(t, protocol.Trade(protocol.ActionBuy, "AMZN"))))
	assert.Zero(t, f.fanout.publishes)
	assert.Len(t, recA.byAction(protocol.ActionInfo), 1)
}

func TestTradeUnknownChannel(t *testing.T) {
	f := newFixture(t, false)
	a, recA := f.open()

	err := a.Handle(frame(t, protocol.Trade(protocol.ActionSell, "AAPL")))
	assert.True(t, errors.Is(err, protocol.ErrUnknownChannel))
	assert.Empty(t, recA.byAction(protocol.ActionInfo))
	assert.Equal(t, int64(0), f.agg.Swap().Transactions)
}

func TestMalformedMessages(t *testing.T) {
	f := newFixture(t, false)
	a, _ := f.open()
	before := f.engine.Channels()

	for _, data := range [][]byte{
		[]byte(`{"channel":"NFLX"}`),
		[]byte(`{"action":"cancel","channel":"NFLX"}`),
		[]byte(`{"action":"buy"}`),
		[]byte(`not json`),
	} {
		err := a.Handle(data)
		assert.True(t, errors.Is(err, protocol.ErrMalformedMessage), "frame %s", data)
	}

	assert.Equal(t, before, f.engine.Channels())
	_, open := f.engine.Session(a.ID())
	assert.True(t, open, "connection stays open")
	snap := f.agg.Swap()
	assert.Equal(t, int64(4), snap.Errors)
	assert.Equal(t, int64(0), snap.Transactions)
}

func TestPriceFollowsActionSequence(t *testing.T) {
	f := newFixture(t, false)
	a, _ := f.open()

	buys, sells := 0, 0
	for i := 0; i < 37; i++ {
		action := protocol.ActionBuy
		if i%3 == 0 {
			action = protocol.ActionSell
			sells++
		} else {
			buys++
		}
		require.NoError(t, a.Handle(frame(t, protocol.Trade(action, "NVDA"))))
	}

	st, _ := f.engine.Channel("NVDA")
	want := 183.03 * math.Pow(1.001, float64(buys)) * math.Pow(0.999, float64(sells))
	assert.InEpsilon(t, want, st.Value, 1e-9)
	assert.Equal(t, int64(37), st.Volume)
}

func TestConcurrentTradesDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, false)
	const workers, perWorker = 8, 200

	buy := frame(t, protocol.Trade(protocol.ActionBuy, "NFLX"))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		s, _ := f.open()
		require.NoError(t, s.Handle(frame(t, protocol.Subscribe("NFLX"))))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = s.Handle(buy)
			}
		}()
	}
	wg.Wait()

	st, _ := f.engine.Channel("NFLX")
	assert.Equal(t, int64(workers*perWorker), st.Volume)
	assert.InEpsilon(t, 280.48*math.Pow(1.001, workers*perWorker), st.Value, 1e-9)
}

func TestCloseRemovesSubscriptions(t *testing.T) {
	f := newFixture(t, false)
	a, _ := f.open()
	b, recB := f.open()
	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("NFLX"))))
	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("TSLA"))))
	require.NoError(t, b.Handle(frame(t, protocol.Subscribe("NFLX"))))
	assert.ElementsMatch(t, []string{"NFLX", "TSLA"}, a.Subscriptions())

	a.Close()
	a.Close()
	f.engine.Close(protocol.ConnID(9999))

	nflx, _ := f.engine.Channel("NFLX")
	tsla, _ := f.engine.Channel("TSLA")
	assert.Equal(t, 1, nflx.Subscribers)
	assert.Equal(t, 0, tsla.Subscribers)
	assert.Equal(t, 1, f.fanout.memberCount("NFLX"))
	assert.Equal(t, 0, f.fanout.memberCount("TSLA"))

	snap := f.agg.Swap()
	assert.Equal(t, int64(1), snap.Closes)
	assert.Equal(t, int64(1), snap.Active)

	// A closed session cannot rejoin.
	err := a.Handle(frame(t, protocol.Subscribe("NFLX")))
	assert.True(t, errors.Is(err, protocol.ErrClosed))

	require.NoError(t, b.Handle(frame(t, protocol.Trade(protocol.ActionBuy, "NFLX"))))
	assert.Len(t, recB.byAction(protocol.ActionInfo), 1)
}

func TestDroppedAndErrorOnlyCount(t *testing.T) {
	f := newFixture(t, false)
	a, _ := f.open()
	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("NFLX"))))
	before := f.engine.Channels()

	a.Dropped()
	a.Error(errors.New("read: connection reset"))

	assert.Equal(t, before, f.engine.Channels())
	_, open := f.engine.Session(a.ID())
	assert.True(t, open)
	snap := f.agg.Swap()
	assert.Equal(t, int64(1), snap.Drops)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestChannelGauges(t *testing.T) {
	f := newFixture(t, false)
	a, _ := f.open()
	require.NoError(t, a.Handle(frame(t, protocol.Subscribe("AMZN"))))
	require.NoError(t, a.Handle(frame(t, protocol.Trade(protocol.ActionBuy, "AMZN"))))

	g := f.engine.ChannelGauges()
	require.Len(t, g, 5)
	assert.Equal(t, 1, g["AMZN"].Subscribers)
	assert.Equal(t, int64(1), g["AMZN"].Volume)
	assert.InDelta(t, 1720.26*1.001, g["AMZN"].Value, 1e-9)

	states := f.engine.Channels()
	require.Len(t, states, 5)
	assert.Equal(t, "NFLX", states[0].Symbol)
}
