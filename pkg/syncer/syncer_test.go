package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRPC struct {
	head     uint64
	accounts map[uint64][]*rpc.Account
	failAt   uint64
}

func (f *fakeRPC) ChainHead(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeRPC) BlockTime(_ context.Context, height uint64) (time.Time, error) {
	return time.Unix(int64(height)*20, 0).UTC(), nil
}

func (f *fakeRPC) AccountsByHeight(_ context.Context, height uint64) ([]*rpc.Account, error) {
	if f.failAt != 0 && height == f.failAt {
		return nil, errors.New("boom")
	}
	// Return copies so the syncer cannot alias fixture data.
	var out []*rpc.Account
	for _, a := range f.accounts[height] {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeRPC) AccountByHeight(_ context.Context, address string, height uint64) (*rpc.Account, error) {
	for _, a := range f.accounts[height] {
		if a.Address == address {
			return a, nil
		}
	}
	return &rpc.Account{Address: address}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	last     uint64
	accounts []*indexermodels.Account
	inserts  int
}

func (f *fakeStore) InsertAccounts(_ context.Context, accounts []*indexermodels.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.accounts = append(f.accounts, accounts...)
	return nil
}

func (f *fakeStore) LastSynced(context.Context) (uint64, error) { return f.last, nil }

func (f *fakeStore) RecordSynced(_ context.Context, height uint64) error {
	f.last = height
	return nil
}

type fakePublisher struct {
	channels []string
	messages []any
}

func (f *fakePublisher) PublishJSON(_ context.Context, channel string, message any) {
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message)
}

func acc(addr string, amount uint64) *rpc.Account {
	return &rpc.Account{Address: addr, Amount: amount}
}

func newTestSyncer(t *testing.T, store Store, client rpc.Client, pub Publisher, cfg Config) *Syncer {
	t.Helper()
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	s := New(zap.NewNop(), store, client, pub, pool, cfg)
	t.Cleanup(s.Close)
	return s
}

func TestDiff(t *testing.T) {
	ts := time.Unix(100, 0).UTC()
	previous := []*rpc.Account{acc("aa", 10), acc("bb", 20), acc("cc", 30), acc("dd", 0)}
	current := []*rpc.Account{acc("aa", 10), acc("bb", 25), acc("ee", 5), acc("ff", 0)}

	got := Diff(previous, current, 7, ts)

	require.Len(t, got, 3)
	assert.Equal(t, &indexermodels.Account{Address: "bb", Amount: 25, Height: 7, HeightTime: ts}, got[0])
	assert.Equal(t, "cc", got[1].Address)
	assert.Equal(t, uint64(0), got[1].Amount, "vanished account drops to zero")
	assert.Equal(t, "ee", got[2].Address)
	assert.Equal(t, uint64(5), got[2].Amount)
}

func TestDiff_Genesis(t *testing.T) {
	got := Diff(nil, []*rpc.Account{acc("b", 2), acc("a", 1)}, 1, time.Time{})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Address)
	assert.Equal(t, "b", got[1].Address)
}

func TestSyncHeight(t *testing.T) {
	client := &fakeRPC{
		head: 3,
		accounts: map[uint64][]*rpc.Account{
			1: {acc("aa", 100)},
			2: {acc("aa", 100), acc("bb", 50)},
		},
	}
	s := newTestSyncer(t, &fakeStore{}, client, nil, Config{})

	genesis, err := s.SyncHeight(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, genesis, 1)
	assert.Equal(t, uint64(100), genesis[0].Amount)

	changes, err := s.SyncHeight(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "bb", changes[0].Address)
	assert.Equal(t, time.Unix(40, 0).UTC(), changes[0].HeightTime)
}

func TestSyncHeight_RPCError(t *testing.T) {
	client := &fakeRPC{head: 3, failAt: 2, accounts: map[uint64][]*rpc.Account{}}
	s := newTestSyncer(t, &fakeStore{}, client, nil, Config{})

	_, err := s.SyncHeight(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "height 2")
}

func TestRun_SyncsBatchAndPublishes(t *testing.T) {
	client := &fakeRPC{
		head: 10,
		accounts: map[uint64][]*rpc.Account{
			1: {acc("aa", 100)},
			2: {acc("aa", 100)},
			3: {acc("aa", 150), acc("bb", 1)},
			4: {acc("aa", 150), acc("bb", 1)},
		},
	}
	store := &fakeStore{}
	pub := &fakePublisher{}
	s := newTestSyncer(t, store, client, pub, Config{ChainID: 5, BatchSize: 4})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), res.FromHeight)
	assert.Equal(t, uint64(4), res.ToHeight)
	assert.Equal(t, 3, res.Changes)
	assert.Equal(t, []string{"aa", "bb"}, res.Addresses)
	assert.Equal(t, uint64(4), store.last)
	assert.Equal(t, 1, store.inserts)

	require.Len(t, pub.channels, 1)
	assert.Equal(t, redis.Channel(5, redis.EventBalancesSynced), pub.channels[0])
	msg, ok := pub.messages[0].(redis.BalancesSynced)
	require.True(t, ok)
	assert.Equal(t, uint64(4), msg.ToHeight)
}

func TestRun_ResumesAndStopsAtHead(t *testing.T) {
	client := &fakeRPC{head: 12, accounts: map[uint64][]*rpc.Account{}}
	store := &fakeStore{last: 10}
	s := newTestSyncer(t, store, client, nil, Config{BatchSize: 100})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.FromHeight)
	assert.Equal(t, uint64(12), res.ToHeight)
	assert.Equal(t, uint64(12), store.last)

	res, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, uint64(12), store.last)
}

func TestRun_HonorsStartHeight(t *testing.T) {
	client := &fakeRPC{head: 50, accounts: map[uint64][]*rpc.Account{}}
	store := &fakeStore{}
	s := newTestSyncer(t, store, client, nil, Config{StartHeight: 40, BatchSize: 5})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(40), res.FromHeight)
	assert.Equal(t, uint64(44), res.ToHeight)
}

func TestRun_StartHeightRecordsBaseline(t *testing.T) {
	client := &fakeRPC{head: 50, accounts: map[uint64][]*rpc.Account{}}
	for h := uint64(1); h <= 50; h++ {
		amount := uint64(100)
		if h >= 42 {
			amount = 150
		}
		client.accounts[h] = []*rpc.Account{acc("aa", amount), acc("bb", 0)}
	}
	store := &fakeStore{}
	s := newTestSyncer(t, store, client, nil, Config{StartHeight: 40, BatchSize: 5})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.accounts, 2)

	byHeight := map[uint64]*indexermodels.Account{}
	for _, a := range store.accounts {
		byHeight[a.Height] = a
	}
	require.Contains(t, byHeight, uint64(40))
	assert.Equal(t, "aa", byHeight[40].Address)
	assert.Equal(t, uint64(100), byHeight[40].Amount)
	require.Contains(t, byHeight, uint64(42))
	assert.Equal(t, uint64(150), byHeight[42].Amount)
	assert.Equal(t, []string{"aa"}, res.Addresses)

	// Later runs resume from stored progress and only record changes.
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.accounts, 2)
}

func TestRun_FailureKeepsProgress(t *testing.T) {
	client := &fakeRPC{head: 5, failAt: 3, accounts: map[uint64][]*rpc.Account{}}
	store := &fakeStore{}
	s := newTestSyncer(t, store, client, nil, Config{})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(0), store.last)
	assert.Equal(t, 0, store.inserts)
}

func ExampleDiff() {
	changes := Diff(
		[]*rpc.Account{acc("aa", 1)},
		[]*rpc.Account{acc("aa", 2)},
		9, time.Time{},
	)
	fmt.Println(changes[0].Address, changes[0].Amount, changes[0].Height)
	// Output: aa 2 9
}
