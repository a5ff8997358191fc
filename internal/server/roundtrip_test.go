package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/internal/lazy"
	"github.com/localnerve/jam-build-entitygraph/internal/metrics"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/query"
	"github.com/localnerve/jam-build-entitygraph/internal/serversync"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

func TestGraphRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a listener")
	}
	cfg, svc := newService(t)
	app := New(cfg, svc, prometheus.NewRegistry(), Options{Quiet: true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := metrics.New(prometheus.NewRegistry())
	tr := transport.Observed(transport.NewHTTP("http://"+ln.Addr().String(), transport.WithTimeout(5*time.Second)), m)
	mg := lazy.New(model.New(), tr, lazy.WithObserver(m))
	sync := serversync.New(mg, serversync.WithObserver(m))

	res, err := query.New(mg, query.WithSync(sync)).Execute(ctx, query.Config{Model: map[string]query.Spec{
		"ann": {From: "Person", ID: "1", Include: []string{"Friends"}, Load: true},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	ann := res.Entity("ann")
	require.NotNil(t, ann)
	name, err := ann.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "Ann", name)

	friends, err := ann.List("Friends")
	require.NoError(t, err)
	assert.Equal(t, 1, friends.Len())
	assert.False(t, sync.HasChanges(), "loading is not a change")

	require.NoError(t, ann.Set("Name", "Annie"))
	require.True(t, sync.HasChanges())
	_, err = sync.Submit(ctx)
	require.NoError(t, err)
	assert.False(t, sync.HasChanges())

	stored, err := svc.Instances(&transport.QueryRequest{Queries: []transport.ObjectQuery{{From: "Person", IDs: []string{"1"}}}})
	require.NoError(t, err)
	assert.JSONEq(t, `"Annie"`, string(stored.Instances["Person"]["1"]["Name"]))

	sets, err := svc.History(0, 10)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, 1, sets[0].ChangeCount)

	require.NoError(t, mg.Types.Ensure(ctx, "Pet"))
	pet, err := mg.Model().Type("Pet").NewEntity()
	require.NoError(t, err)
	vaccinated, err := pet.Get("Vaccinated")
	require.NoError(t, err)
	assert.Equal(t, false, vaccinated)
	require.NoError(t, pet.Set("Name", "Tom"))
	require.NoError(t, pet.Set("Vaccinated", true))

	resp, err := sync.Submit(ctx)
	require.NoError(t, err, "a new instance is checked against its defaults")
	require.Len(t, resp.IDChanges, 1)
	assert.Equal(t, resp.IDChanges[0].NewID, pet.ID())
	assert.False(t, pet.IsNew())

	stored, err = svc.Instances(&transport.QueryRequest{Queries: []transport.ObjectQuery{{From: "Pet", IDs: []string{pet.ID()}}}})
	require.NoError(t, err)
	assert.JSONEq(t, `true`, string(stored.Instances["Pet"][pet.ID()]["Vaccinated"]))
	assert.JSONEq(t, `"Tom"`, string(stored.Instances["Pet"][pet.ID()]["Name"]))
}
