package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/internal/types"
)

func TestDeferredMarkerIsPreserved(t *testing.T) {
	var l ListValue
	require.NoError(t, json.Unmarshal([]byte(`["deferred"]`), &l))
	assert.True(t, l.Deferred)

	out, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Equal(t, `["deferred"]`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`[ "deferred" ]`), &l))
	assert.True(t, l.Deferred)
	assert.True(t, IsDeferred(json.RawMessage(`["deferred"]`)))
	assert.False(t, IsDeferred(json.RawMessage(`[]`)))
}

func TestListValueItems(t *testing.T) {
	var l ListValue
	require.NoError(t, json.Unmarshal([]byte(`["1", 2, {"id": "3", "type": "SportsCar"}]`), &l))
	assert.False(t, l.Deferred)
	assert.Equal(t, []Ref{{ID: "1"}, {ID: "2"}, {ID: "3", Type: "SportsCar"}}, l.Items)

	require.NoError(t, json.Unmarshal([]byte(`[]`), &l))
	assert.False(t, l.Deferred)
	assert.Empty(t, l.Items)

	out, err := json.Marshal(ListValue{})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(out))

	assert.ErrorIs(t, json.Unmarshal([]byte(`{"a":1}`), &l), ErrBadShape)
}

func TestRefEncoding(t *testing.T) {
	out, err := json.Marshal(Ref{ID: "7"})
	require.NoError(t, err)
	assert.Equal(t, `"7"`, string(out))

	out, err = json.Marshal(Ref{ID: "7", Type: "Car"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7","type":"Car"}`, string(out))

	var r Ref
	require.NoError(t, json.Unmarshal([]byte(`{"id": 12}`), &r))
	assert.Equal(t, Ref{ID: "12"}, r)
}

func TestObjectQueryAcceptsSingleID(t *testing.T) {
	var q ObjectQuery
	require.NoError(t, json.Unmarshal([]byte(`{"from":"Driver","ids":"1"}`), &q))
	assert.Equal(t, types.IDList{"1"}, q.IDs)
}

func TestChangeRecordShape(t *testing.T) {
	c := Change{
		Type:     ValueChange,
		Instance: InstanceRef{Type: "Driver", ID: "1"},
		Property: "Name",
		OldValue: json.RawMessage(`"a"`),
		NewValue: json.RawMessage(`null`),
	}
	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ValueChange","instance":{"type":"Driver","id":"1"},"property":"Name","oldValue":"a","newValue":null}`, string(out))
}

func TestMemorySubmitAssignsIDs(t *testing.T) {
	m := NewMemory(nil)
	resp, err := m.Submit(context.Background(), &SubmitRequest{Changes: []Change{
		{Type: InitNew, Instance: InstanceRef{Type: "Car", ID: "+c1", IsNew: true}},
		{Type: ValueChange, Instance: InstanceRef{Type: "Car", ID: "+c1", IsNew: true}, Property: "Name", NewValue: json.RawMessage(`"Sentra"`)},
	}})
	require.NoError(t, err)
	require.Len(t, resp.IDChanges, 1)
	assert.Equal(t, IDChange{Type: "Car", OldID: "+c1", NewID: "s1"}, resp.IDChanges[0])

	q, err := m.Query(context.Background(), &QueryRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `"Sentra"`, string(q.Instances["Car"]["s1"]["Name"]))
	assert.Equal(t, 1, m.Calls("submit"))
	assert.Len(t, m.Submitted(), 2)
}

type countingObserver struct {
	ops  []string
	errs int
}

func (c *countingObserver) ObserveRequest(op string, err error) {
	c.ops = append(c.ops, op)
	if err != nil {
		c.errs++
	}
}

func TestObservedReportsRequests(t *testing.T) {
	m := NewMemory(nil)
	o := &countingObserver{}
	tr := Observed(m, o)

	_, err := tr.Query(context.Background(), &QueryRequest{})
	require.NoError(t, err)

	m.Err = errors.New("down")
	_, err = tr.List(context.Background(), &ListRequest{})
	require.Error(t, err)

	assert.Equal(t, []string{"query", "list"}, o.ops)
	assert.Equal(t, 1, o.errs)
}
