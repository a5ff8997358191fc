package observer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	values map[string]any
}

func (i *item) Set(property string, value any) error {
	if property == "" {
		return errors.New("empty property")
	}
	i.values[property] = value
	return nil
}

func TestPropertyChanged(t *testing.T) {
	o := New()
	target := &item{values: map[string]any{}}

	var got []string
	sub := o.AddPropertyChanged(target, "Name", func(_ any, p string) { got = append(got, "name:"+p) })
	all := o.AddPropertyChanged(target, "", func(_ any, p string) { got = append(got, "all:"+p) })

	assert.True(t, o.HasPropertySubscribers(target, "Name"))
	assert.False(t, o.HasPropertySubscribers(target, "Age"))

	o.RaisePropertyChanged(target, "Name")
	o.RaisePropertyChanged(target, "Age")
	assert.Equal(t, []string{"name:Name", "all:Name", "all:Age"}, got)

	o.RemovePropertyChanged(sub)
	o.RemovePropertyChanged(all)
	got = nil
	o.RaisePropertyChanged(target, "Name")
	assert.Empty(t, got)
	assert.False(t, o.HasPropertySubscribers(target, "Name"))
}

func TestCollectionChanged(t *testing.T) {
	o := New()
	coll := &item{}
	var got []CollectionChange
	sub := o.AddCollectionChanged(coll, func(_ any, c []CollectionChange) { got = append(got, c...) })

	o.RaiseCollectionChanged(coll, []CollectionChange{{Action: Add, NewItems: []any{1}}})
	require.Len(t, got, 1)
	assert.Equal(t, "add", got[0].Action.String())

	o.RemoveCollectionChanged(sub)
	o.RaiseCollectionChanged(coll, []CollectionChange{{Action: Reset}})
	assert.Len(t, got, 1)
}

func TestSetValue(t *testing.T) {
	o := New()
	target := &item{values: map[string]any{}}
	require.NoError(t, o.SetValue(target, "Name", "x"))
	assert.Equal(t, "x", target.values["Name"])

	var unsupported *UnsupportedTargetError
	assert.ErrorAs(t, o.SetValue(42, "Name", "x"), &unsupported)
}

func TestPathChangedResubscribes(t *testing.T) {
	o := New()
	leafA := &item{values: map[string]any{}}
	leafB := &item{values: map[string]any{}}
	root := &item{values: map[string]any{"Child": leafA}}
	get := func(target any, prop string) any { return target.(*item).values[prop] }

	var fired int
	ps := AddPathChanged(o, root, []string{"Child", "Name"}, get, func(any) { fired++ })

	o.RaisePropertyChanged(leafA, "Name")
	assert.Equal(t, 1, fired)

	root.values["Child"] = leafB
	o.RaisePropertyChanged(root, "Child")
	assert.Equal(t, 2, fired)

	o.RaisePropertyChanged(leafA, "Name")
	assert.Equal(t, 2, fired)
	o.RaisePropertyChanged(leafB, "Name")
	assert.Equal(t, 3, fired)

	ps.Remove()
	o.RaisePropertyChanged(leafB, "Name")
	assert.Equal(t, 3, fired)
}
