package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Transport over fixed data, used by tests and demos. Query
// and List answer with every instance it holds; the graph picks what it needs.
type Memory struct {
	mu      sync.Mutex
	data    Instances
	statics map[string]Properties
	types   map[string]TypeMetadata
	conds   []ConditionTypeMetadata
	calls   map[string]int
	changes []Change
	nextID  int

	// Gate, when set, blocks every request until it is closed or receives a value.
	Gate chan struct{}
	// Err, when set, fails every request.
	Err error
}

// NewMemory returns a memory transport over data.
func NewMemory(data Instances) *Memory {
	if data == nil {
		data = Instances{}
	}
	return &Memory{
		data:    data,
		statics: map[string]Properties{},
		types:   map[string]TypeMetadata{},
		calls:   map[string]int{},
	}
}

// SetStatic sets the static property values answered for typeName.
func (m *Memory) SetStatic(typeName string, props Properties) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statics[typeName] = props
}

// MustParseInstances decodes a JSON instances document and panics on error.
func MustParseInstances(doc string) Instances {
	var in Instances
	if err := json.Unmarshal([]byte(doc), &in); err != nil {
		panic(err)
	}
	return in
}

// SetTypes sets the metadata answered by Types.
func (m *Memory) SetTypes(types map[string]TypeMetadata, conds ...ConditionTypeMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = types
	m.conds = conds
}

// Calls returns how many requests of the operation were made.
func (m *Memory) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// Submitted returns every change received by Submit.
func (m *Memory) Submitted() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Change(nil), m.changes...)
}

func (m *Memory) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	gate, err := m.Gate, m.Err
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *Memory) snapshot() *Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := &Response{Instances: Instances{}}
	resp.Instances.Merge(m.data)
	if len(m.statics) > 0 {
		resp.Statics = make(map[string]Properties, len(m.statics))
		for name, props := range m.statics {
			cp := make(Properties, len(props))
			for k, v := range props {
				cp[k] = v
			}
			resp.Statics[name] = cp
		}
	}
	return resp
}

// Query implements Transport.
func (m *Memory) Query(ctx context.Context, req *QueryRequest) (*Response, error) {
	if err := m.enter(ctx, "query"); err != nil {
		return nil, err
	}
	return m.snapshot(), nil
}

// List implements Transport.
func (m *Memory) List(ctx context.Context, req *ListRequest) (*Response, error) {
	if err := m.enter(ctx, "list"); err != nil {
		return nil, err
	}
	return m.snapshot(), nil
}

// Types implements Transport.
func (m *Memory) Types(ctx context.Context, req *TypesRequest) (*TypesResponse, error) {
	if err := m.enter(ctx, "types"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &TypesResponse{Types: map[string]TypeMetadata{}, ConditionTypes: m.conds}
	for _, name := range req.Names {
		meta, ok := m.types[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown type %s", ErrBadShape, name)
		}
		out.Types[name] = meta
	}
	return out, nil
}

// Submit implements Transport. New instances get ids of the form "s<n>" and the
// changes are applied to the held data.
func (m *Memory) Submit(ctx context.Context, req *SubmitRequest) (*Response, error) {
	if err := m.enter(ctx, "submit"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, req.Changes...)

	resp := &Response{Instances: Instances{}}
	ids := map[string]string{}
	key := func(r InstanceRef) string { return r.Type + "|" + strings.ToLower(r.ID) }
	resolve := func(r InstanceRef) string {
		if id, ok := ids[key(r)]; ok {
			return id
		}
		return r.ID
	}
	for _, c := range req.Changes {
		switch c.Type {
		case InitNew:
			m.nextID++
			id := "s" + strconv.Itoa(m.nextID)
			ids[key(c.Instance)] = id
			resp.IDChanges = append(resp.IDChanges, IDChange{Type: c.Instance.Type, OldID: c.Instance.ID, NewID: id})
			m.data.Add(c.Instance.Type, id, Properties{})
		case ValueChange:
			m.data.Add(c.Instance.Type, resolve(c.Instance), Properties{c.Property: c.NewValue})
		case ReferenceChange:
			val := json.RawMessage("null")
			var ref *InstanceRef
			if err := json.Unmarshal(c.NewValue, &ref); err == nil && ref != nil {
				b, _ := json.Marshal(resolve(*ref))
				val = b
			}
			m.data.Add(c.Instance.Type, resolve(c.Instance), Properties{c.Property: val})
		case ListChange:
			id := resolve(c.Instance)
			if len(c.NewValue) > 0 {
				m.data.Add(c.Instance.Type, id, Properties{c.Property: c.NewValue})
				continue
			}
			var cur ListValue
			if raw, ok := m.data[c.Instance.Type][id][c.Property]; ok {
				_ = json.Unmarshal(raw, &cur)
			}
			removed := map[string]bool{}
			for _, r := range c.Removed {
				removed[strings.ToLower(resolve(r))] = true
			}
			next := ListValue{Items: []Ref{}}
			for _, it := range cur.Items {
				if !removed[strings.ToLower(it.ID)] {
					next.Items = append(next.Items, it)
				}
			}
			for _, r := range c.Added {
				next.Items = append(next.Items, Ref{ID: resolve(r)})
			}
			b, _ := json.Marshal(next)
			m.data.Add(c.Instance.Type, id, Properties{c.Property: b})
		}
	}
	return resp, nil
}
