package transport

import (
	"context"
)

// Transport is the request/response layer between the graph and an entity service.
// Implementations must be safe for concurrent use.
type Transport interface {
	Query(ctx context.Context, req *QueryRequest) (*Response, error)
	List(ctx context.Context, req *ListRequest) (*Response, error)
	Types(ctx context.Context, req *TypesRequest) (*TypesResponse, error)
	Submit(ctx context.Context, req *SubmitRequest) (*Response, error)
}

// Observer receives one call per transport request. The metrics package implements it.
type Observer interface {
	ObserveRequest(operation string, err error)
}

// Observed wraps t so every request is reported to o.
func Observed(t Transport, o Observer) Transport {
	if o == nil {
		return t
	}
	return &observed{next: t, o: o}
}

type observed struct {
	next Transport
	o    Observer
}

func (t *observed) Query(ctx context.Context, req *QueryRequest) (*Response, error) {
	resp, err := t.next.Query(ctx, req)
	t.o.ObserveRequest("query", err)
	return resp, err
}

func (t *observed) List(ctx context.Context, req *ListRequest) (*Response, error) {
	resp, err := t.next.List(ctx, req)
	t.o.ObserveRequest("list", err)
	return resp, err
}

func (t *observed) Types(ctx context.Context, req *TypesRequest) (*TypesResponse, error) {
	resp, err := t.next.Types(ctx, req)
	t.o.ObserveRequest("types", err)
	return resp, err
}

func (t *observed) Submit(ctx context.Context, req *SubmitRequest) (*Response, error) {
	resp, err := t.next.Submit(ctx, req)
	t.o.ObserveRequest("submit", err)
	return resp, err
}
