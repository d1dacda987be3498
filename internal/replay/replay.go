package replay

import (
	"context"
	"fmt"

	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/snapshot"
)

// Registry is the part of the result set registry replay needs.
type Registry interface {
	Create(ctx context.Context, s snapshot.Snapshot) (string, error)
	Lookup(ctx context.Context, id string) (snapshot.Snapshot, error)
}

// Executor runs a query and returns its encoded result.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

type ExecutorFunc func(ctx context.Context, req Request) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (any, error) { return f(ctx, req) }

// Response pairs an executor result with the id that pages through it.
type Response struct {
	ResultSetID string `json:"resultSetID"`
	Window      Window `json:"window"`
	Data        any    `json:"data"`
}

type Replayer struct {
	Registry Registry
	Executor Executor
}

// Handle routes req: with a result set id it is a page query, otherwise a
// first query.
func (p *Replayer) Handle(ctx context.Context, req Request) (Response, error) {
	w, err := req.Window()
	if err != nil {
		return Response{}, err
	}
	if id, ok := req.ResultSetID(); ok {
		return p.Page(ctx, id, w)
	}
	return p.First(ctx, req)
}

// First registers req and executes it as received.
func (p *Replayer) First(ctx context.Context, req Request) (Response, error) {
	w, err := req.Window()
	if err != nil {
		return Response{}, err
	}
	id, err := p.Registry.Create(ctx, Capture(req))
	if err != nil {
		return Response{}, err
	}
	req.DeleteParameter(KeyResultSetID)
	data, err := p.execute(ctx, req)
	if err != nil {
		return Response{}, err
	}
	return Response{ResultSetID: id, Window: w, Data: data}, nil
}

// Page refreshes id, rebuilds the original request and executes it with w.
func (p *Replayer) Page(ctx context.Context, id string, w Window) (Response, error) {
	if w.StartIndex < 0 || w.Count < 0 {
		return Response{}, fmt.Errorf("%w: negative window %+v", errdefs.ErrInvalid, w)
	}
	s, err := p.Registry.Lookup(ctx, id)
	if err != nil {
		return Response{}, err
	}
	req := FromSnapshot(s)
	req.SetWindow(w)
	if merged, err := req.Window(); err == nil {
		w = merged
	}
	data, err := p.execute(ctx, req)
	if err != nil {
		return Response{}, err
	}
	return Response{ResultSetID: id, Window: w, Data: data}, nil
}

func (p *Replayer) execute(ctx context.Context, req Request) (any, error) {
	if p.Executor == nil {
		return nil, nil
	}
	return p.Executor.Execute(ctx, req)
}
