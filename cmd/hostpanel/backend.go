package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/loykin/hostpanel"
	"github.com/loykin/hostpanel/pkg/client"
)

// backend is what the commands drive: a remote panel or an in-process App.
type backend interface {
	Create(ctx context.Context, req client.CreateRequest) (client.ActionResult, error)
	Poll(ctx context.Context, id string, offset int64) (client.JobStatus, error)
	Wait(ctx context.Context, id string, opts client.WaitOptions) (client.JobStatus, error)
	Delete(ctx context.Context, name string) (client.ActionResult, error)
	Lifecycle(ctx context.Context, action, name string) (client.ActionResult, error)
	Hosts(ctx context.Context) (any, error)
	DeleteCheck(ctx context.Context, name string) (any, error)
	Jobs(ctx context.Context) (any, error)
	Audit(ctx context.Context, limit int) (any, error)
	Zone(ctx context.Context) (any, error)
	Close() error
}

type remoteBackend struct {
	c *client.Client
}

func newRemote(f *GlobalFlags) *remoteBackend {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = f.APIUrl
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.Insecure = f.Insecure
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	return &remoteBackend{c: client.New(cfg)}
}

func (r *remoteBackend) Create(ctx context.Context, req client.CreateRequest) (client.ActionResult, error) {
	return r.c.CreateHost(ctx, req)
}

func (r *remoteBackend) Poll(ctx context.Context, id string, offset int64) (client.JobStatus, error) {
	return r.c.PollJob(ctx, id, offset)
}

func (r *remoteBackend) Wait(ctx context.Context, id string, opts client.WaitOptions) (client.JobStatus, error) {
	return r.c.WaitJob(ctx, id, opts)
}

func (r *remoteBackend) Delete(ctx context.Context, name string) (client.ActionResult, error) {
	return r.c.DeleteHost(ctx, name)
}

func (r *remoteBackend) Lifecycle(ctx context.Context, action, name string) (client.ActionResult, error) {
	return r.c.Lifecycle(ctx, action, name)
}

func (r *remoteBackend) Hosts(ctx context.Context) (any, error) { return r.c.Hosts(ctx) }

func (r *remoteBackend) DeleteCheck(ctx context.Context, name string) (any, error) {
	return r.c.DeleteCheck(ctx, name)
}

func (r *remoteBackend) Jobs(ctx context.Context) (any, error) { return r.c.Jobs(ctx) }

func (r *remoteBackend) Audit(ctx context.Context, limit int) (any, error) {
	return r.c.Audit(ctx, limit)
}

func (r *remoteBackend) Zone(ctx context.Context) (any, error) { return r.c.Zone(ctx) }

func (r *remoteBackend) Close() error { return nil }

// localBackend runs actions in-process. Its results go through the same
// JSON shape the API serves so both backends print identically.
type localBackend struct {
	app *hostpanel.App
}

func newLocal(configPath string) (*localBackend, error) {
	cfg, err := hostpanel.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	app, err := hostpanel.New(cfg)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: app}, nil
}

func (l *localBackend) Create(ctx context.Context, req client.CreateRequest) (client.ActionResult, error) {
	res, err := l.app.Manager().Create(ctx, hostpanel.CreateRequest(req))
	if err != nil {
		return client.ActionResult{}, err
	}
	return reshape[client.ActionResult](res)
}

func (l *localBackend) Poll(ctx context.Context, id string, offset int64) (client.JobStatus, error) {
	return reshape[client.JobStatus](l.app.Manager().Poll(ctx, id, offset))
}

func (l *localBackend) Wait(ctx context.Context, id string, opts client.WaitOptions) (client.JobStatus, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = client.DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = client.DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var offset int64
	for {
		st, err := l.Poll(ctx, id, offset)
		if err != nil {
			return st, err
		}
		if st.Chunk != "" && opts.OnChunk != nil {
			opts.OnChunk(st.Chunk)
		}
		offset = st.Offset
		if st.Done() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return st, client.ErrWaitTimeout
			}
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (l *localBackend) Delete(ctx context.Context, name string) (client.ActionResult, error) {
	res, err := l.app.Manager().Delete(ctx, name)
	if err != nil {
		return client.ActionResult{}, err
	}
	return reshape[client.ActionResult](res)
}

func (l *localBackend) Lifecycle(ctx context.Context, action, name string) (client.ActionResult, error) {
	res, err := l.app.Manager().Lifecycle(ctx, action, name)
	if err != nil {
		return client.ActionResult{}, err
	}
	return reshape[client.ActionResult](res)
}

func (l *localBackend) Hosts(context.Context) (any, error) { return l.app.Manager().Hosts(), nil }

func (l *localBackend) DeleteCheck(_ context.Context, name string) (any, error) {
	return l.app.Manager().CheckDelete(name)
}

func (l *localBackend) Jobs(ctx context.Context) (any, error) { return l.app.Manager().Jobs(ctx) }

func (l *localBackend) Audit(_ context.Context, limit int) (any, error) {
	return l.app.Manager().AuditTail(limit)
}

func (l *localBackend) Zone(context.Context) (any, error) { return l.app.Manager().ZoneInfo(), nil }

func (l *localBackend) Close() error { return l.app.Close() }

func reshape[T any](v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}
