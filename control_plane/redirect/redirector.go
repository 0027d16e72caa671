// Package redirect makes cluster queries location transparent.
//
// Each application's worker directory lives only on the node its workers
// heartbeat to. Do answers a query locally when this node owns the application
// and otherwise forwards it to the owner, surfacing timeouts and unreachable
// owners as errors instead of answering from a possibly empty local holder.
package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itskum47/FleetForge/control_plane/observability"
)

// DefaultTimeout bounds a single forward.
const DefaultTimeout = 3 * time.Second

// OwnerResolver names the node authoritative for an application.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, appID int64) (string, error)
}

// RemoteCaller runs a query on another node and returns its raw result.
type RemoteCaller interface {
	CallRemote(ctx context.Context, nodeID string, q Query) (json.RawMessage, error)
}

// Redirector routes queries between this node and the owning node.
type Redirector struct {
	Self     string
	Resolver OwnerResolver
	Caller   RemoteCaller
	Timeout  time.Duration

	breakerThreshold int
	breakerCooldown  time.Duration
	breakers         sync.Map // node -> *Breaker
}

// Option configures a Redirector.
type Option func(*Redirector)

// WithTimeout sets the forward timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Redirector) {
		if d > 0 {
			r.Timeout = d
		}
	}
}

// WithBreaker sets the per-node failure threshold and open cooldown.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(r *Redirector) {
		r.breakerThreshold = threshold
		r.breakerCooldown = cooldown
	}
}

// New creates a Redirector. A nil resolver makes every query local.
func New(self string, resolver OwnerResolver, caller RemoteCaller, opts ...Option) *Redirector {
	r := &Redirector{
		Self:             self,
		Resolver:         resolver,
		Caller:           caller,
		Timeout:          DefaultTimeout,
		breakerThreshold: 5,
		breakerCooldown:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the breaker guarding forwards to node.
func (r *Redirector) Breaker(node string) *Breaker {
	if b, ok := r.breakers.Load(node); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(node, NewBreaker(node, r.breakerThreshold, r.breakerCooldown))
	return b.(*Breaker)
}

// RedirectDecision is the structured log record of one routed query.
type RedirectDecision struct {
	Component  string   `json:"component"`
	Op         Op       `json:"op"`
	AppID      int64    `json:"app_id"`
	Route      string   `json:"route"`
	State      string   `json:"state"`
	Path       []string `json:"path"`
	Node       string   `json:"node,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// Do answers q through local when this node owns q.AppID, and otherwise
// forwards q to the owner and decodes the answer into T. There is no local
// fallback and no retry.
func Do[T any](ctx context.Context, r *Redirector, q Query, local func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	owner, err := r.resolve(ctx, q.AppID)
	if err != nil {
		err = &Error{Kind: ErrUnreachable, AppID: q.AppID, Cause: err}
		r.finish(q, RouteForwarded, "", StateFailed, reason(err), start)
		return zero, err
	}

	// Received -> LocalAuthoritative
	if owner == r.Self {
		out, err := local(ctx)
		if err != nil {
			r.finish(q, RouteLocal, owner, StateFailed, reason(err), start)
			return zero, err
		}
		r.finish(q, RouteLocal, owner, StateAnswered, "", start)
		return out, nil
	}

	// Received -> Forwarded
	raw, err := r.forward(ctx, owner, q)
	if err != nil {
		r.finish(q, RouteForwarded, owner, StateFailed, reason(err), start)
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		err = &Error{Kind: ErrRemote, AppID: q.AppID, Node: owner, Cause: fmt.Errorf("decode answer: %w", err)}
		r.finish(q, RouteForwarded, owner, StateFailed, reason(err), start)
		return zero, err
	}
	r.finish(q, RouteForwarded, owner, StateAnswered, "", start)
	return out, nil
}

func (r *Redirector) resolve(ctx context.Context, appID int64) (string, error) {
	if r.Resolver == nil {
		return r.Self, nil
	}
	owner, err := r.Resolver.ResolveOwner(ctx, appID)
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", ErrNoOwner
	}
	return owner, nil
}

func (r *Redirector) forward(ctx context.Context, node string, q Query) (json.RawMessage, error) {
	if r.Caller == nil {
		return nil, &Error{Kind: ErrUnreachable, AppID: q.AppID, Node: node, Cause: errors.New("no remote caller configured")}
	}

	breaker := r.Breaker(node)
	if !breaker.Allow() {
		return nil, &Error{Kind: ErrUnreachable, AppID: q.AppID, Node: node, Cause: errors.New("circuit open")}
	}

	fctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	raw, err := r.Caller.CallRemote(fctx, node, q)
	if err == nil {
		breaker.RecordSuccess()
		return raw, nil
	}

	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		// The node is up and answered; its failure is not a transport problem.
		breaker.RecordSuccess()
		return nil, &Error{Kind: ErrRemote, AppID: q.AppID, Node: node, Cause: err}
	case errors.Is(ctx.Err(), context.Canceled):
		// Caller went away; says nothing about the node.
		breaker.Abandon()
		return nil, &Error{Kind: ErrUnreachable, AppID: q.AppID, Node: node, Cause: ctx.Err()}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded):
		breaker.RecordFailure()
		return nil, &Error{Kind: ErrTimeout, AppID: q.AppID, Node: node, Cause: err}
	default:
		breaker.RecordFailure()
		return nil, &Error{Kind: ErrUnreachable, AppID: q.AppID, Node: node, Cause: err}
	}
}

func (r *Redirector) finish(q Query, route, node string, state State, why string, start time.Time) {
	elapsed := time.Since(start)
	observability.QueryDuration.WithLabelValues(string(q.Op), route).Observe(elapsed.Seconds())
	logDecision(RedirectDecision{
		Component:  "redirect",
		Op:         q.Op,
		AppID:      q.AppID,
		Route:      route,
		State:      state.String(),
		Path:       lifecycle(route, node, state),
		Node:       node,
		Reason:     why,
		DurationMS: elapsed.Milliseconds(),
	})
}

// lifecycle spells out the states a query passed through. Queries that failed
// before an owner was known skip the routing state.
func lifecycle(route, node string, terminal State) []string {
	path := []string{StateReceived.String()}
	switch {
	case route == RouteLocal:
		path = append(path, StateLocalAuthoritative.String())
	case node != "":
		path = append(path, StateForwarded.String())
	}
	return append(path, terminal.String())
}

func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoOwner):
		return "no_owner"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	default:
		return "local_error"
	}
}

func logDecision(d RedirectDecision) {
	bytes, _ := json.Marshal(d)
	log.Println(string(bytes))

	observability.RedirectOutcomes.WithLabelValues(string(d.Op), d.Route, d.State, d.Reason).Inc()
}
