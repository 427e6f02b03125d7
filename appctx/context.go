// Package appctx holds the request-scoped values shared by config, utils and the
// HTTP layer. It has no dependencies so every package can import it.
package appctx

import "context"

type key int

const (
	actorKey key = iota
	tokenKey
	correlationKey
)

// Actor is who a request or background job acts as. History rows, uploads and
// events are attributed to it.
type Actor struct {
	ID       int
	Username string
	Name     string
	Role     string
}

// System is the actor of consumers, dispatchers and CLI jobs.
var System = Actor{Name: "System"}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

func Token(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	return v, ok
}

func WithCorrelationId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func CorrelationId(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationKey).(string)
	return v, ok && v != ""
}
