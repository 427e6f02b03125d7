package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/adops_backend/appctx"
)

func SetActorInContext(ctx context.Context, actor appctx.Actor) context.Context {
	return appctx.WithActor(ctx, actor)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.WithToken(ctx, token)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.WithCorrelationId(ctx, correlationId)
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.Token(ctx)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.CorrelationId(ctx)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	a, ok := appctx.ActorFrom(ctx)
	return a.ID, ok
}

// GetUsernameFromContext returns the login name; GetUserNameFromContext the display name.
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	a, ok := appctx.ActorFrom(ctx)
	return a.Username, ok && a.Username != ""
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	a, ok := appctx.ActorFrom(ctx)
	return a.Name, ok && a.Name != ""
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	a, ok := appctx.ActorFrom(ctx)
	return a.Role, ok && a.Role != ""
}
