package services

import (
	"context"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type actorKey struct{}

func WithActor(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(types.Actor)
	return a, ok
}

func actorID(ctx context.Context) string {
	if a, ok := ActorFromContext(ctx); ok && strings.TrimSpace(a.ID) != "" {
		return strings.TrimSpace(a.ID)
	}
	return "system"
}
