package apistorev1

import (
	"context"

	"github.com/fulldump/qmapdb/service"
)

const ContextServicerKey = "7c1e5f0a-2b8d-4f67-9d0e-3a51c2b9e114"

func SetServicer(ctx context.Context, s service.Servicer) context.Context {
	return context.WithValue(ctx, ContextServicerKey, s)
}

func GetServicer(ctx context.Context) service.Servicer {
	return ctx.Value(ContextServicerKey).(service.Servicer)
}
