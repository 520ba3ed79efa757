package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/leads_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyTriggerSource = appctx.ContextKeyTriggerSource
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetTriggerSourceFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTriggerSource)
}

func SetTriggerSourceInContext(ctx context.Context, source string) context.Context {
	return appctx.Set(ctx, ContextKeyTriggerSource, source)
}
