package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSpanTags_AppliedToServiceSpans(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	ctx := WithSpanTags(context.Background(), map[string]string{SpanTagPropertyId: "12345"})
	ctx = WithSpanTags(ctx, map[string]string{SpanTagRunId: "run-1", SpanTagSubscriptionId: ""})

	span, ctx := opentracing.StartSpanFromContext(ctx, "Test.Op")
	SetDefaultServiceSpanTags(ctx, span)
	TraceErr(span, errors.New("boom"))
	span.Finish()

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 1)
	tags := finished[0].Tags()
	assert.Equal(t, "12345", tags[SpanTagPropertyId])
	assert.Equal(t, "run-1", tags[SpanTagRunId])
	assert.Equal(t, SpanTagComponentService, tags[SpanTagComponent])
	assert.NotContains(t, tags, SpanTagSubscriptionId)
	assert.Equal(t, true, tags["error"])
}
