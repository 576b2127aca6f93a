package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t)
	peek := f.backends[4]
	require.Equal(t, "cluster-localpeek", peek.Name())
	_, err := Run(context.Background(), peek, &Query{Ranges: fixtureRanges, Types: fixtureTypes}, &countJob{})
	require.NoError(t, err)

	var run sdktrace.ReadOnlySpan
	jobs := 0
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "backend.run":
			run = s
		case "cluster.job":
			jobs++
		}
	}
	require.NotNil(t, run)
	assert.Equal(t, 3, jobs)
	for _, s := range recorder.Ended() {
		if s.Name() == "cluster.job" {
			assert.Equal(t, run.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
}
