package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.ErrorIs(t, err, ErrServiceName)
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "counterd", Environment: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "counterd", ServiceVersion: "1.0.0", Environment: "test"})
	require.Len(t, attrs, 3)
	require.Equal(t, "counterd", attrs[0].Value.AsString())
}
