package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/rtree"
)

// TestNewServerWiresTreeAndConfig covers server construction only. The full
// StartServer path blocks on http.ListenAndServe, so an integration test
// would need to run it in a goroutine and hit the endpoints over HTTP;
// handlers_test.go exercises the handlers directly instead.
func TestNewServerWiresTreeAndConfig(t *testing.T) {
	tr, err := rtree.Create(bytesource.NewMemorySource(), rtree.Options{})
	require.NoError(t, err)

	config := ServerConfig{Port: 0, APIKey: "test-key", DataDir: "/tmp/rtbtree-test"}

	server := NewServer(tr, config, sharedTestMetrics())

	require.NotNil(t, server)
	require.Same(t, tr, server.tree)
	require.Equal(t, "test-key", server.config.APIKey)
}
