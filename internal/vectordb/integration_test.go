//go:build integration

package vectordb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer runs image for the lifetime of the test and returns the
// container with its reachable host.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) (testcontainers.Container, string) {
	t.Helper()
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start %s", req.Image)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	// testcontainers may report "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	return c, host
}

func TestPGVectorStore_Contract(t *testing.T) {
	c, host := startContainer(t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ragindex",
			"POSTGRES_PASSWORD": "ragindex",
			"POSTGRES_DB":       "ragindex",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	})
	port, err := c.MappedPort(context.Background(), "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://ragindex:ragindex@%s:%s/ragindex?sslmode=disable", host, port.Port())

	s := NewPGVectorStore(PGVectorConfig{DSN: dsn, MaxConns: 4}, WithLogger(quietLogger()), WithIndexThreshold(3))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })

	runStoreContract(t, func(*testing.T) Store { return s })

	t.Run("hnsw index follows the threshold", func(t *testing.T) {
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		_, err = s.UpsertBatch(ctx, name, testBatch(4, 1), 2)
		require.NoError(t, err)

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		require.True(t, info.Indexed)

		require.NoError(t, s.DropIndex(ctx, name))
		info, err = s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		require.False(t, info.Indexed)

		built, err := s.ResetIndex(ctx, name)
		require.NoError(t, err)
		require.True(t, built)
	})

	t.Run("failed sub-batch commits nothing", func(t *testing.T) {
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)

		b := testBatch(4, 1)
		// Functions cannot be encoded, so the second sub-batch fails.
		b.Metadata[3] = map[string]any{"bad": func() {}}
		ok, err := s.UpsertBatch(ctx, name, b, 2)
		require.Error(t, err)
		require.False(t, ok)

		var n int
		require.NoError(t, s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(pgTableName(name))).Scan(&n))
		require.Zero(t, n, "the first sub-batch must roll back with the second")

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		require.False(t, info.Indexed)
	})
}

func TestQdrantStore_Contract(t *testing.T) {
	c, host := startContainer(t, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.16.2",
		ExposedPorts: []string{"6333/tcp", "6334/tcp"},
		WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
	})
	port, err := c.MappedPort(context.Background(), "6334")
	require.NoError(t, err)

	s := NewQdrantStore(QdrantConfig{Host: host, Port: port.Int()}, WithLogger(quietLogger()))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })

	runStoreContract(t, func(*testing.T) Store { return s })
}
