package testenv

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/data"
	"github.com/localnerve/jam-build-entitygraph/internal/database"
	"github.com/localnerve/jam-build-entitygraph/internal/schema"
	"github.com/localnerve/jam-build-entitygraph/internal/services"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

func TestDBInitEnv(t *testing.T) {
	t.Setenv("DB_DATABASE", "graph")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_ROOT_PASSWORD", "root")

	assert.Equal(t, map[string]string{
		"POSTGRES_PASSWORD": "secret",
		"POSTGRES_USER":     "svc",
		"POSTGRES_DB":       "graph",
	}, dbInitEnv("postgres"))
	assert.Equal(t, "root", dbInitEnv("mariadb")["MYSQL_ROOT_PASSWORD"])
	assert.Equal(t, "graph", dbInitEnv("mysql")["MYSQL_DATABASE"])
}

func TestEnvironmentConfig(t *testing.T) {
	t.Setenv("DB_TYPE", "MariaDB")
	t.Setenv("DB_DATABASE", "graph")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_CONNECTION_LIMIT", "")

	env := &Environment{DBHost: "localhost", DBPort: "32768"}
	cfg := env.Config()
	assert.Equal(t, "mariadb", cfg.DBType)
	assert.Equal(t, "32768", cfg.DBPort)
	assert.Equal(t, 5, cfg.DBConnectionLimit)
	assert.False(t, cfg.AuthEnabled())
}

// TestEntityStore runs the entity service against a database container. It needs
// docker and the DB_* variables, e.g. DB_IMAGE=mariadb:11.
func TestEntityStore(t *testing.T) {
	if testing.Short() || os.Getenv("DB_IMAGE") == "" {
		t.Skip("DB_IMAGE not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	env, err := Start(ctx, t, Options{})
	require.NoError(t, err)
	t.Cleanup(env.Terminate)

	db, err := database.Connect(env.Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.AutoMigrate(db))

	s, err := schema.Parse(data.Schema)
	require.NoError(t, err)
	svc := services.NewEntityService(db, s)

	var seed transport.Instances
	require.NoError(t, json.Unmarshal(data.Seed, &seed))
	n, err := svc.Seed(seed)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	person1 := transport.InstanceRef{Type: "Person", ID: "1"}
	resp, err := svc.ApplyChanges("tester", &transport.SubmitRequest{
		Changes: []transport.Change{
			{Type: transport.ValueChange, Instance: person1, Property: "Name", OldValue: json.RawMessage(`"Ann"`), NewValue: json.RawMessage(`"Annie"`)},
		},
		Queries: []transport.ObjectQuery{{From: "Person", IDs: []string{"1"}}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"Annie"`, string(resp.Instances["Person"]["1"]["Name"]))

	_, err = svc.ApplyChanges("tester", &transport.SubmitRequest{Changes: []transport.Change{
		{Type: transport.ValueChange, Instance: person1, Property: "Name", OldValue: json.RawMessage(`"Ann"`), NewValue: json.RawMessage(`"Anne"`)},
	}})
	assert.ErrorIs(t, err, services.ErrVersion)

	sets, err := svc.History(0, 10)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "tester", sets[0].UserID)
}
