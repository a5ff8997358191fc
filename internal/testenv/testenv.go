// testenv.go
//
// Reference entity service for the jam-build entity graph
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of jam-build-entitygraph.
// jam-build-entitygraph is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// jam-build-entitygraph is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with jam-build-entitygraph.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

// Package testenv starts the containers the entity service runs against: a database,
// optionally the Authorizer, and optionally the service itself built from the
// Dockerfile. It reads its settings from the environment, usually loaded from a
// .env file.
package testenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/localnerve/jam-build-entitygraph/internal/config"
)

const (
	serviceImage        = "entitygraph-test:latest"
	authorizerAlias     = "authorizer"
	defaultBuildContext = "../.."
)

// Options select the containers to start besides the database.
type Options struct {
	Authorizer bool
	Service    bool
}

// Environment holds the started containers.
type Environment struct {
	Network             *testcontainers.DockerNetwork
	DBContainer         testcontainers.Container
	AuthorizerContainer testcontainers.Container
	ServiceContainer    testcontainers.Container
	BuilderContainer    testcontainers.Container

	// DBHost and DBPort reach the database from the host
	DBHost string
	DBPort string
	// AuthzURL and ServiceURL reach the containers from the host
	AuthzURL   string
	ServiceURL string

	t *testing.T
}

// Terminate stops every container and removes the network. t may be nil.
func (env *Environment) Terminate() {
	ctx := context.Background()
	for _, c := range []struct {
		name      string
		container testcontainers.Container
	}{
		{"entity service", env.ServiceContainer},
		{"entity service builder", env.BuilderContainer},
		{"Authorizer", env.AuthorizerContainer},
		{"database", env.DBContainer},
	} {
		if c.container == nil {
			continue
		}
		if err := c.container.Terminate(ctx); err != nil {
			logMessage(env.t, "Failed to terminate %s: %v", c.name, err)
		}
	}
	if env.Network != nil {
		if err := env.Network.Remove(ctx); err != nil {
			logMessage(env.t, "Failed to remove network: %v", err)
		}
	}
}

// Config returns the service configuration reaching the database container from
// the host.
func (env *Environment) Config() *config.Config {
	limit := 5
	if n, err := fmt.Sscan(os.Getenv("DB_CONNECTION_LIMIT"), &limit); n != 1 || err != nil {
		limit = 5
	}
	return &config.Config{
		Port:              os.Getenv("PORT"),
		DBType:            strings.ToLower(os.Getenv("DB_TYPE")),
		DBHost:            env.DBHost,
		DBPort:            env.DBPort,
		DBDatabase:        os.Getenv("DB_DATABASE"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBConnectionLimit: limit,
		AuthzURL:          env.AuthzURL,
		AuthzClientID:     os.Getenv("AUTHZ_CLIENT_ID"),
	}
}

// Start starts the database and the containers selected by opts. On failure the
// containers already started are terminated. t may be nil when run outside tests.
func Start(ctx context.Context, t *testing.T, opts Options) (*Environment, error) {
	env := &Environment{t: t}
	if err := env.start(ctx, opts); err != nil {
		env.Terminate()
		return nil, err
	}
	return env, nil
}

func (env *Environment) start(ctx context.Context, opts Options) error {
	nw, err := network.New(ctx)
	if err != nil {
		return fmt.Errorf("create network: %w", err)
	}
	env.Network = nw

	if err := env.startDB(ctx); err != nil {
		return err
	}
	if opts.Authorizer {
		if err := env.startAuthorizer(ctx); err != nil {
			return err
		}
	}
	if opts.Service {
		if err := env.startService(ctx, opts.Authorizer); err != nil {
			return err
		}
	}
	return nil
}

func (env *Environment) startDB(ctx context.Context) error {
	dbType := strings.ToLower(os.Getenv("DB_TYPE"))
	tcpDBPort, err := nat.NewPort("tcp", os.Getenv("DB_PORT"))
	if err != nil {
		return fmt.Errorf("create DB port: %w", err)
	}

	dbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        os.Getenv("DB_IMAGE"),
			ExposedPorts: []string{string(tcpDBPort)},
			Env:          dbInitEnv(dbType),
			WaitingFor:   wait.ForListeningPort(tcpDBPort).WithStartupTimeout(60 * time.Second),
			Networks:     []string{env.Network.Name},
			NetworkAliases: map[string][]string{
				env.Network.Name: {os.Getenv("DB_HOST")},
			},
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("start database: %w", err)
	}
	env.DBContainer = dbContainer

	host, err := dbContainer.Host(ctx)
	if err != nil {
		return err
	}
	port, err := dbContainer.MappedPort(ctx, tcpDBPort)
	if err != nil {
		return err
	}
	env.DBHost, env.DBPort = host, port.Port()

	switch dbType {
	case "mysql", "mariadb":
		if err := initMySQL(ctx, env.DBHost, env.DBPort); err != nil {
			return fmt.Errorf("initialize databases: %w", err)
		}
	}
	logMessage(env.t, "DB_HOST=%s DB_PORT=%s", env.DBHost, env.DBPort)
	return nil
}

func (env *Environment) startAuthorizer(ctx context.Context) error {
	tcpAuthzPort, err := nat.NewPort("tcp", os.Getenv("AUTHZ_PORT"))
	if err != nil {
		return fmt.Errorf("create Authorizer port: %w", err)
	}
	logLevel := "info"
	if os.Getenv("DEBUG_CONTAINER") == "true" {
		logLevel = "debug"
	}
	dbConnection := fmt.Sprintf("root:%s@tcp(%s:%s)/%s", os.Getenv("DB_ROOT_PASSWORD"), os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("AUTHZ_DATABASE"))

	authorizer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        os.Getenv("AUTHZ_IMAGE"),
			ExposedPorts: []string{string(tcpAuthzPort)},
			Env: map[string]string{
				"ENV":           "production",
				"CLIENT_ID":     os.Getenv("AUTHZ_CLIENT_ID"),
				"PORT":          os.Getenv("AUTHZ_PORT"),
				"DATABASE_TYPE": strings.ToLower(os.Getenv("DB_TYPE")),
				"DATABASE_NAME": os.Getenv("AUTHZ_DATABASE"),
				"DATABASE_URL":  dbConnection,
				"ADMIN_SECRET":  os.Getenv("AUTHZ_ADMIN_SECRET"),
				"ROLES":         "admin,user",
				"DEFAULT_ROLES": "user",
				"LOG_LEVEL":     logLevel,
			},
			WaitingFor: wait.ForLog("Authorizer running at PORT:").WithStartupTimeout(10 * time.Second),
			Networks:   []string{env.Network.Name},
			NetworkAliases: map[string][]string{
				env.Network.Name: {authorizerAlias},
			},
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("start Authorizer: %w", err)
	}
	env.AuthorizerContainer = authorizer

	host, _ := authorizer.Host(ctx)
	port, _ := authorizer.MappedPort(ctx, tcpAuthzPort)
	env.AuthzURL = fmt.Sprintf("http://%s:%s", host, port.Port())
	logMessage(env.t, "AUTHZ_URL=%s", env.AuthzURL)
	return nil
}

func (env *Environment) startService(ctx context.Context, withAuthorizer bool) error {
	debug := os.Getenv("DEBUG_CONTAINER") == "true"
	portNumber := os.Getenv("PORT")
	tcpPort, err := nat.NewPort("tcp", portNumber)
	if err != nil {
		return fmt.Errorf("create service port: %w", err)
	}

	exposed := []string{string(tcpPort)}
	if debug {
		exposed = append(exposed, "2345/tcp")
	}

	var waitStrategy wait.Strategy = wait.ForHTTP("/api/health").WithPort(tcpPort).WithStartupTimeout(30 * time.Second)
	if debug {
		waitStrategy = wait.ForLog("API server listening at: [::]:2345").WithStartupTimeout(5 * time.Minute)
	}

	serviceEnv := map[string]string{
		"DB_TYPE":             strings.ToLower(os.Getenv("DB_TYPE")),
		"DB_HOST":             os.Getenv("DB_HOST"),
		"DB_PORT":             os.Getenv("DB_PORT"),
		"DB_DATABASE":         os.Getenv("DB_DATABASE"),
		"DB_USER":             os.Getenv("DB_USER"),
		"DB_PASSWORD":         os.Getenv("DB_PASSWORD"),
		"DB_CONNECTION_LIMIT": os.Getenv("DB_CONNECTION_LIMIT"),
		"PORT":                portNumber,
	}
	if withAuthorizer {
		serviceEnv["AUTHZ_URL"] = fmt.Sprintf("http://%s:%s", authorizerAlias, os.Getenv("AUTHZ_PORT"))
		serviceEnv["AUTHZ_CLIENT_ID"] = os.Getenv("AUTHZ_CLIENT_ID")
	}

	req := testcontainers.ContainerRequest{
		ExposedPorts: exposed,
		Env:          serviceEnv,
		HostConfigModifier: func(hostConfig *container.HostConfig) {
			if debug {
				hostConfig.PortBindings = nat.PortMap{
					"2345/tcp": []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "2345"}},
				}
				hostConfig.CapAdd = []string{"SYS_PTRACE"}
				hostConfig.SecurityOpt = []string{"apparmor:unconfined"}
			}
		},
		WaitingFor: waitStrategy,
		Networks:   []string{env.Network.Name},
	}
	if debug {
		req.Entrypoint = []string{
			"/usr/local/bin/dlv", "--listen=:2345", "--headless=true",
			"--api-version=2", "--accept-multiclient", "exec", "./entitygraph",
		}
	}

	exists, err := imageExists(ctx, serviceImage)
	if err != nil {
		return fmt.Errorf("check image %s: %w", serviceImage, err)
	}
	if exists {
		logMessage(env.t, "Image %s exists, reusing...", serviceImage)
		req.Image = serviceImage
	} else if err := env.buildService(ctx, &req, debug); err != nil {
		return err
	}

	service, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("start entity service: %w", err)
	}
	env.ServiceContainer = service

	host, _ := service.Host(ctx)
	port, _ := service.MappedPort(ctx, tcpPort)
	env.ServiceURL = fmt.Sprintf("http://%s:%s", host, port.Port())
	logMessage(env.t, "ENTITYGRAPH_URL=%s", env.ServiceURL)
	return nil
}

// buildService builds the builder stage, then sets req to build and keep the
// runtime image.
func (env *Environment) buildService(ctx context.Context, req *testcontainers.ContainerRequest, debug bool) error {
	sessionID := uuid.New().String()
	buildArgs := map[string]*string{"RESOURCE_REAPER_SESSION_ID": &sessionID}
	if debug {
		flag := "true"
		buildArgs["DEBUG"] = &flag
	}
	buildContext := os.Getenv("TESTCONTAINERS_BUILD_CONTEXT")
	if buildContext == "" {
		buildContext = defaultBuildContext
	}

	logMessage(env.t, "Image %s does not exist, building...", serviceImage)
	builder, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:    buildContext,
				Dockerfile: "Dockerfile",
				Repo:       "entitygraph-test-builder",
				Tag:        "latest",
				BuildArgs:  buildArgs,
				BuildOptionsModifier: func(opts *build.ImageBuildOptions) {
					opts.Target = "builder"
				},
				PrintBuildLog: true,
			},
		},
		Started: false,
	})
	if err != nil {
		return fmt.Errorf("build entitygraph-test-builder: %w", err)
	}
	env.BuilderContainer = builder

	repo, tag, _ := strings.Cut(serviceImage, ":")
	req.FromDockerfile = testcontainers.FromDockerfile{
		Context:    buildContext,
		Dockerfile: "Dockerfile",
		Repo:       repo,
		Tag:        tag,
		KeepImage:  true,
		BuildArgs:  buildArgs,
		BuildOptionsModifier: func(opts *build.ImageBuildOptions) {
			opts.Target = "runtime"
		},
		PrintBuildLog: true,
	}
	return nil
}

func dbInitEnv(dbType string) map[string]string {
	switch dbType {
	case "postgres":
		return map[string]string{
			"POSTGRES_PASSWORD": os.Getenv("DB_PASSWORD"),
			"POSTGRES_USER":     os.Getenv("DB_USER"),
			"POSTGRES_DB":       os.Getenv("DB_DATABASE"),
		}
	case "sqlserver":
		return map[string]string{
			"ACCEPT_EULA":       "Y",
			"MSSQL_SA_PASSWORD": os.Getenv("DB_PASSWORD"),
		}
	}
	return map[string]string{
		"MYSQL_ROOT_PASSWORD": os.Getenv("DB_ROOT_PASSWORD"),
		"MYSQL_DATABASE":      os.Getenv("DB_DATABASE"),
		"MYSQL_USER":          os.Getenv("DB_USER"),
		"MYSQL_PASSWORD":      os.Getenv("DB_PASSWORD"),
	}
}

func imageExists(ctx context.Context, imageName string) (bool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false, err
	}
	defer cli.Close()

	images, err := cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return true, nil
			}
		}
	}
	return false, nil
}

func logMessage(t *testing.T, format string, args ...any) {
	if t != nil {
		t.Logf(format, args...)
	} else {
		fmt.Printf(format+"\n", args...)
	}
}
