package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/localnerve/jam-build-entitygraph/internal/config"
	"github.com/localnerve/jam-build-entitygraph/internal/testenv"
)

func main() {
	var showHelp bool
	flag.BoolVar(&showHelp, "h", false, "show help")
	var envFilename string
	flag.StringVar(&envFilename, "f", "", "path to the .env file")
	var dbOnly bool
	flag.BoolVar(&dbOnly, "db-only", false, "start only the database")
	flag.Parse()

	usage := `
Run the entity service testcontainers with the environment variables from the .env file.

Usage:

testcontainers [-h] [-db-only] [-f ENV_FILE_PATH]

ENV_FILE_PATH: path to the .env file

example
  testcontainers -f /path/to/something/.env
`
	// if -h flag print usage and return
	if showHelp {
		fmt.Println(usage)
		return
	}

	if envFilename != "" {
		log.Printf("Loading environment variables from %s\n", envFilename)
	} else {
		log.Printf("No environment file specified, using current environment variables\n")
	}
	if err := config.LoadEnvFile(envFilename); err != nil {
		log.Fatalf("Failed to load environment variables: %v\n", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	opts := testenv.Options{Service: !dbOnly, Authorizer: !dbOnly && os.Getenv("AUTHZ_IMAGE") != ""}
	started := make(chan *testenv.Environment, 1)
	go func() {
		env, err := testenv.Start(context.Background(), nil, opts)
		if err != nil {
			log.Fatalf("Failed to create test containers: %v\n", err)
		}
		log.Printf("Test containers running, interrupt to terminate")
		started <- env
	}()

	sig := <-sigs
	log.Printf("\nReceived signal: %v, terminating test containers...\n", sig)
	select {
	case env := <-started:
		env.Terminate()
	default:
	}
}
