// main.go
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

package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/localnerve/jam-build-entitygraph/data"
	"github.com/localnerve/jam-build-entitygraph/internal/config"
	"github.com/localnerve/jam-build-entitygraph/internal/database"
	"github.com/localnerve/jam-build-entitygraph/internal/schema"
	"github.com/localnerve/jam-build-entitygraph/internal/server"
	"github.com/localnerve/jam-build-entitygraph/internal/services"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// @title Entity Graph API
// @version 1.0.0
// @description Reference entity service for the jam-build entity graph
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/localnerve/jam-build-entitygraph
// @contact.email info@localnerve.com

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name cookie_session

func main() {
	var envFilename string
	flag.StringVar(&envFilename, "f", "", "path to a .env file")
	flag.Parse()

	if err := config.LoadEnvFile(envFilename); err != nil {
		log.Fatalf("Failed to load environment variables: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	s, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		log.Fatalf("Failed to load schema: %v", err)
	}
	log.Printf("Serving %d types", len(s.Types))

	svc := services.NewEntityService(db, s)
	if err := seed(svc, cfg.SeedData); err != nil {
		log.Fatalf("Failed to seed entities: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app := server.New(cfg, svc, reg, server.Options{})

	if cfg.AuthEnabled() {
		log.Printf("Authorizer will be initialized on first change submission")
	} else {
		log.Printf("AUTHZ_URL not set, change submission is not authenticated")
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	// Start server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Parse(data.Schema)
	}
	return schema.Load(path)
}

// seed stores the seed instances when the store is empty. "none" skips seeding.
func seed(svc *services.EntityService, path string) error {
	doc := data.Seed
	switch path {
	case "none":
		return nil
	case "":
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc = b
	}

	var instances transport.Instances
	if err := json.Unmarshal(doc, &instances); err != nil {
		return err
	}
	n, err := svc.Seed(instances)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Seeded %d entities", n)
	}
	return nil
}
