package data

import (
	_ "embed"
)

// Schema is the default model schema of the entity service.
//
//go:embed schema.yaml
var Schema []byte

// Seed holds the instances loaded into an empty store.
//
//go:embed seed.json
var Seed []byte
