// Package db provides the embedded DDL for both api_keys table layouts.
package db

import _ "embed"

// Slim creates the original api_keys layout: name, key, type, usage.
//
//go:embed migrations/slim.sql
var Slim string

// Rich creates the extended api_keys layout with permissions, usage limits,
// description and timestamps.
//
//go:embed migrations/rich.sql
var Rich string
