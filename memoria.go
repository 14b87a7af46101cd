// Package memoria re-exports internal/engine's facade so callers depend
// on a single stable import path rather than reaching into internal/.
package memoria

import (
	"context"

	"memoria/internal/causal"
	"memoria/internal/config"
	"memoria/internal/engine"
	"memoria/internal/entrystore"
	"memoria/internal/provenance"
	"memoria/internal/query"
)

// Engine is a provenance-tracked semantic memory engine instance.
type Engine = engine.Engine

// Config is the root configuration for an Engine.
type Config = config.Config

type (
	StoreParams = engine.StoreParams
	Entry       = entrystore.Entry
	Options     = query.Options
	Result      = query.Result
	ShadowResult = query.ShadowResult
	TraceNode   = provenance.TraceNode
	LinkParams  = causal.LinkParams
	Relation    = causal.Relation
	Direction   = causal.Direction
	RelationType = causal.RelationType
	Path        = causal.Path
	TraverseResult = causal.TraverseResult
	Stats       = engine.Stats
)

const (
	DirectionForward  = causal.DirectionForward
	DirectionBackward = causal.DirectionBackward
	DirectionBoth     = causal.DirectionBoth

	RelationCauses     = causal.RelationCauses
	RelationEnables    = causal.RelationEnables
	RelationPrevents   = causal.RelationPrevents
	RelationCorrelates = causal.RelationCorrelates
	RelationPrecedes   = causal.RelationPrecedes
	RelationTriggers   = causal.RelationTriggers
)

// DefaultConfig returns the documented configuration defaults.
func DefaultConfig() *Config { return config.DefaultConfig() }

// LoadConfig reads a YAML config file, merging it over DefaultConfig.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Open constructs every subsystem from cfg and acquires the data
// directory's exclusive lock.
func Open(ctx context.Context, cfg *Config) (*Engine, error) { return engine.Open(ctx, cfg) }
