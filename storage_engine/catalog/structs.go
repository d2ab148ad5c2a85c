package catalog

import (
	"log/slog"
	"sync"
)

// IndexDef is the persisted description of one index: its declaration plus
// the state of its tree at the last save.
type IndexDef struct {
	Name            string   `json:"name"`
	KeyType         string   `json:"key_type"`
	Components      []string `json:"components,omitempty"`
	Unique          bool     `json:"unique"`
	CaseInsensitive bool     `json:"case_insensitive,omitempty"`

	Root    int64  `json:"root"`
	Height  int    `json:"height"`
	Count   uint64 `json:"count"`
	NextKey int64  `json:"next_key,omitempty"`
}

type document struct {
	Version int        `json:"version"`
	Indexes []IndexDef `json:"indexes"`
}

const catalogVersion = 1

type CatalogManager struct {
	defs    map[string]IndexDef
	changed bool
	log     *slog.Logger
	mu      sync.RWMutex
}
