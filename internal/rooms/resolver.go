// Package rooms resolves per-room configuration: a public tree declaring
// which sede/sala rooms exist, deep-merged with a secrets tree that
// carries device credentials. The merged snapshot is cached briefly and
// invalidated after administrative writes.
package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// Warning codes emitted by Snapshot.
const (
	WarnMissingSecrets        = "missing-secrets"
	WarnSecretsExtra          = "secrets-extra"
	WarnDuplicateEndpoint     = "duplicate-endpoint"
	WarnDuplicateStreamSource = "duplicate-stream-source"
)

// DefaultTTL is how long a built snapshot is served from cache.
const DefaultTTL = 60 * time.Second

// RoomEntry is one room in a snapshot listing.
type RoomEntry struct {
	ID         string                 `json:"id"`
	Sede       string                 `json:"sede"`
	Sala       string                 `json:"sala"`
	HasSecrets bool                   `json:"hasSecrets"`
	Config     map[string]interface{} `json:"config"`
}

// Warning flags a suspicious configuration without failing the snapshot.
type Warning struct {
	Code    string   `json:"code"`
	ID      string   `json:"id,omitempty"`
	Value   string   `json:"value,omitempty"`
	IDs     []string `json:"ids,omitempty"`
	Message string   `json:"message"`
}

// Counts summarizes a snapshot.
type Counts struct {
	TotalSedes             int    `json:"totalSedes"`
	TotalSalas             int    `json:"totalSalas"`
	WithSecrets            int    `json:"withSecrets"`
	MissingSecrets         int    `json:"missingSecrets"`
	DuplicateEndpoints     int    `json:"duplicateEndpoints"`
	DuplicateStreamSources int    `json:"duplicateStreamSources"`
	Source                 string `json:"source"`
}

// Snapshot is the merged view of room configuration at one instant.
type Snapshot struct {
	Warnings   []Warning
	Counts     Counts
	PublicList []RoomEntry
	FullList   []RoomEntry

	fullByID map[string]map[string]interface{}
}

// Room returns the merged (secrets included) config for sede/sala.
func (s *Snapshot) Room(sede, sala string) (map[string]interface{}, bool) {
	cfg, ok := s.fullByID[sede+"/"+sala]
	return cfg, ok
}

// Resolver builds and caches snapshots.
type Resolver struct {
	publicPath  string
	secretsPath string
	directory   *Directory
	ttl         time.Duration
	logger      logging.Logger

	mu       sync.RWMutex
	cached   *Snapshot
	cachedAt time.Time
}

// NewResolver creates a resolver over the JSON config files.
func NewResolver(publicPath, secretsPath string, logger logging.Logger) *Resolver {
	return &Resolver{
		publicPath:  publicPath,
		secretsPath: secretsPath,
		ttl:         DefaultTTL,
		logger:      logger,
	}
}

// WithDirectory attaches a database room directory; when present it
// supplies the public tree and the JSON file becomes a fallback.
func (r *Resolver) WithDirectory(d *Directory) *Resolver {
	r.directory = d
	return r
}

// WithTTL overrides the snapshot cache TTL.
func (r *Resolver) WithTTL(ttl time.Duration) *Resolver {
	r.ttl = ttl
	return r
}

// Snapshot returns the current merged configuration, served from cache
// within the TTL.
func (r *Resolver) Snapshot() (*Snapshot, error) {
	r.mu.RLock()
	if r.cached != nil && time.Since(r.cachedAt) < r.ttl {
		snap := r.cached
		r.mu.RUnlock()
		return snap, nil
	}
	r.mu.RUnlock()

	snap, err := r.build()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cached = snap
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read rebuilds it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.cachedAt = time.Time{}
	r.mu.Unlock()
	if r.directory != nil {
		r.directory.Invalidate()
	}
}

func (r *Resolver) build() (*Snapshot, error) {
	source := "json"
	var publicTree map[string]interface{}

	if r.directory != nil {
		tree, err := r.directory.Load()
		if err != nil {
			r.logger.WithError(err).Warn("Room directory unavailable, falling back to JSON config")
		} else {
			publicTree = tree
			source = "db"
		}
	}
	if publicTree == nil {
		tree, err := loadTree(r.publicPath, false)
		if err != nil {
			return nil, err
		}
		publicTree = tree
	}

	secretsTree, err := loadTree(r.secretsPath, true)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{fullByID: make(map[string]map[string]interface{})}
	snap.Counts.Source = source

	seen := make(map[string]bool)
	sedes := make(map[string]bool)

	for sede, salasRaw := range publicTree {
		salasObj, ok := asObject(salasRaw)
		if !ok {
			continue
		}
		sedes[sede] = true

		for sala, cfgRaw := range salasObj {
			cfg, ok := asObject(cfgRaw)
			if !ok {
				continue
			}
			id := sede + "/" + sala
			seen[id] = true
			snap.Counts.TotalSalas++

			enabled := boolField(cfg, "enabled", true)
			needsSecrets := boolField(cfg, "needsSecrets", true)
			requiresSecrets := enabled && needsSecrets

			secretCfg := lookupObject(secretsTree, sede, sala)
			merged := DeepMerge(cfg, secretCfg)
			snap.fullByID[id] = merged

			hasSecrets := len(secretCfg) > 0
			if hasSecrets {
				snap.Counts.WithSecrets++
			} else if requiresSecrets {
				snap.Counts.MissingSecrets++
				snap.Warnings = append(snap.Warnings, Warning{
					Code:    WarnMissingSecrets,
					ID:      id,
					Message: fmt.Sprintf("no secrets found for %s", id),
				})
			}

			snap.PublicList = append(snap.PublicList, RoomEntry{
				ID: id, Sede: sede, Sala: sala, HasSecrets: hasSecrets, Config: Sanitize(merged),
			})
			snap.FullList = append(snap.FullList, RoomEntry{
				ID: id, Sede: sede, Sala: sala, HasSecrets: hasSecrets, Config: merged,
			})
		}
	}
	snap.Counts.TotalSedes = len(sedes)

	for sede, salasRaw := range secretsTree {
		salasObj, ok := asObject(salasRaw)
		if !ok {
			continue
		}
		for sala := range salasObj {
			id := sede + "/" + sala
			if !seen[id] {
				snap.Warnings = append(snap.Warnings, Warning{
					Code:    WarnSecretsExtra,
					ID:      id,
					Message: fmt.Sprintf("secrets present for undeclared room %s", id),
				})
			}
		}
	}

	sort.Slice(snap.PublicList, func(i, j int) bool { return snap.PublicList[i].ID < snap.PublicList[j].ID })
	sort.Slice(snap.FullList, func(i, j int) bool { return snap.FullList[i].ID < snap.FullList[j].ID })

	snap.Counts.DuplicateEndpoints = collectDuplicates(snap, ExtractEndpoint, WarnDuplicateEndpoint)
	snap.Counts.DuplicateStreamSources = collectDuplicates(snap, ExtractStreamSource, WarnDuplicateStreamSource)

	return snap, nil
}

// collectDuplicates warns when two rooms resolve to the same extracted
// value. Duplicate endpoints stay warnings on purpose: rooms sharing an
// endpoint share one pooled device connection.
func collectDuplicates(snap *Snapshot, extract func(map[string]interface{}) string, code string) int {
	type group struct {
		raw string
		ids []string
	}
	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, entry := range snap.FullList {
		value := extract(entry.Config)
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		g, ok := groups[key]
		if !ok {
			g = &group{raw: value}
			groups[key] = g
			order = append(order, key)
		}
		g.ids = append(g.ids, entry.ID)
	}

	duplicates := 0
	for _, key := range order {
		g := groups[key]
		if len(g.ids) <= 1 {
			continue
		}
		duplicates++
		snap.Warnings = append(snap.Warnings, Warning{
			Code:    code,
			Value:   g.raw,
			IDs:     g.ids,
			Message: fmt.Sprintf("value %q shared by %s", g.raw, strings.Join(g.ids, ", ")),
		})
	}
	return duplicates
}

func lookupObject(tree map[string]interface{}, sede, sala string) map[string]interface{} {
	salasObj, ok := asObject(tree[sede])
	if !ok {
		return map[string]interface{}{}
	}
	cfg, ok := asObject(salasObj[sala])
	if !ok {
		return map[string]interface{}{}
	}
	return cfg
}

func loadTree(path string, optional bool) (map[string]interface{}, error) {
	if path == "" && optional {
		return map[string]interface{}{}, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if optional {
			return map[string]interface{}{}, nil
		}
		return nil, apperr.Wrap(apperr.ConfigLoadFailed, fmt.Sprintf("config file %s not found", path), err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigLoadFailed, fmt.Sprintf("cannot read %s", path), err)
	}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, apperr.Wrap(apperr.ConfigLoadFailed, fmt.Sprintf("cannot parse %s", path), err)
	}
	return tree, nil
}
