// Package atlas loads brain atlases once at startup and answers region and voxel lookups.
package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/brainquiz/backend/pkg/apperror"
)

// ErrNoValidRegions is returned when an atlas yields no usable region IDs.
var ErrNoValidRegions = apperror.InvalidInput("atlas has no valid regions")

// Point is a coordinate in millimeters.
type Point [3]float64

// Atlas is the immutable, loaded form of one atlas.
type Atlas struct {
	ID      string
	Names   map[int]string
	Regions []int
	Centers map[int][]Point
	Volume  *Volume

	regionSet map[int]struct{}
}

// HasRegion reports whether id is a valid region of the atlas.
func (a *Atlas) HasRegion(id int) bool {
	_, ok := a.regionSet[id]
	return ok
}

// Catalog holds every successfully loaded atlas. It is read-only once loading is done.
type Catalog struct {
	mu      sync.RWMutex
	atlases map[string]*Atlas
	source  Source
	logger  *zap.Logger
}

// NewCatalog creates an empty catalog backed by source.
func NewCatalog(source Source, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{atlases: make(map[string]*Atlas), source: source, logger: logger}
}

// LoadAll loads every atlas in ids. A failing atlas is logged and excluded; the others still load.
// It returns the number of atlases loaded.
func (c *Catalog) LoadAll(ctx context.Context, ids []string) int {
	loaded := 0
	for _, id := range ids {
		if err := c.Load(ctx, id); err != nil {
			c.logger.Error("atlas load failed", zap.String("atlas", id), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded
}

// Load reads labels, centers and the volume for one atlas and registers it.
func (c *Catalog) Load(ctx context.Context, id string) error {
	labels, err := c.readLabels(ctx, id)
	if err != nil {
		return err
	}
	centers, err := c.readCenters(ctx, id)
	if err != nil {
		return err
	}
	rc, err := c.source.Open(ctx, id, VolumeFile)
	if err != nil {
		return fmt.Errorf("open volume: %w", err)
	}
	vol, err := DecodeVolume(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("decode volume: %w", err)
	}
	a, err := Build(id, labels, centers, vol)
	if err != nil {
		return err
	}
	c.Add(a)
	c.logger.Info("atlas loaded", zap.String("atlas", id), zap.Int("regions", len(a.Regions)), zap.Ints("dims", vol.Dims[:]))
	return nil
}

// Add registers an already built atlas.
func (c *Catalog) Add(a *Atlas) {
	c.mu.Lock()
	c.atlases[a.ID] = a
	c.mu.Unlock()
}

// Build derives the valid region set: label keys that are positive integers and occur in the
// volume. When none occur, every positive integer label key is used.
func Build(id string, labels map[string]string, centers map[int][]Point, vol *Volume) (*Atlas, error) {
	names := make(map[int]string)
	for k, name := range labels {
		n, err := strconv.Atoi(k)
		if err != nil || n <= 0 {
			continue
		}
		names[n] = name
	}
	set := make(map[int]struct{})
	for v := range vol.observed() {
		if _, ok := names[v]; ok {
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		for n := range names {
			set[n] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("atlas %s: %w", id, ErrNoValidRegions)
	}
	regions := make([]int, 0, len(set))
	for n := range set {
		regions = append(regions, n)
	}
	sort.Ints(regions)
	if centers == nil {
		centers = make(map[int][]Point)
	}
	return &Atlas{ID: id, Names: names, Regions: regions, Centers: centers, Volume: vol, regionSet: set}, nil
}

func (c *Catalog) readLabels(ctx context.Context, id string) (map[string]string, error) {
	rc, err := c.source.Open(ctx, id, LabelsFile)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer rc.Close()
	var labels map[string]string
	if err := json.NewDecoder(rc).Decode(&labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	return labels, nil
}

func (c *Catalog) readCenters(ctx context.Context, id string) (map[int][]Point, error) {
	rc, err := c.source.Open(ctx, id, CentersFile)
	if err != nil {
		return nil, fmt.Errorf("open centers: %w", err)
	}
	defer rc.Close()
	var raw map[string][]Point
	if err := json.NewDecoder(rc).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode centers: %w", err)
	}
	out := make(map[int][]Point, len(raw))
	for k, pts := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[n] = pts
	}
	return out, nil
}

// Get returns a loaded atlas.
func (c *Catalog) Get(id string) (*Atlas, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.atlases[id]
	return a, ok
}

// ValidRegions returns the region IDs of an atlas; empty for an unknown atlas.
func (c *Catalog) ValidRegions(id string) []int {
	a, ok := c.Get(id)
	if !ok {
		return nil
	}
	return a.Regions
}

// Centers returns the stored centers of a region; empty for an unknown atlas or region.
func (c *Catalog) Centers(id string, region int) []Point {
	a, ok := c.Get(id)
	if !ok {
		return nil
	}
	return a.Centers[region]
}

// Summary describes one atlas for listing.
type Summary struct {
	ID      string         `json:"id"`
	Dims    [3]int         `json:"dims"`
	Regions map[int]string `json:"regions"`
}

// List returns summaries of all loaded atlases sorted by ID.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, 0, len(c.atlases))
	for _, a := range c.atlases {
		regions := make(map[int]string, len(a.Regions))
		for _, r := range a.Regions {
			regions[r] = a.Names[r]
		}
		out = append(out, Summary{ID: a.ID, Dims: a.Volume.Dims, Regions: regions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
