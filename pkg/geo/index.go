package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"
	"github.com/kass/go-mart-connect/pkg/models"
)

const (
	tolerance   = 1e-9
	minChildren = 25
	maxChildren = 50
	// sellers are stored as unit vectors on the sphere
	dimensions = 3
)

// sellerEntry wraps a seller location for R-Tree indexing
type sellerEntry struct {
	seller models.SellerLocation
	rect   *rtreego.Rect
}

func (e *sellerEntry) Bounds() *rtreego.Rect {
	return e.rect
}

// unitVector maps a coordinate onto the unit sphere. Straight-line
// distance between two such vectors grows monotonically with their
// great-circle distance.
func unitVector(c models.Coordinate) rtreego.Point {
	lat := c.Lat * math.Pi / 180
	lon := c.Lon * math.Pi / 180
	return rtreego.Point{
		math.Cos(lat) * math.Cos(lon),
		math.Cos(lat) * math.Sin(lon),
		math.Sin(lat),
	}
}

// chordLength is the straight-line length through the unit sphere of an
// arc of distanceKm.
func chordLength(distanceKm float64) float64 {
	angle := math.Min(distanceKm/earthRadius, math.Pi)
	return 2 * math.Sin(angle/2)
}

// Neighbor is a seller found by a proximity query.
type Neighbor struct {
	Seller     models.SellerLocation `json:"seller"`
	DistanceKm float64               `json:"distance_km"`
}

// SellerIndex is a thread-safe R-Tree over seller coordinates.
// Points are stored as 3-D unit vectors so the tree has no seams at the
// antimeridian or the poles; reported distances are haversine.
type SellerIndex struct {
	tree    *rtreego.Rtree
	entries map[string]*sellerEntry
	mu      sync.RWMutex
	count   atomic.Int64
}

// NewSellerIndex creates an empty index
func NewSellerIndex() *SellerIndex {
	return &SellerIndex{
		tree:    rtreego.NewTree(dimensions, minChildren, maxChildren),
		entries: make(map[string]*sellerEntry),
	}
}

// Index adds or moves sellers. Sellers without a coordinate are removed
// from the index if present and otherwise ignored. It returns the number
// of sellers indexed by this call.
func (g *SellerIndex) Index(sellers []models.SellerLocation) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.indexLocked(sellers)
}

// Replace clears the index and loads sellers in one step, so readers never
// observe a half-built tree.
func (g *SellerIndex) Replace(sellers []models.SellerLocation) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tree = rtreego.NewTree(dimensions, minChildren, maxChildren)
	g.entries = make(map[string]*sellerEntry)
	g.count.Store(0)
	return g.indexLocked(sellers)
}

func (g *SellerIndex) indexLocked(sellers []models.SellerLocation) (int, error) {
	n := 0
	for _, s := range sellers {
		if old, ok := g.entries[s.SellerID]; ok {
			g.tree.Delete(old)
			delete(g.entries, s.SellerID)
		}
		if s.Coordinate == nil {
			continue
		}
		if err := s.Coordinate.Validate(); err != nil {
			return n, fmt.Errorf("seller %s: %w", s.SellerID, err)
		}
		loc := *s.Coordinate
		s.Coordinate = &loc
		e := &sellerEntry{
			seller: s,
			rect:   unitVector(loc).ToRect(tolerance),
		}
		g.tree.Insert(e)
		g.entries[s.SellerID] = e
		n++
	}
	g.count.Store(int64(len(g.entries)))
	return n, nil
}

// QueryRadius returns all sellers within radiusKm of center, nearest first.
func (g *SellerIndex) QueryRadius(center models.Coordinate, radiusKm float64) ([]Neighbor, error) {
	if err := center.Validate(); err != nil {
		return nil, fmt.Errorf("invalid radius search: %w", err)
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("invalid radius search: radius must be positive, got %f", radiusKm)
	}

	box, err := searchBox(center, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("invalid radius search: %w", err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Neighbor
	for _, result := range g.tree.SearchIntersect(box) {
		e, ok := result.(*sellerEntry)
		if !ok {
			continue
		}
		d := Distance(center, *e.seller.Coordinate)
		if d <= radiusKm {
			out = append(out, Neighbor{Seller: e.seller, DistanceKm: d})
		}
	}
	sortNeighbors(out)
	return out, nil
}

// Nearest returns up to k sellers closest to center.
func (g *SellerIndex) Nearest(center models.Coordinate, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	candidates := g.tree.NearestNeighbors(k, unitVector(center))
	out := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		e, ok := c.(*sellerEntry)
		if !ok || e == nil {
			continue
		}
		out = append(out, Neighbor{Seller: e.seller, DistanceKm: Distance(center, *e.seller.Coordinate)})
	}
	sortNeighbors(out)
	return out
}

// Count returns the number of indexed sellers
func (g *SellerIndex) Count() int64 {
	return g.count.Load()
}

// Clear removes all sellers from the index
func (g *SellerIndex) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tree = rtreego.NewTree(dimensions, minChildren, maxChildren)
	g.entries = make(map[string]*sellerEntry)
	g.count.Store(0)
}

func sortNeighbors(ns []Neighbor) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].DistanceKm != ns[j].DistanceKm {
			return ns[i].DistanceKm < ns[j].DistanceKm
		}
		return ns[i].Seller.SellerID < ns[j].Seller.SellerID
	})
}

// searchBox returns the cube around center's unit vector that holds every
// point within radiusKm of it.
func searchBox(center models.Coordinate, radiusKm float64) (*rtreego.Rect, error) {
	half := chordLength(radiusKm) + tolerance
	v := unitVector(center)
	return rtreego.NewRect(
		rtreego.Point{v[0] - half, v[1] - half, v[2] - half},
		[]float64{2 * half, 2 * half, 2 * half},
	)
}
