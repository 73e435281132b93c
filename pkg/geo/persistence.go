package geo

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"

	"github.com/kass/go-mart-connect/pkg/models"
)

// indexData represents the serializable form of the seller index
type indexData struct {
	Sellers []models.SellerLocation
	Count   int64
}

// SaveToFile writes a gob snapshot of the index
func (g *SellerIndex) SaveToFile(filename string) error {
	g.mu.RLock()
	data := indexData{
		Sellers: make([]models.SellerLocation, 0, len(g.entries)),
		Count:   g.count.Load(),
	}
	for _, e := range g.entries {
		data.Sellers = append(data.Sellers, e.seller)
	}
	g.mu.RUnlock()

	sort.Slice(data.Sellers, func(i, j int) bool {
		return data.Sellers[i].SellerID < data.Sellers[j].SellerID
	})

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return file.Sync()
}

// LoadFromFile replaces the index contents with a snapshot written by SaveToFile
func (g *SellerIndex) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var data indexData
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	n, err := g.Replace(data.Sellers)
	if err != nil {
		return fmt.Errorf("failed to index sellers: %w", err)
	}
	if int64(n) != data.Count {
		return fmt.Errorf("index snapshot corrupt: header says %d sellers, loaded %d", data.Count, n)
	}
	return nil
}
