// Package synthetic fabricates cookie-sync batches for local runs and demos,
// standing in for the export bucket so the whole pipeline can be exercised
// without object storage credentials.
package synthetic

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"time"

	"github.com/leadlift/attribution/internal/adapter"
	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/storage"
)

var browsePages = []string{
	"https://%s/",
	"https://%s/shop",
	"https://%s/products/classic-mug",
	"https://%s/products/travel-mug",
	"https://%s/cart",
	"https://%s/checkout/order-received/1001",
	"https://%s/about",
	"https://%s/pricing",
}

// Generator fabricates deterministic raw sync events for one tenant
type Generator struct {
	clientID string
	domain   string
	clock    adapter.Clock
	rng      *rand.Rand
	sequence int
}

// NewGenerator creates a generator. The same seed always produces the same
// event stream.
func NewGenerator(clientID, tenantDomain string, clock adapter.Clock, seed int64) *Generator {
	return &Generator{
		clientID: clientID,
		domain:   tenantDomain,
		clock:    clock,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Generate fabricates n events for up to visitors distinct identities,
// spread over the preceding hour
func (g *Generator) Generate(n, visitors int) []domain.RawSyncEvent {
	if visitors <= 0 {
		visitors = 1
	}
	base := g.clock.Now().UTC().Add(-time.Hour)

	events := make([]domain.RawSyncEvent, 0, n)
	for i := 0; i < n; i++ {
		visitor := g.rng.Intn(visitors)
		page := fmt.Sprintf(browsePages[g.rng.Intn(len(browsePages))], g.domain)
		g.sequence++

		events = append(events, domain.RawSyncEvent{
			TrovoID:    fmt.Sprintf("synthetic-%d", g.sequence),
			PartnerUID: encodeContext(g.clientID, page),
			UpID:       fmt.Sprintf("synthetic-up-%d", visitor),
			EventDate:  base.Add(time.Duration(g.rng.Intn(3600)) * time.Second),
		})
	}
	return events
}

func encodeContext(clientID, page string) string {
	payload := fmt.Sprintf(`{"client_id":%q,"current_page":%q}`, clientID, page)
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// Reader serves generated batches through the pipeline's reader interface.
// Each call to NextBatch produces one fresh partition, so the loop behaves
// exactly as it would against the real bucket.
type Reader struct {
	generator *Generator
	clock     adapter.Clock
	batchSize int
	visitors  int
	partition int
}

// NewReader creates a synthetic batch reader
func NewReader(generator *Generator, clock adapter.Clock, batchSize, visitors int) *Reader {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reader{
		generator: generator,
		clock:     clock,
		batchSize: batchSize,
		visitors:  visitors,
	}
}

// Prefix returns the synthetic checkpoint scope
func (r *Reader) Prefix() string {
	return "synthetic/"
}

// NextBatch fabricates the next partition
func (r *Reader) NextBatch(ctx context.Context, checkpoint string) (*storage.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.partition++
	now := r.clock.Now().UTC()
	partition := fmt.Sprintf("synthetic/y=%04d/m=%02d/d=%02d/h=%02d", now.Year(), now.Month(), now.Day(), now.Hour())

	return &storage.Batch{
		Events:    r.generator.Generate(r.batchSize, r.visitors),
		Partition: partition,
		LastKey:   fmt.Sprintf("%s/part-%04d.parquet", partition, r.partition),
	}, nil
}
