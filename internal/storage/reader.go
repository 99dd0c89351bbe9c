// Package storage reads cookie-sync export batches from object storage. The
// export bucket is laid out in hourly partitions (y=YYYY/m=MM/d=DD/h=HH) whose
// keys sort in the same order the exporter finishes them, so the pipeline can
// checkpoint on the last object key it committed.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/leadlift/attribution/internal/adapter"
	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/logger"
)

var partitionPattern = regexp.MustCompile(`y=(\d{4})/m=(\d{2})/d=(\d{2})/h=(\d{2})$`)

// exportRow is the parquet layout of one cookie-sync record
type exportRow struct {
	TrovoID     string `parquet:"TROVO_ID"`
	PartnerID   string `parquet:"PARTNER_ID"`
	PartnerUID  string `parquet:"PARTNER_UID"`
	HashedEmail string `parquet:"SHA256_LOWER_CASE"`
	IP          string `parquet:"IP"`
	Headers     string `parquet:"JSON_HEADERS"`
	EventDate   int64  `parquet:"EVENT_DATE"`
	UpID        string `parquet:"UP_ID"`
}

// Batch is one partition's worth of decoded events, ordered by event time
type Batch struct {
	Events []domain.RawSyncEvent
	// Partition is the hourly partition directory the batch came from
	Partition string
	// LastKey is the enumeration-order maximum of the keys consumed; committing
	// it as the checkpoint makes the whole partition durable
	LastKey string
}

// Reader enumerates and decodes export partitions
type Reader struct {
	objects adapter.ObjectStorage
	json    adapter.JSON
	prefix  string
	workers int
}

// NewReader creates a partition reader. workers bounds parallel downloads.
func NewReader(objects adapter.ObjectStorage, json adapter.JSON, prefix string, workers int) *Reader {
	if workers <= 0 {
		workers = 4
	}
	return &Reader{
		objects: objects,
		json:    json,
		prefix:  prefix,
		workers: workers,
	}
}

// Prefix returns the bucket prefix this reader enumerates
func (r *Reader) Prefix() string {
	return r.prefix
}

// NextBatch returns the earliest unprocessed partition after the checkpoint
// key. It returns domain.ErrNoNewPartition when the exporter has not produced
// anything new.
func (r *Reader) NextBatch(ctx context.Context, checkpoint string) (*Batch, error) {
	keys, err := r.listWithRetry(ctx, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list export keys: %w", err)
	}

	partition := ""
	var batchKeys []string
	for _, key := range keys {
		if !strings.HasSuffix(key, ".parquet") {
			continue
		}
		dir := path.Dir(key)
		if !partitionPattern.MatchString(dir) {
			logger.DebugCtx(ctx, "skipping key outside partition layout", zap.String("key", key))
			continue
		}
		if partition == "" {
			partition = dir
		}
		if dir != partition {
			// Keys arrive in lexicographic order, so a new directory means the
			// earliest partition is fully enumerated
			break
		}
		batchKeys = append(batchKeys, key)
	}
	if len(batchKeys) == 0 {
		return nil, domain.ErrNoNewPartition
	}

	events, err := r.downloadAll(ctx, batchKeys)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventDate.Before(events[j].EventDate)
	})

	return &Batch{
		Events:    events,
		Partition: partition,
		LastKey:   batchKeys[len(batchKeys)-1],
	}, nil
}

// PartitionTime parses the hour a partition directory covers
func PartitionTime(partition string) (time.Time, bool) {
	m := partitionPattern.FindStringSubmatch(partition)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02T15", fmt.Sprintf("%s-%s-%sT%s", m[1], m[2], m[3], m[4]))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (r *Reader) listWithRetry(ctx context.Context, startAfter string) ([]string, error) {
	var keys []string
	operation := func() error {
		var err error
		keys, err = r.objects.ListKeys(ctx, r.prefix, startAfter)
		return err
	}
	if err := retry(ctx, operation, "list export keys"); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Reader) downloadAll(ctx context.Context, keys []string) ([]domain.RawSyncEvent, error) {
	pool := pond.NewResultPool[[]domain.RawSyncEvent](r.workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	tasks := make([]pond.Result[[]domain.RawSyncEvent], 0, len(keys))
	for _, key := range keys {
		key := key
		tasks = append(tasks, pool.SubmitErr(func() ([]domain.RawSyncEvent, error) {
			return r.readObject(ctx, key)
		}))
	}

	var events []domain.RawSyncEvent
	for i, task := range tasks {
		objectEvents, err := task.Wait()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", keys[i], err)
		}
		events = append(events, objectEvents...)
	}
	return events, nil
}

func (r *Reader) readObject(ctx context.Context, key string) ([]domain.RawSyncEvent, error) {
	var data []byte
	operation := func() error {
		var err error
		data, err = r.objects.GetObject(ctx, key)
		return err
	}
	if err := retry(ctx, operation, key); err != nil {
		return nil, err
	}

	rows, err := parquet.Read[exportRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode parquet: %w", err)
	}

	events := make([]domain.RawSyncEvent, 0, len(rows))
	for _, row := range rows {
		event := domain.RawSyncEvent{
			TrovoID:     row.TrovoID,
			PartnerID:   row.PartnerID,
			PartnerUID:  row.PartnerUID,
			HashedEmail: row.HashedEmail,
			IP:          row.IP,
			EventDate:   time.UnixMilli(row.EventDate).UTC(),
			UpID:        row.UpID,
		}
		if row.Headers != "" {
			if err := r.json.Unmarshal([]byte(row.Headers), &event.Headers); err != nil {
				logger.DebugCtx(ctx, "undecodable headers blob", zap.String("key", key), zap.Error(err))
			}
		}
		events = append(events, event)
	}
	return events, nil
}

func retry(ctx context.Context, operation func() error, what string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute

	notify := func(err error, duration time.Duration) {
		logger.WarnCtx(ctx, "object storage call failed, retrying",
			zap.String("target", what),
			zap.Error(err),
			zap.Duration("next_retry_in", duration),
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
