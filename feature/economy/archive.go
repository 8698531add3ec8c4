package economy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"economy-store/core/dispatch"
	"economy-store/core/mongodb"
	"economy-store/core/storage"

	"github.com/minio/minio-go/v7"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Archiver periodically exports aged ledger entries to object storage and
// prunes them from the transactions collection, keeping the hot collection
// bounded. Entries are only deleted after the archive object is confirmed
// written.
type Archiver struct {
	cfg        ArchiveConfig
	collection string
	conn       *mongodb.Manager
	store      storage.Client
	disp       *dispatch.Dispatcher
	log        *zap.Logger

	handle *dispatch.Handle
}

// NewArchiver builds an Archiver over the repository's transactions
// collection.
func NewArchiver(cfg ArchiveConfig, econ Config, conn *mongodb.Manager, store storage.Client, disp *dispatch.Dispatcher, log *zap.Logger) *Archiver {
	return &Archiver{
		cfg:        cfg,
		collection: econ.TransactionsCollection,
		conn:       conn,
		store:      store,
		disp:       disp,
		log:        log,
	}
}

// Start schedules the repeating archival task. A disabled config is a no-op.
func (a *Archiver) Start() {
	if !a.cfg.Enabled || a.handle != nil {
		return
	}
	interval := a.cfg.Interval()
	a.handle = a.disp.RunWorkerRepeating(func(ctx context.Context) {
		archived, err := a.RunOnce(ctx)
		if err != nil {
			a.log.Warn("ledger archive run failed", zap.Error(err))
			return
		}
		if archived > 0 {
			a.log.Info("ledger entries archived", zap.Int64("count", archived))
		}
	}, interval, interval)
}

// Stop cancels the repeating task. An in-progress run finishes.
func (a *Archiver) Stop() {
	if a.handle != nil {
		a.handle.Cancel()
		a.handle = nil
	}
}

// RunOnce archives every ledger entry older than the configured cutoff and
// returns how many entries were pruned.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	if err := a.conn.EnsureConnected(ctx); err != nil {
		return 0, err
	}
	col, err := a.conn.Collection(a.collection)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-a.cfg.Cutoff()).UnixMilli()
	filter := bson.M{"created_at": bson.M{"$lt": cutoff}}

	docs, err := col.Find(ctx, filter, bson.D{{Key: "created_at", Value: 1}}, 0)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(docs)
	if err != nil {
		return 0, err
	}

	if err := a.ensureBucket(ctx); err != nil {
		return 0, err
	}

	objectName := fmt.Sprintf("transactions/%s.json", time.Now().UTC().Format("20060102T150405Z"))
	_, err = a.store.PutObject(ctx, a.cfg.Bucket, objectName,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return 0, fmt.Errorf("archive upload failed: %w", err)
	}

	deleted, err := col.DeleteMany(ctx, filter)
	if err != nil {
		// The batch is uploaded; a failed prune will be retried next run
		// and produce an overlapping archive object, which is harmless.
		return 0, fmt.Errorf("archive prune failed: %w", err)
	}
	return deleted, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.cfg.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.store.MakeBucket(ctx, a.cfg.Bucket, minio.MakeBucketOptions{})
}
