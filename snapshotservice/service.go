// Package snapshotservice runs forest operations in their own write transactions.
package snapshotservice

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app"
	"github.com/anyproto/any-snapshot/app/logger"
	"github.com/anyproto/any-snapshot/config"
	"github.com/anyproto/any-snapshot/delta"
	"github.com/anyproto/any-snapshot/deltastore"
	"github.com/anyproto/any-snapshot/forestgraph"
	"github.com/anyproto/any-snapshot/kvstore"
	"github.com/anyproto/any-snapshot/kvstore/anystorekv"
	"github.com/anyproto/any-snapshot/kvstore/memkv"
	"github.com/anyproto/any-snapshot/metric"
	"github.com/anyproto/any-snapshot/snapshot"
	"github.com/anyproto/any-snapshot/util/periodicsync"
	"github.com/anyproto/any-snapshot/versionforest"
)

const CName = "snapshot.service"

var log = logger.NewNamed(CName)

func New() Service {
	return new(service)
}

type Service interface {
	CreateTree(ctx context.Context) (snapshot.VersionId, error)
	CreateChild(ctx context.Context, parent snapshot.VersionId, deltas []delta.Delta) (snapshot.VersionId, error)
	ModifyLeaf(ctx context.Context, v snapshot.VersionId, deltas []delta.Delta) error
	ModifyCurrentLeaf(ctx context.Context, tree snapshot.VersionId, deltas []delta.Delta) error
	Restore(ctx context.Context, from, to snapshot.VersionId) error

	Versions(ctx context.Context) ([]snapshot.VersionId, error)
	Head(ctx context.Context, tree snapshot.VersionId) (snapshot.VersionId, error)
	Node(ctx context.Context, v snapshot.VersionId) (versionforest.Node, error)
	Record(ctx context.Context, v snapshot.VersionId) (deltastore.Record, error)
	Data(ctx context.Context) ([]kvstore.KeyValue, error)
	Fingerprint(ctx context.Context) (uint64, error)
	Graph(ctx context.Context) (string, error)

	app.ComponentRunnable
}

type configGetter interface {
	GetStore() config.Store
	GetForest() config.Forest
}

type service struct {
	storeConf  config.Store
	forestConf config.Forest
	metric     metric.Metric
	metrics    *metrics
	stats      periodicsync.PeriodicSync

	store  kvstore.Store
	graph  *versionforest.Forest
	deltas *deltastore.Store
	data   kvstore.Table
}

func (s *service) Init(a *app.App) (err error) {
	conf := a.MustComponent(config.CName).(configGetter)
	s.storeConf = conf.GetStore()
	s.forestConf = conf.GetForest()
	s.metrics = newMetrics()
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		s.metric = m
		if err = s.metrics.register(m.Registry()); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

func (s *service) Name() (name string) {
	return CName
}

func (s *service) Run(ctx context.Context) (err error) {
	switch s.storeConf.Engine {
	case config.EngineMemory:
		s.store = memkv.New()
	default:
		if s.store, err = anystorekv.Open(ctx, s.storeConf.Path); err != nil {
			return err
		}
	}
	if s.graph, s.deltas, err = snapshot.OpenSnapshotForest(ctx, s.store, s.forestConf.Namespace); err != nil {
		return err
	}
	if s.data, err = s.store.OpenTable(ctx, s.forestConf.DataTable); err != nil {
		return fmt.Errorf("open data table: %w", err)
	}
	log.Info("snapshot forest opened",
		zap.String("engine", s.storeConf.Engine),
		zap.String("namespace", s.forestConf.Namespace),
		zap.String("dataTable", s.forestConf.DataTable))
	if s.forestConf.StatPeriodSec > 0 {
		period := time.Duration(s.forestConf.StatPeriodSec) * time.Second
		s.stats = periodicsync.New(period, period, s.updateStats, log)
		s.stats.Run()
	}
	return nil
}

func (s *service) Close(ctx context.Context) (err error) {
	if s.stats != nil {
		s.stats.Close()
	}
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *service) CreateTree(ctx context.Context) (id snapshot.VersionId, err error) {
	err = s.do(ctx, "createTree", func(txCtx context.Context) (err error) {
		id, err = snapshot.CreateSnapshotTree(txCtx, s.graph)
		return
	})
	return
}

func (s *service) CreateChild(ctx context.Context, parent snapshot.VersionId, deltas []delta.Delta) (id snapshot.VersionId, err error) {
	err = s.do(ctx, "createChild", func(txCtx context.Context) (err error) {
		id, err = snapshot.CreateChildSnapshot(txCtx, parent, s.graph, s.deltas, s.data, deltas)
		return
	}, metric.Version(uint64(parent)), metric.Deltas(len(deltas)))
	if err == nil {
		s.metrics.deltas.Observe(float64(len(deltas)))
	}
	return
}

func (s *service) ModifyLeaf(ctx context.Context, v snapshot.VersionId, deltas []delta.Delta) (err error) {
	err = s.do(ctx, "modifyLeaf", func(txCtx context.Context) error {
		return snapshot.ModifyLeafSnapshot(txCtx, v, s.graph, s.deltas, s.data, deltas)
	}, metric.Version(uint64(v)), metric.Deltas(len(deltas)))
	if err == nil {
		s.metrics.deltas.Observe(float64(len(deltas)))
	}
	return
}

func (s *service) ModifyCurrentLeaf(ctx context.Context, tree snapshot.VersionId, deltas []delta.Delta) (err error) {
	err = s.do(ctx, "modifyCurrentLeaf", func(txCtx context.Context) error {
		return snapshot.ModifyCurrentLeafSnapshot(txCtx, tree, s.graph, s.deltas, s.data, deltas)
	}, metric.Version(uint64(tree)), metric.Deltas(len(deltas)))
	if err == nil {
		s.metrics.deltas.Observe(float64(len(deltas)))
	}
	return
}

func (s *service) Restore(ctx context.Context, from, to snapshot.VersionId) error {
	return s.do(ctx, "restore", func(txCtx context.Context) error {
		return snapshot.Restore(txCtx, from, to, s.graph, s.deltas, s.data)
	}, zap.Stringer("from", from), zap.Stringer("to", to))
}

func (s *service) Versions(ctx context.Context) (versions []snapshot.VersionId, err error) {
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		versions, err = snapshot.CollectVersions(txCtx, s.graph)
		return
	})
	return
}

func (s *service) Head(ctx context.Context, tree snapshot.VersionId) (head snapshot.VersionId, err error) {
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		head, err = snapshot.CurrentVersion(txCtx, s.graph, tree)
		return
	})
	return
}

func (s *service) Node(ctx context.Context, v snapshot.VersionId) (n versionforest.Node, err error) {
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		n, err = s.graph.Node(txCtx, v)
		return
	})
	return
}

func (s *service) Record(ctx context.Context, v snapshot.VersionId) (rec deltastore.Record, err error) {
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		rec, err = s.deltas.Get(txCtx, v)
		return
	})
	return
}

func (s *service) Data(ctx context.Context) (kvs []kvstore.KeyValue, err error) {
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		kvs, err = kvstore.Collect(txCtx, s.data)
		return
	})
	return
}

func (s *service) Fingerprint(ctx context.Context) (sum uint64, err error) {
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		sum, err = kvstore.Fingerprint(txCtx, s.data)
		return
	})
	return
}

func (s *service) Graph(ctx context.Context) (dot string, err error) {
	var (
		nodes []versionforest.Node
		heads map[versionforest.VersionId]versionforest.VersionId
	)
	err = s.read(ctx, func(txCtx context.Context) (err error) {
		if nodes, err = s.graph.CollectNodes(txCtx); err != nil {
			return
		}
		heads, err = s.graph.Heads(txCtx)
		return
	})
	if err != nil {
		return "", err
	}
	return forestgraph.Render(ctx, nodes, heads)
}

func (s *service) updateStats(ctx context.Context) error {
	return s.read(ctx, func(txCtx context.Context) error {
		versions, err := s.graph.LastId(txCtx)
		if err != nil {
			return err
		}
		roots, err := s.graph.CollectRoots(txCtx)
		if err != nil {
			return err
		}
		var keys int
		if err = s.data.Iterate(txCtx, func(key, value []byte) (bool, error) {
			keys++
			return true, nil
		}); err != nil {
			return err
		}
		s.metrics.versions.Set(float64(versions))
		s.metrics.trees.Set(float64(len(roots)))
		s.metrics.dataKeys.Set(float64(keys))
		return nil
	})
}

// do runs f in a write transaction and repeats the whole transaction on storage conflicts.
func (s *service) do(ctx context.Context, op string, f func(txCtx context.Context) error, fields ...zap.Field) (err error) {
	start := time.Now()
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		err := kvstore.WithTx(ctx, s.store, f)
		if err == nil {
			return nil
		}
		if kvstore.IsRetryable(err) {
			s.metrics.conflicts.Inc()
			log.DebugCtx(ctx, "transaction conflict", metric.Op(op), metric.Attempts(attempts), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, s.newBackOff(ctx))
	s.metrics.observe(op, start, err)

	fields = append(fields, metric.Op(op), metric.Attempts(attempts), metric.TotalDur(time.Since(start)))
	if err != nil {
		log.InfoCtx(ctx, "operation failed", append(fields, zap.Error(err))...)
		return err
	}
	if s.metric != nil {
		s.metric.RequestLog(ctx, fields...)
	}
	return nil
}

// read runs f in a transaction that is always rolled back
func (s *service) read(ctx context.Context, f func(txCtx context.Context) error) error {
	tx, err := s.store.WriteTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	return f(tx.Context())
}

func (s *service) newBackOff(ctx context.Context) backoff.BackOff {
	retry := s.forestConf.Retry
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(retry.IntervalMs) * time.Millisecond
	exp.MaxInterval = time.Duration(retry.MaxIntervalMs) * time.Millisecond
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = exp
	if retry.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(retry.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
