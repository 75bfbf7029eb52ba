package migrate

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/lock"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/model"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

var (
	ErrLocked        = errors.New("migration lock is held by another process")
	ErrDefinition    = errors.New("invalid migration")
	ErrUnknownSeeder = errors.New("unknown seeder")
)

// Func 迁移与数据填充的执行函数，m 始终使用写库
type Func func(ctx context.Context, m *rdb.Manager) error

// Migration 一次结构变更，Down 可以为空，为空时回滚只删除记录
type Migration struct {
	Name string
	Up   Func
	Down Func
}

type Seeder struct {
	Name string
	Run  Func
}

type Options struct {
	// Table 记录已执行迁移的表
	Table string `cfg:"table" def:"_migrations"`
	// Key 迁移锁的 key，为空时为 rdbx:migrate:<方言>，多个进程共享同一个库时应配置为库的 URL
	Key      string        `cfg:"key"`
	LockTTL  time.Duration `cfg:"lockTTL" def:"5m"`
	LockWait time.Duration `cfg:"lockWait" def:"30s"`
}

// Status 一个迁移的执行状态
type Status struct {
	Name      string
	Applied   bool
	Batch     int64
	AppliedAt time.Time
}

// Diff 代码与数据库之间的差异
type Diff struct {
	// Pending 已注册但未执行的迁移
	Pending []string
	// Unknown 已执行但代码中不存在的迁移
	Unknown []string
	// MissingTables 已登记的模型中表不存在的
	MissingTables []string
}

func (d *Diff) Empty() bool {
	return len(d.Pending) == 0 && len(d.Unknown) == 0 && len(d.MissingTables) == 0
}

type Runner struct {
	m           *rdb.Manager
	coordinator *lock.Coordinator
	options     Options
	logger      log.Logger
	now         func() time.Time

	migrations []Migration
	seeders    []Seeder
}

type Option func(*Runner)

func WithLogger(l log.Logger) Option {
	return func(r *Runner) {
		r.logger = log.OrDefault(l)
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunnerWithOptions(m *rdb.Manager, coordinator *lock.Coordinator, options *Options, opts ...Option) (*Runner, error) {
	o := Options{}
	if options != nil {
		o = *options
	}
	if o.Table == "" {
		o.Table = "_migrations"
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
	if o.LockWait < 0 {
		return nil, errors.Errorf("lockWait %v is negative", o.LockWait)
	}
	if o.Key == "" {
		e, err := m.Dialect()
		if err != nil {
			return nil, err
		}
		o.Key = "rdbx:migrate:" + e.Name()
	}

	r := &Runner{
		m:           m.UseWrite(),
		coordinator: coordinator,
		options:     o,
		logger:      m.Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Add 按执行顺序注册迁移，名称不能重复
func (r *Runner) Add(migrations ...Migration) error {
	for _, mig := range migrations {
		if mig.Name == "" || mig.Up == nil {
			return errors.WithMessagef(ErrDefinition, "migration %q: name and up are required", mig.Name)
		}
		if _, ok := r.migration(mig.Name); ok {
			return errors.WithMessagef(ErrDefinition, "migration %s is already added", mig.Name)
		}
		r.migrations = append(r.migrations, mig)
	}
	return nil
}

func (r *Runner) AddSeeder(seeders ...Seeder) error {
	for _, s := range seeders {
		if s.Name == "" || s.Run == nil {
			return errors.WithMessagef(ErrDefinition, "seeder %q: name and run are required", s.Name)
		}
		if _, ok := r.seeder(s.Name); ok {
			return errors.WithMessagef(ErrDefinition, "seeder %s is already added", s.Name)
		}
		r.seeders = append(r.seeders, s)
	}
	return nil
}

func (r *Runner) migration(name string) (Migration, bool) {
	for _, mig := range r.migrations {
		if mig.Name == name {
			return mig, true
		}
	}
	return Migration{}, false
}

func (r *Runner) seeder(name string) (Seeder, bool) {
	for _, s := range r.seeders {
		if s.Name == name {
			return s, true
		}
	}
	return Seeder{}, false
}

// locked 持有迁移锁执行 fn
func (r *Runner) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	l := r.coordinator.Make(r.options.Key, r.options.LockTTL)
	ok, err := l.Acquire(ctx, r.options.LockWait)
	if err != nil {
		return err
	}
	if !ok {
		return errors.WithMessagef(ErrLocked, "key %s", r.options.Key)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "release migration lock failed", "key", r.options.Key, "error", err)
		}
	}()

	if err := r.ensureTable(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (r *Runner) ensureTable(ctx context.Context) error {
	return r.m.CreateTableSchema(ctx, r.options.Table, func(bp *schema.TableBlueprint) {
		bp.ID()
		bp.String("name", 255).Unique()
		bp.Integer("batch")
		bp.Timestamp("applied_at")
	})
}

type record struct {
	name      string
	batch     int64
	appliedAt time.Time
}

// applied 已执行的迁移，按执行顺序
func (r *Runner) applied(ctx context.Context) ([]record, error) {
	rows, err := r.m.SelectFromTable(r.options.Table, func(q *query.Builder) {
		q.Select("name", "batch", "applied_at").Asc("id")
	}).All(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "read applied migrations")
	}
	records := make([]record, 0, len(rows))
	for _, row := range rows {
		records = append(records, record{
			name:      row.Get("name").AsString(),
			batch:     row.Get("batch").AsInt64(),
			appliedAt: row.Get("applied_at").AsTime(),
		})
	}
	return records, nil
}

// Up 在一个新批次中按注册顺序执行全部未执行的迁移，返回执行成功的名称。
// 某个迁移失败时之前的迁移保留记录，之后的不再执行
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	var done []string
	err := r.locked(ctx, func(ctx context.Context) error {
		records, err := r.applied(ctx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(records))
		var batch int64
		for _, rec := range records {
			seen[rec.name] = true
			batch = max(batch, rec.batch)
		}
		batch++

		for _, mig := range r.migrations {
			if seen[mig.Name] {
				continue
			}
			start := r.now()
			if err := mig.Up(ctx, r.m); err != nil {
				return errors.WithMessagef(err, "migrate up %s", mig.Name)
			}
			if _, err := r.m.Insert(ctx, r.options.Table, field.NewColumnAndValue(
				"name", mig.Name,
				"batch", batch,
				"applied_at", field.Timestamp(r.now()),
			)); err != nil {
				return errors.WithMessagef(err, "record migration %s", mig.Name)
			}
			r.logger.InfoContext(ctx, "migrated", "name", mig.Name, "batch", batch, "duration", r.now().Sub(start))
			done = append(done, mig.Name)
		}
		return nil
	})
	return done, err
}

// Down 逆序回滚最后一个批次，返回回滚成功的名称
func (r *Runner) Down(ctx context.Context) ([]string, error) {
	var done []string
	err := r.locked(ctx, func(ctx context.Context) error {
		records, err := r.applied(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		var batch int64
		for _, rec := range records {
			batch = max(batch, rec.batch)
		}

		for i := len(records) - 1; i >= 0; i-- {
			rec := records[i]
			if rec.batch != batch {
				continue
			}
			mig, ok := r.migration(rec.name)
			if !ok {
				return errors.WithMessagef(ErrDefinition, "migration %s is applied but not added", rec.name)
			}
			if mig.Down != nil {
				if err := mig.Down(ctx, r.m); err != nil {
					return errors.WithMessagef(err, "migrate down %s", mig.Name)
				}
			}
			if _, err := r.m.Delete(ctx, r.options.Table, func(q *query.Builder) {
				q.Eq("name", rec.name)
			}); err != nil {
				return errors.WithMessagef(err, "remove migration record %s", rec.name)
			}
			r.logger.InfoContext(ctx, "rolled back", "name", rec.name, "batch", batch)
			done = append(done, rec.name)
		}
		return nil
	})
	return done, err
}

// Status 已注册迁移的状态按注册顺序排列，之后是已执行但未注册的
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	var out []Status
	err := r.locked(ctx, func(ctx context.Context) error {
		records, err := r.applied(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]record, len(records))
		for _, rec := range records {
			byName[rec.name] = rec
		}
		for _, mig := range r.migrations {
			st := Status{Name: mig.Name}
			if rec, ok := byName[mig.Name]; ok {
				st.Applied, st.Batch, st.AppliedAt = true, rec.batch, rec.appliedAt
			}
			out = append(out, st)
		}
		for _, rec := range records {
			if _, ok := r.migration(rec.name); !ok {
				out = append(out, Status{Name: rec.name, Applied: true, Batch: rec.batch, AppliedAt: rec.appliedAt})
			}
		}
		return nil
	})
	return out, err
}

// Seed 按注册顺序执行指定的数据填充，names 为空时执行全部
func (r *Runner) Seed(ctx context.Context, names ...string) ([]string, error) {
	seeders := r.seeders
	if len(names) > 0 {
		seeders = make([]Seeder, 0, len(names))
		for _, name := range names {
			s, ok := r.seeder(name)
			if !ok {
				return nil, errors.WithMessage(ErrUnknownSeeder, name)
			}
			seeders = append(seeders, s)
		}
	}

	var done []string
	err := r.locked(ctx, func(ctx context.Context) error {
		for _, s := range seeders {
			if err := s.Run(ctx, r.m); err != nil {
				return errors.WithMessagef(err, "seed %s", s.Name)
			}
			r.logger.InfoContext(ctx, "seeded", "name", s.Name)
			done = append(done, s.Name)
		}
		return nil
	})
	return done, err
}

// Diff 比较注册的迁移、已执行的迁移与已登记模型的表
func (r *Runner) Diff(ctx context.Context) (*Diff, error) {
	diff := &Diff{}
	err := r.locked(ctx, func(ctx context.Context) error {
		records, err := r.applied(ctx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(records))
		for _, rec := range records {
			seen[rec.name] = true
			if _, ok := r.migration(rec.name); !ok {
				diff.Unknown = append(diff.Unknown, rec.name)
			}
		}
		for _, mig := range r.migrations {
			if !seen[mig.Name] {
				diff.Pending = append(diff.Pending, mig.Name)
			}
		}

		for _, s := range model.Registered() {
			ok, err := r.m.HasTable(ctx, s.Table)
			if err != nil {
				return err
			}
			if !ok {
				diff.MissingTables = append(diff.MissingTables, s.Table)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return diff, nil
}
