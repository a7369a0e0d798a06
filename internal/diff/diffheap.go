// Package diff compares two frozen heapshots by allocation identity.
package diff

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/heapshot-analysis/internal/heapshot"
	"github.com/heapshot-analysis/internal/parser/mlog"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/utils"
)

const tracerName = "github.com/heapshot-analysis/internal/diff"

// Options configures a DiffHeap.
type Options struct {
	Logger utils.Logger
}

// TypeDiff holds the three result sets of one type.
type TypeDiff struct {
	TypeID         mlog.Pointer
	New            *heapshot.ObjectList
	NewFinalizable *heapshot.ObjectList
	Dead           *heapshot.ObjectList
}

// Totals sums the result sets over every type.
type Totals struct {
	NewCount            int64
	NewSize             int64
	NewFinalizableCount int64
	NewFinalizableSize  int64
	DeadCount           int64
	DeadSize            int64
}

type setKind int

const (
	setNew setKind = iota
	setNewFinalizable
	setDead
)

// tables returns the store the set is drawn from, and the peer whose
// identities exclude records from it.
func (k setKind) tables() (from, peer string) {
	if k == setDead {
		return "old_shot", "new_shot"
	}
	return "new_shot", "old_shot"
}

func (k setKind) rootCondition() string {
	if k == setNewFinalizable {
		return fmt.Sprintf("s.root_kind = %d", heapshot.RootFinalizable)
	}
	return fmt.Sprintf("s.root_kind <> %d", heapshot.RootFinalizable)
}

// notInPeer excludes the records whose identity the peer also holds.
// Heapshots from different identity spaces share no object.
func (d *DiffHeap) notInPeer(k setKind) string {
	if !d.shared {
		return "1 = 1"
	}
	_, peer := k.tables()
	return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s.objects p WHERE p.alloc_id = s.alloc_id)", peer)
}

type setTotal struct {
	TypeID int64
	Count  int64
	Size   int64
}

// DiffHeap is the per-type difference between an old and a new heapshot.
// Counts and sizes are computed up front; records are read on demand through
// a connection that attaches both store files.
type DiffHeap struct {
	older  *heapshot.Heapshot
	newer  *heapshot.Heapshot
	shared bool
	db     *gorm.DB
	log    utils.Logger

	types  []mlog.Pointer
	diffs  map[mlog.Pointer]*TypeDiff
	totals Totals

	mu     sync.Mutex
	closed bool
}

// New diffs two frozen, distinct heapshots.
func New(ctx context.Context, older, newer *heapshot.Heapshot, opts *Options) (*DiffHeap, error) {
	if older == nil || newer == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "diff needs two heapshots")
	}
	if older == newer || older.Path() == newer.Path() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "cannot diff %s against itself", older.Name())
	}
	for _, h := range []*heapshot.Heapshot{older, newer} {
		if !h.IsFrozen() {
			return nil, apperrors.Newf(apperrors.CodeNotFrozen, "%s is still ingesting", h.Name())
		}
	}
	if opts == nil {
		opts = &Options{}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "diff.New",
		trace.WithAttributes(
			attribute.Int("diff.old", older.ID()),
			attribute.Int("diff.new", newer.ID()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	db, err := attach(ctx, older.Path(), newer.Path())
	if err != nil {
		return nil, err
	}

	d := &DiffHeap{
		older:  older,
		newer:  newer,
		shared: older.IdentitySpace() == newer.IdentitySpace(),
		db:     db,
		log:    utils.OrNull(opts.Logger),
		diffs:  make(map[mlog.Pointer]*TypeDiff),
	}
	if !d.shared {
		d.log.Warn("%s and %s come from different captures; every object counts as new or dead",
			older.Name(), newer.Name())
	}
	span.SetAttributes(attribute.Bool("diff.shared_identity", d.shared))
	if err := d.compute(ctx); err != nil {
		d.Close()
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("diff.types", len(d.types)),
		attribute.Int64("diff.new_count", d.totals.NewCount),
		attribute.Int64("diff.dead_count", d.totals.DeadCount),
	)
	d.log.Info("Diffed %s -> %s: %d new, %d new finalizable, %d dead",
		older.Name(), newer.Name(), d.totals.NewCount, d.totals.NewFinalizableCount, d.totals.DeadCount)
	return d, nil
}

func attach(ctx context.Context, oldPath, newPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open diff database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get database instance", err)
	}
	// Attachments belong to a connection, so there must be exactly one.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	for _, a := range []struct{ path, name string }{{oldPath, "old_shot"}, {newPath, "new_shot"}} {
		if err := db.WithContext(ctx).Exec(fmt.Sprintf("ATTACH DATABASE ? AS %s", a.name), a.path).Error; err != nil {
			sqlDB.Close()
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to attach "+a.path, err)
		}
	}
	return db, nil
}

func (d *DiffHeap) compute(ctx context.Context) error {
	for _, kind := range []setKind{setNew, setNewFinalizable, setDead} {
		from, _ := kind.tables()
		var rows []setTotal
		err := d.db.WithContext(ctx).Raw(fmt.Sprintf(
			`SELECT s.type_id AS type_id, COUNT(*) AS count, SUM(s.size) AS size
			FROM %s.objects s WHERE %s AND %s GROUP BY s.type_id`,
			from, kind.rootCondition(), d.notInPeer(kind))).Scan(&rows).Error
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to compute diff", err)
		}
		for _, row := range rows {
			typeID := mlog.Pointer(row.TypeID)
			td := d.typeDiff(typeID)
			list := heapshot.NewObjectList(row.Count, row.Size, d.fetcher(kind, typeID))
			switch kind {
			case setNew:
				td.New = list
				d.totals.NewCount += row.Count
				d.totals.NewSize += row.Size
			case setNewFinalizable:
				td.NewFinalizable = list
				d.totals.NewFinalizableCount += row.Count
				d.totals.NewFinalizableSize += row.Size
			case setDead:
				td.Dead = list
				d.totals.DeadCount += row.Count
				d.totals.DeadSize += row.Size
			}
		}
	}

	seen := make(map[mlog.Pointer]bool)
	for _, h := range []*heapshot.Heapshot{d.older, d.newer} {
		types, err := h.Types()
		if err != nil {
			return err
		}
		for _, s := range types {
			if !seen[s.TypeID] {
				seen[s.TypeID] = true
				d.types = append(d.types, s.TypeID)
				d.typeDiff(s.TypeID)
			}
		}
	}
	sort.Slice(d.types, func(i, j int) bool { return d.types[i] < d.types[j] })
	return nil
}

func (d *DiffHeap) typeDiff(typeID mlog.Pointer) *TypeDiff {
	td, ok := d.diffs[typeID]
	if !ok {
		td = emptyDiff(typeID)
		d.diffs[typeID] = td
	}
	return td
}

func emptyDiff(typeID mlog.Pointer) *TypeDiff {
	return &TypeDiff{
		TypeID:         typeID,
		New:            heapshot.EmptyObjectList,
		NewFinalizable: heapshot.EmptyObjectList,
		Dead:           heapshot.EmptyObjectList,
	}
}

func (d *DiffHeap) fetcher(kind setKind, typeID mlog.Pointer) heapshot.FetchFunc {
	from, _ := kind.tables()
	return func(ctx context.Context, opts heapshot.ListOptions) ([]heapshot.ObjectRecord, error) {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "diff is closed")
		}
		q := d.db.WithContext(ctx).
			Table(from+".objects AS s").
			Where("s.type_id = ?", int64(typeID)).
			Where(kind.rootCondition()).
			Where(d.notInPeer(kind))
		return heapshot.FindRecords(q, opts)
	}
}

// Old returns the baseline heapshot.
func (d *DiffHeap) Old() *heapshot.Heapshot { return d.older }

// New returns the compared heapshot.
func (d *DiffHeap) New() *heapshot.Heapshot { return d.newer }

// Types returns every type present in either heapshot, ordered by id.
func (d *DiffHeap) Types() []mlog.Pointer {
	out := make([]mlog.Pointer, len(d.types))
	copy(out, d.types)
	return out
}

// Diff returns the result sets of one type. Types absent from both heapshots
// yield empty lists.
func (d *DiffHeap) Diff(typeID mlog.Pointer) *TypeDiff {
	if td, ok := d.diffs[typeID]; ok {
		return td
	}
	return emptyDiff(typeID)
}

// Changed returns the diffs with at least one non-empty set, largest growth first.
func (d *DiffHeap) Changed() []*TypeDiff {
	var out []*TypeDiff
	for _, typeID := range d.types {
		td := d.diffs[typeID]
		if !td.New.IsEmpty() || !td.NewFinalizable.IsEmpty() || !td.Dead.IsEmpty() {
			out = append(out, td)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Growth() > out[j].Growth() })
	return out
}

// Growth is the byte delta the type contributes to the heap.
func (td *TypeDiff) Growth() int64 {
	return td.New.TotalSize() + td.NewFinalizable.TotalSize() - td.Dead.TotalSize()
}

func (d *DiffHeap) Totals() Totals { return d.totals }

// Close releases the attach connection. The heapshots stay open.
func (d *DiffHeap) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
