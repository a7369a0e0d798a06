package heapshot

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/heapshot-analysis/internal/parser/mlog"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/utils"
)

// DefaultBatchSize is the number of rows buffered per table before an insert.
const DefaultBatchSize = 1000

// Options configures a Heapshot.
type Options struct {
	ID        int
	Timestamp uint64
	// Dir holds the store file; the system temp directory when empty.
	Dir       string
	BatchSize int
	// KeepFile leaves the store file on disk after Close.
	KeepFile bool
	// IdentitySpace names the domain allocation ids belong to. Heapshots
	// from different spaces never share an object.
	IdentitySpace string
	Resolver      TypeNameResolver
	Logger        utils.Logger
}

// Heapshot is a disk-backed index of one heap walk.
type Heapshot struct {
	opts Options
	path string
	db   *gorm.DB

	frozen atomic.Bool
	closed bool
	mu     sync.Mutex

	objects []ObjectRow
	refs    []refRow
	roots   []rootRow

	summaries   map[mlog.Pointer]TypeSummary
	types       []TypeSummary
	objectCount int64
	totalSize   int64
}

// Create opens an empty store in a fresh file under opts.Dir.
func Create(opts Options) (*Heapshot, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	opts.Logger = utils.OrNull(opts.Logger)

	f, err := os.CreateTemp(opts.Dir, fmt.Sprintf("heapshot-%d-*.db", opts.ID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to create heapshot file", err)
	}
	path := f.Name()
	f.Close()

	db, err := openFile(path + "?_journal_mode=OFF&_synchronous=OFF")
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := db.AutoMigrate(&ObjectRow{}, &refRow{}, &rootRow{}); err != nil {
		closeDB(db)
		os.Remove(path)
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to create heapshot tables", err)
	}

	opts.Logger.Debug("Created heapshot %d at %s", opts.ID, path)
	return &Heapshot{
		opts:    opts,
		path:    path,
		db:      db,
		objects: make([]ObjectRow, 0, opts.BatchSize),
		refs:    make([]refRow, 0, opts.BatchSize),
	}, nil
}

func openFile(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open heapshot database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get database instance", err)
	}
	// One writer and SQLite file locks do not mix with a pool.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ID returns the ordinal of the heap walk within its stream.
func (h *Heapshot) ID() int { return h.opts.ID }

// Name returns a display name.
func (h *Heapshot) Name() string { return fmt.Sprintf("Heapshot %d", h.opts.ID) }

// Timestamp returns the stream time of the HeapBegin event.
func (h *Heapshot) Timestamp() uint64 { return h.opts.Timestamp }

// IdentitySpace returns the domain of the allocation ids in this heapshot.
func (h *Heapshot) IdentitySpace() string { return h.opts.IdentitySpace }

// Path returns the store file.
func (h *Heapshot) Path() string { return h.path }

// IsFrozen reports whether ingestion has completed.
func (h *Heapshot) IsFrozen() bool { return h.frozen.Load() }

// AddObject records one object and its outgoing references.
func (h *Heapshot) AddObject(rec ObjectRecord, refs []Reference) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	h.objects = append(h.objects, ObjectRow{
		Address: int64(rec.Address),
		AllocID: int64(rec.AllocID),
		TypeID:  int64(rec.TypeID),
		Size:    int64(rec.Size),
	})
	for _, ref := range refs {
		h.refs = append(h.refs, refRow{
			FromAddress: int64(rec.Address),
			ToAddress:   int64(ref.Target),
			Offset:      int64(ref.Offset),
		})
	}
	return h.maybeFlush()
}

// AddRoots records root entries. Objects are classified against them at freeze.
func (h *Heapshot) AddRoots(roots []Root) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	for _, root := range roots {
		h.roots = append(h.roots, rootRow{
			Address:    int64(root.Address),
			Attributes: int64(root.Attributes),
			ExtraInfo:  int64(root.ExtraInfo),
		})
	}
	return h.maybeFlush()
}

func (h *Heapshot) checkWritable() error {
	if h.frozen.Load() {
		return apperrors.Newf(apperrors.CodeFrozen, "%s is frozen", h.Name())
	}
	return h.checkOpen()
}

func (h *Heapshot) maybeFlush() error {
	n := h.opts.BatchSize
	if len(h.objects) < n && len(h.refs) < n && len(h.roots) < n {
		return nil
	}
	return h.flush(context.Background())
}

func (h *Heapshot) flush(ctx context.Context) error {
	if len(h.objects) == 0 && len(h.refs) == 0 && len(h.roots) == 0 {
		return nil
	}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(h.objects) > 0 {
			if err := tx.CreateInBatches(h.objects, h.opts.BatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert objects: %w", err)
			}
		}
		if len(h.refs) > 0 {
			if err := tx.CreateInBatches(h.refs, h.opts.BatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert references: %w", err)
			}
		}
		if len(h.roots) > 0 {
			if err := tx.CreateInBatches(h.roots, h.opts.BatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert roots: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, h.Name(), err)
	}
	h.objects = h.objects[:0]
	h.refs = h.refs[:0]
	h.roots = h.roots[:0]
	return nil
}

var freezeStatements = []string{
	// Every statement is idempotent so a failed freeze can be retried.
	"CREATE INDEX IF NOT EXISTS idx_objects_alloc ON objects(alloc_id)",
	"CREATE INDEX IF NOT EXISTS idx_objects_type_root ON objects(type_id, root_kind)",
	"CREATE INDEX IF NOT EXISTS idx_objects_address ON objects(address)",
	"CREATE INDEX IF NOT EXISTS idx_refs_to ON object_refs(to_address)",
	"CREATE INDEX IF NOT EXISTS idx_roots_address ON roots(address)",
	// Any non-finalizer root wins over the finalization queue.
	fmt.Sprintf(`UPDATE objects SET root_kind = CASE
		WHEN EXISTS (SELECT 1 FROM roots r WHERE r.address = objects.address AND (r.attributes & %d) <> %d) THEN %d
		ELSE %d END
		WHERE address IN (SELECT address FROM roots)`,
		int64(mlog.RootTypeMask), int64(mlog.RootFinalizer), RootNormal, RootFinalizable),
	"ANALYZE",
}

// Freeze ends ingestion. It flushes pending rows, builds indexes, classifies
// roots and computes per-type totals.
func (h *Heapshot) Freeze(ctx context.Context) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	if err := h.flush(ctx); err != nil {
		return err
	}

	db := h.db.WithContext(ctx)
	for _, stmt := range freezeStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to freeze "+h.Name(), err)
		}
	}

	var rows []typeSummaryRow
	err := db.Raw(fmt.Sprintf(`SELECT type_id, COUNT(*) AS count, SUM(size) AS size,
		SUM(CASE WHEN root_kind = %[1]d THEN 1 ELSE 0 END) AS finalizable_count,
		SUM(CASE WHEN root_kind = %[1]d THEN size ELSE 0 END) AS finalizable_size
		FROM objects GROUP BY type_id ORDER BY type_id`, RootFinalizable)).Scan(&rows).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to summarize "+h.Name(), err)
	}

	h.summaries = make(map[mlog.Pointer]TypeSummary, len(rows))
	h.types = make([]TypeSummary, 0, len(rows))
	h.objectCount, h.totalSize = 0, 0
	for _, row := range rows {
		s := TypeSummary{
			TypeID:           mlog.Pointer(row.TypeID),
			Count:            row.Count,
			Size:             row.Size,
			FinalizableCount: row.FinalizableCount,
			FinalizableSize:  row.FinalizableSize,
		}
		h.summaries[s.TypeID] = s
		h.types = append(h.types, s)
		h.objectCount += s.Count
		h.totalSize += s.Size
	}
	h.objects, h.refs, h.roots = nil, nil, nil
	h.frozen.Store(true)

	h.opts.Logger.Info("Froze %s: %d objects, %d bytes, %d types", h.Name(), h.objectCount, h.totalSize, len(h.types))
	return nil
}

func (h *Heapshot) checkFrozen() error {
	if !h.frozen.Load() {
		return apperrors.Newf(apperrors.CodeNotFrozen, "%s is still ingesting", h.Name())
	}
	return nil
}

// Types returns the per-type summaries ordered by type id.
func (h *Heapshot) Types() ([]TypeSummary, error) {
	if err := h.checkFrozen(); err != nil {
		return nil, err
	}
	out := make([]TypeSummary, len(h.types))
	copy(out, h.types)
	return out, nil
}

// TypesBySize returns the per-type summaries, largest first.
func (h *Heapshot) TypesBySize() ([]TypeSummary, error) {
	out, err := h.Types()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out, nil
}

// Objects returns the objects of one type matching filter.
func (h *Heapshot) Objects(typeID mlog.Pointer, filter Filter) (*ObjectList, error) {
	if err := h.checkFrozen(); err != nil {
		return nil, err
	}
	s, ok := h.summaries[typeID]
	if !ok {
		return EmptyObjectList, nil
	}
	count, size := filterTotals(s, filter)
	return NewObjectList(count, size, h.fetcher(func(q *gorm.DB) *gorm.DB {
		return filter.apply(q.Where("type_id = ?", int64(typeID)))
	})), nil
}

// AllObjects returns every object matching filter.
func (h *Heapshot) AllObjects(filter Filter) (*ObjectList, error) {
	if err := h.checkFrozen(); err != nil {
		return nil, err
	}
	var count, size int64
	for _, s := range h.types {
		c, sz := filterTotals(s, filter)
		count += c
		size += sz
	}
	return NewObjectList(count, size, h.fetcher(filter.apply)), nil
}

func (h *Heapshot) fetcher(scope func(*gorm.DB) *gorm.DB) FetchFunc {
	return func(ctx context.Context, opts ListOptions) ([]ObjectRecord, error) {
		if err := h.checkOpen(); err != nil {
			return nil, err
		}
		q := scope(h.db.WithContext(ctx).Model(&ObjectRow{}))
		return FindRecords(q, opts)
	}
}

func filterTotals(s TypeSummary, filter Filter) (int64, int64) {
	switch filter {
	case FilterFinalizable:
		return s.FinalizableCount, s.FinalizableSize
	case FilterNonFinalizable:
		return s.Count - s.FinalizableCount, s.Size - s.FinalizableSize
	default:
		return s.Count, s.Size
	}
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	switch f {
	case FilterFinalizable:
		return q.Where("root_kind = ?", int(RootFinalizable))
	case FilterNonFinalizable:
		return q.Where("root_kind <> ?", int(RootFinalizable))
	default:
		return q
	}
}

// TypeName resolves a type id through the configured resolver.
func (h *Heapshot) TypeName(typeID mlog.Pointer) string {
	if h.opts.Resolver != nil {
		if name, ok := h.opts.Resolver.TypeName(typeID); ok {
			return name
		}
	}
	return fmt.Sprintf("<unknown %s>", typeID)
}

// Roots returns the root entries in the order they were reported.
func (h *Heapshot) Roots(ctx context.Context) ([]Root, error) {
	if err := h.checkFrozen(); err != nil {
		return nil, err
	}
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	var rows []rootRow
	if err := h.db.WithContext(ctx).Order("rowid").Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to load roots", err)
	}
	roots := make([]Root, len(rows))
	for i, row := range rows {
		roots[i] = Root{
			Address:    mlog.ObjectID(row.Address),
			Attributes: mlog.RootAttributes(row.Attributes),
			ExtraInfo:  uint64(row.ExtraInfo),
		}
	}
	return roots, nil
}

// ObjectCount returns the number of objects. Zero before freeze.
func (h *Heapshot) ObjectCount() int64 { return h.objectCount }

// TotalSize returns the sum of object sizes. Zero before freeze.
func (h *Heapshot) TotalSize() int64 { return h.totalSize }

func (h *Heapshot) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return apperrors.Newf(apperrors.CodeInvalidInput, "%s is closed", h.Name())
	}
	return nil
}

// Close releases the database and removes the file unless KeepFile is set.
// Lists obtained from the store fail after Close.
func (h *Heapshot) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	err := closeDB(h.db)
	if !h.opts.KeepFile {
		if rmErr := os.Remove(h.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to close "+h.Name(), err)
	}
	return nil
}
