package heapshot

import (
	"context"

	"github.com/heapshot-analysis/internal/parser/mlog"
	apperrors "github.com/heapshot-analysis/pkg/errors"
)

// traceChunk bounds the IN lists used while walking edges.
const traceChunk = 500

// PathStep is one object on a root path. Offset is the field offset in the
// previous step that references this object; it is zero for the root.
type PathStep struct {
	Object ObjectRecord
	Offset uint64
}

// RootPath is a chain of references from a rooted object to a target.
type RootPath struct {
	Steps []PathStep
}

// Root returns the rooted object the path starts at.
func (p *RootPath) Root() ObjectRecord { return p.Steps[0].Object }

// Target returns the object the path was traced to.
func (p *RootPath) Target() ObjectRecord { return p.Steps[len(p.Steps)-1].Object }

// Depth returns the number of references on the path.
func (p *RootPath) Depth() int { return len(p.Steps) - 1 }

type edge struct {
	FromAddress int64
	ToAddress   int64
	Offset      int64 `gorm:"column:field_offset"`
}

type rootedRow struct {
	Address  int64
	RootKind int
}

// TraceToRoot finds a shortest reference chain from any rooted object to
// address by walking incoming edges breadth first. When several roots are at
// the same distance, the one discovered first wins. maxDepth bounds the
// number of references; zero or less means unbounded.
func (h *Heapshot) TraceToRoot(ctx context.Context, address mlog.ObjectID, maxDepth int) (*RootPath, error) {
	if err := h.checkFrozen(); err != nil {
		return nil, err
	}
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	target := int64(address)
	rooted, err := h.rootedAmong(ctx, []int64{target})
	if err != nil {
		return nil, err
	}
	var exists int64
	if err := h.db.WithContext(ctx).Model(&ObjectRow{}).Where("address = ?", target).Count(&exists).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to look up object", err)
	}
	if exists == 0 {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no object at %s in %s", address, h.Name())
	}

	// next[p] is the edge p -> child leading towards the target.
	next := map[int64]edge{}
	visited := map[int64]bool{target: true}
	frontier := []int64{target}
	found, ok := int64(0), rooted[target]
	if ok {
		found = target
	}

	for depth := 0; !ok && len(frontier) > 0; depth++ {
		if maxDepth > 0 && depth >= maxDepth {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var discovered []int64
		for start := 0; start < len(frontier); start += traceChunk {
			end := min(start+traceChunk, len(frontier))
			var edges []edge
			err := h.db.WithContext(ctx).Table("object_refs").
				Select("from_address, to_address, field_offset").
				Where("to_address IN ?", frontier[start:end]).
				Order("rowid").
				Scan(&edges).Error
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to walk references", err)
			}
			for _, e := range edges {
				if visited[e.FromAddress] {
					continue
				}
				visited[e.FromAddress] = true
				next[e.FromAddress] = e
				discovered = append(discovered, e.FromAddress)
			}
		}

		rooted, err := h.rootedAmong(ctx, discovered)
		if err != nil {
			return nil, err
		}
		for _, addr := range discovered {
			if rooted[addr] {
				found, ok = addr, true
				break
			}
		}
		frontier = discovered
	}

	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no root reaches %s in %s", address, h.Name())
	}
	return h.buildPath(ctx, found, target, next)
}

func (h *Heapshot) rootedAmong(ctx context.Context, addrs []int64) (map[int64]bool, error) {
	rooted := make(map[int64]bool)
	for start := 0; start < len(addrs); start += traceChunk {
		end := min(start+traceChunk, len(addrs))
		var rows []rootedRow
		err := h.db.WithContext(ctx).Model(&ObjectRow{}).
			Select("address, root_kind").
			Where("address IN ? AND root_kind <> ?", addrs[start:end], int(RootNone)).
			Scan(&rows).Error
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to classify objects", err)
		}
		for _, row := range rows {
			rooted[row.Address] = true
		}
	}
	return rooted, nil
}

func (h *Heapshot) buildPath(ctx context.Context, root, target int64, next map[int64]edge) (*RootPath, error) {
	addrs := []int64{root}
	offsets := []uint64{0}
	for cur := root; cur != target; {
		e := next[cur]
		addrs = append(addrs, e.ToAddress)
		offsets = append(offsets, uint64(e.Offset))
		cur = e.ToAddress
	}

	var rows []ObjectRow
	if err := h.db.WithContext(ctx).Where("address IN ?", addrs).Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to load path objects", err)
	}
	byAddr := make(map[int64]ObjectRow, len(rows))
	for _, row := range rows {
		byAddr[row.Address] = row
	}

	path := &RootPath{Steps: make([]PathStep, len(addrs))}
	for i, addr := range addrs {
		row, ok := byAddr[addr]
		if !ok {
			// Referenced but never walked: keep the address so the chain stays readable.
			row = ObjectRow{Address: addr, AllocID: addr}
		}
		path.Steps[i] = PathStep{Object: row.Record(), Offset: offsets[i]}
	}
	return path, nil
}
