package op

import (
	"context"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
)

// Diff3Row reports one key that diverges from base on at least one side.
// Base, OursValues and TheirsValues hold the normal field values of each
// version and are nil where the row does not exist. A side that is Same
// carries the base values.
type Diff3Row struct {
	Key          []any
	Ours         core.DiffResult
	Theirs       core.DiffResult
	Base         []any
	OursValues   []any
	TheirsValues []any
}

// Conflict reports whether both sides changed the row and ended up with
// different versions.
func (r Diff3Row) Conflict() bool {
	if r.Ours == core.Same || r.Theirs == core.Same {
		return false
	}
	return !valuesEqual(r.OursValues, r.TheirsValues)
}

// Diff3Cursor merges Diff2(base, ours) and Diff2(base, theirs) in key order.
type Diff3Cursor struct {
	meta   core.TableMetadata
	ours   *Diff2Cursor
	theirs *Diff2Cursor

	oursOK, theirsOK           bool
	advanceOurs, advanceTheirs bool

	row Diff3Row
	err error
}

// Diff3 runs the three-way diff of table over the base, ours and theirs
// views of a merging checkout.
func Diff3(ctx context.Context, src Source, table string) (*Diff3Cursor, error) {
	meta, err := src.Metadata(ctx, table)
	if err != nil {
		return nil, err
	}

	ours, err := diff2(ctx, src, meta, db.ViewBase, db.ViewOurs)
	if err != nil {
		return nil, err
	}
	theirs, err := diff2(ctx, src, meta, db.ViewBase, db.ViewTheirs)
	if err != nil {
		ours.Close()
		return nil, err
	}

	return &Diff3Cursor{
		meta:          meta,
		ours:          ours,
		theirs:        theirs,
		advanceOurs:   true,
		advanceTheirs: true,
	}, nil
}

// Next advances to the next diverging key. Only the side(s) present in the
// previous row are advanced; a side whose key is larger waits until the
// other catches up.
func (c *Diff3Cursor) Next() bool {
	if c.err != nil {
		return false
	}

	if c.advanceOurs {
		c.oursOK = c.ours.Next()
		if err := c.ours.Err(); err != nil {
			c.err = err
			return false
		}
	}
	if c.advanceTheirs {
		c.theirsOK = c.theirs.Next()
		if err := c.theirs.Err(); err != nil {
			c.err = err
			return false
		}
	}
	c.advanceOurs, c.advanceTheirs = false, false

	if !c.oursOK && !c.theirsOK {
		return false
	}

	o, t := c.ours.Row(), c.theirs.Row()
	cmp := 0
	switch {
	case !c.theirsOK:
		cmp = -1
	case !c.oursOK:
		cmp = 1
	default:
		cmp = compareKeys(o.Key, t.Key)
	}

	switch {
	case cmp < 0:
		c.row = Diff3Row{
			Key:          o.Key,
			Ours:         o.Result,
			Theirs:       core.Same,
			Base:         o.From,
			OursValues:   o.To,
			TheirsValues: o.From,
		}
		c.advanceOurs = true
	case cmp > 0:
		c.row = Diff3Row{
			Key:          t.Key,
			Ours:         core.Same,
			Theirs:       t.Result,
			Base:         t.From,
			OursValues:   t.From,
			TheirsValues: t.To,
		}
		c.advanceTheirs = true
	default:
		c.row = Diff3Row{
			Key:          o.Key,
			Ours:         o.Result,
			Theirs:       t.Result,
			Base:         o.From,
			OursValues:   o.To,
			TheirsValues: t.To,
		}
		c.advanceOurs, c.advanceTheirs = true, true
	}
	return true
}

func (c *Diff3Cursor) Row() Diff3Row {
	return c.row
}

func (c *Diff3Cursor) Metadata() core.TableMetadata {
	return c.meta
}

func (c *Diff3Cursor) Err() error {
	return c.err
}

func (c *Diff3Cursor) Close() error {
	errOurs := c.ours.Close()
	errTheirs := c.theirs.Close()
	if errOurs != nil {
		return errOurs
	}
	return errTheirs
}
