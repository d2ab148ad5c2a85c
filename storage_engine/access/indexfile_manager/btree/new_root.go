package btree

// newRoot grows the tree by one level above a split root.
func (t *Tree) newRoot(res *splitResult) error {
	root, err := t.newNode([]entry{res.max, res.kept})
	if err != nil {
		return err
	}
	t.log.Debug("new btree root", "root", root.pos, "height", t.meta.Height+1)
	t.meta.Root = root.pos
	t.meta.Height++
	return nil
}

// shrinkRoot drops single-child branch roots and frees an empty leaf root.
func (t *Tree) shrinkRoot() error {
	for t.meta.Root != 0 {
		root, err := t.fetchNode(t.meta.Root)
		if err != nil {
			return err
		}
		switch {
		case t.meta.Height > 1 && len(root.entries) == 1:
			if err := t.freeNode(root.pos); err != nil {
				return err
			}
			t.meta.Root = int64(root.entries[0].ref)
			t.meta.Height--
		case t.meta.Height == 1 && len(root.entries) == 0:
			if err := t.freeNode(root.pos); err != nil {
				return err
			}
			t.meta.Root, t.meta.Height = 0, 0
		default:
			return nil
		}
	}
	return nil
}
