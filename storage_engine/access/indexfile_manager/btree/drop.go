package btree

// Drop frees every page of the tree, children before parents, and leaves it
// empty and usable.
func (t *Tree) Drop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meta.Root != 0 {
		if err := t.dropPage(t.meta.Root, t.meta.Height); err != nil {
			return err
		}
	}
	t.meta.Root, t.meta.Height, t.meta.Count = 0, 0, 0
	t.modCount++
	return nil
}

// Invalidate makes every outstanding iterator fail on its next step with
// ErrConcurrentModification. Called when the pages under the tree are about
// to be replaced wholesale.
func (t *Tree) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modCount++
}

func (t *Tree) dropPage(pos int64, height int) error {
	if height > 1 {
		n, err := t.fetchNode(pos)
		if err != nil {
			return err
		}
		for _, e := range n.entries {
			if err := t.dropPage(int64(e.ref), height-1); err != nil {
				return err
			}
		}
	}
	return t.freeNode(pos)
}
