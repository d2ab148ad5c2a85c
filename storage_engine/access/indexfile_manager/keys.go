package indexfile

import (
	"fmt"

	"HeapStore/storage_engine/access/indexfile_manager/btree"
	"HeapStore/storage_engine/dberror"
)

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("index name must not be empty")
	}
	if _, err := btree.ParseKeyType(s.KeyType.String()); err != nil {
		return dberror.New(dberror.KindIncompatibleKeyType, "CreateIndex", "indexfile", "index %q: %v", s.Name, err)
	}
	if s.KeyType == btree.KeyCompound {
		if len(s.Components) == 0 {
			return dberror.New(dberror.KindIncompatibleKeyType, "CreateIndex", "indexfile", "compound index %q has no components", s.Name)
		}
		for i, c := range s.Components {
			if c == btree.KeyCompound || c == btree.KeyInvalid {
				return dberror.New(dberror.KindIncompatibleKeyType, "CreateIndex", "indexfile",
					"compound index %q: component %d has type %s", s.Name, i, c)
			}
		}
	} else if len(s.Components) > 0 {
		return dberror.New(dberror.KindIncompatibleKeyType, "CreateIndex", "indexfile", "index %q: components need a compound key", s.Name)
	}
	return nil
}

// normalize checks the shape of k against the declaration and applies case
// folding. Partial compound keys are accepted only when partial is set.
func (ix *Index) normalize(op string, k btree.Key, partial bool) (btree.Key, error) {
	s := ix.spec
	if k.Type() != s.KeyType {
		return btree.Key{}, dberror.New(dberror.KindIncompatibleKeyType, op, "indexfile",
			"index %q expects %s keys, got %s", s.Name, s.KeyType, k.Type())
	}
	if s.KeyType == btree.KeyCompound {
		parts, err := btree.CompoundComponents(k)
		if err != nil {
			return btree.Key{}, err
		}
		if len(parts) == 0 || len(parts) > len(s.Components) || (!partial && len(parts) != len(s.Components)) {
			return btree.Key{}, dberror.New(dberror.KindIncompatibleKeyType, op, "indexfile",
				"index %q expects %d key components, got %d", s.Name, len(s.Components), len(parts))
		}
		for i, p := range parts {
			if p.Type() != s.Components[i] {
				return btree.Key{}, dberror.New(dberror.KindIncompatibleKeyType, op, "indexfile",
					"index %q component %d expects %s, got %s", s.Name, i, s.Components[i], p.Type())
			}
		}
	}
	if s.CaseInsensitive {
		k = btree.FoldCase(k)
	}
	return k, nil
}

func (ix *Index) normalizeBound(op string, b *btree.Bound) (*btree.Bound, error) {
	if b == nil {
		return nil, nil
	}
	k, err := ix.normalize(op, b.Key, true)
	if err != nil {
		return nil, err
	}
	return &btree.Bound{Key: k, Inclusive: b.Inclusive}, nil
}
