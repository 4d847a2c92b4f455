package agenda

// pendingOps maps table -> id -> whether the latest unsynced effect for that
// record is an upsert. A false value means a delete is outstanding.
type pendingOps map[string]map[string]bool

func pendingFrom(effs ...[]*effect) pendingOps {
	seen := make(map[uint64]*effect)
	for _, list := range effs {
		for _, e := range list {
			seen[e.Seq] = e
		}
	}
	ordered := make([]*effect, 0, len(seen))
	for _, e := range seen {
		ordered = append(ordered, e)
	}
	sortEffects(ordered)

	ops := make(pendingOps)
	for _, e := range ordered {
		if ops[e.Table] == nil {
			ops[e.Table] = make(map[string]bool)
		}
		for _, id := range e.ids() {
			ops[e.Table][id] = e.Op == opUpsert
		}
	}
	return ops
}

// overlay merges the locally committed state of records with outstanding
// effects into a freshly fetched table. Pending upserts keep the local copy,
// pending deletes drop the fetched row.
func overlay[T any](fetched, local []T, id func(T) string, pending map[string]bool) []T {
	if len(pending) == 0 {
		return fetched
	}
	localByID := make(map[string]T, len(local))
	for _, v := range local {
		localByID[id(v)] = v
	}

	out := make([]T, 0, len(fetched))
	present := make(map[string]bool, len(fetched))
	for _, v := range fetched {
		k := id(v)
		upsert, ok := pending[k]
		switch {
		case !ok:
			out = append(out, v)
		case !upsert:
			continue
		default:
			if lv, found := localByID[k]; found {
				v = lv
			}
			out = append(out, v)
		}
		present[k] = true
	}
	for _, v := range local {
		k := id(v)
		if pending[k] && !present[k] {
			out = append(out, v)
		}
	}
	return out
}
