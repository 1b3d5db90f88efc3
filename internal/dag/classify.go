package dag

import "log/slog"

// classify compares the fresh snapshot against the previous one.
//
// Explicit classifications (NEW, UPDATED, DELETED) are recorded first. Changed
// nodes then invalidate their descendants in topological order, and with
// backPropagation their ancestors. Every invalidation is insert-if-absent, so
// the result does not depend on map iteration order and an explicit
// classification is never replaced.
func classify(hashes, previous NodeHashes, t *topology, backPropagation bool, log *slog.Logger) NodeUpdates {
	updates := make(NodeUpdates)
	var changed []NodeKey
	deleted := make(map[NodeKey]struct{})

	for _, k := range hashes.Keys() {
		prev, ok := previous[k]
		switch {
		case !ok:
			updates.insert(k, NewNodeUpdate())
		case prev.Current != hashes[k].Current:
			updates.insert(k, UpdatedNode(prev.Current))
			changed = append(changed, k)
		}
	}
	for _, k := range previous.Keys() {
		if _, ok := hashes[k]; ok {
			continue
		}
		updates.insert(k, DeletedNode(previous[k].Current))
		log.Info("node deleted", "node", k)
		changed = append(changed, k)
		deleted[k] = struct{}{}
	}

	changed = t.ordered(changed)
	for _, k := range changed {
		down := t.downstream(k)
		if _, ok := deleted[k]; ok {
			down = append(down, formerDependents(k, hashes, previous, t)...)
		}
		for _, d := range down {
			updates.insert(d, InvalidatedNode(currentOf(previous, d), k, false))
		}
	}
	if backPropagation {
		for _, k := range changed {
			for _, u := range t.upstream(k) {
				updates.insert(u, InvalidatedNode(currentOf(previous, u), k, true))
			}
		}
	}
	return updates
}

// formerDependents returns nodes that still exist and whose previous record
// captured the removed key, plus everything downstream of them. A definition
// graph drops the edge once the dependency disappears, so the previous
// snapshot is the only place the relationship survives.
func formerDependents(removed NodeKey, hashes, previous NodeHashes, t *topology) []NodeKey {
	var out []NodeKey
	for _, k := range previous.Keys() {
		if _, ok := hashes[k]; !ok {
			continue
		}
		if _, ok := previous[k].Dependency(removed); !ok {
			continue
		}
		out = append(out, k)
		out = append(out, t.downstream(k)...)
	}
	return t.ordered(out)
}

func currentOf(m NodeHashes, k NodeKey) Hash {
	if h, ok := m[k]; ok {
		return h.Current
	}
	return ""
}
