package attrmap

// Diff is the set of writes that turns a current attribute set into a target one.
type Diff struct {
	Insert AttributeSet `json:"insert"`
	Update AttributeSet `json:"update"`
	Delete AttributeSet `json:"delete"`
}

// Empty reports whether applying the diff would write nothing.
func (d Diff) Empty() bool {
	return len(d.Insert) == 0 && len(d.Update) == 0 && len(d.Delete) == 0
}

// Size is the number of attribute writes the diff implies
func (d Diff) Size() int {
	return len(d.Insert) + len(d.Update) + len(d.Delete)
}

// ComputeDiff compares current against target keyed by (source, name).
// Slots present in current but not in target are deleted. A slot duplicated
// in current is deleted and re-inserted so exactly one row survives.
func ComputeDiff(current, target AttributeSet) Diff {
	seen := make(map[string][]Attribute, len(current))
	for _, a := range current {
		seen[a.Key()] = append(seen[a.Key()], a)
	}

	var d Diff
	wanted := make(map[string]bool, len(target))
	for _, t := range target {
		wanted[t.Key()] = true
		rows := seen[t.Key()]
		switch {
		case len(rows) == 0:
			d.Insert = append(d.Insert, t)
		case len(rows) > 1:
			d.Delete = append(d.Delete, rows[0])
			d.Insert = append(d.Insert, t)
		case rows[0].Op != t.Op || rows[0].Value != t.Value:
			d.Update = append(d.Update, t)
		}
	}

	deleted := make(map[string]bool)
	for _, a := range current {
		if !wanted[a.Key()] && !deleted[a.Key()] {
			d.Delete = append(d.Delete, a)
			deleted[a.Key()] = true
		}
	}
	return d
}

// Apply returns current with the diff applied. Used by in-memory stores.
func Apply(current AttributeSet, d Diff) AttributeSet {
	drop := make(map[string]bool)
	for _, a := range d.Delete {
		drop[a.Key()] = true
	}
	upd := make(map[string]Attribute)
	for _, a := range d.Update {
		upd[a.Key()] = a
	}
	out := AttributeSet{}
	for _, a := range current {
		if drop[a.Key()] {
			continue
		}
		if u, ok := upd[a.Key()]; ok {
			a = u
		}
		out = append(out, a)
	}
	return append(out, d.Insert...)
}
