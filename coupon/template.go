package coupon

// Template is the multiset of reward values that every box carries. Order is
// irrelevant once shuffled; BuildBoxTemplate emits winners in descending value
// order followed by zero padding so intermediate output is deterministic.
type Template []int64

// BuildBoxTemplate derives one box's reward values from the pool.
func BuildBoxTemplate(p Pool, l Layout) (Template, error) {
	if err := p.Validate(l); err != nil {
		return nil, err
	}

	tmpl := make(Template, 0, l.BoxSize)
	for _, tier := range p.Sorted() {
		for i := 0; i < tier.PerBoxCount; i++ {
			tmpl = append(tmpl, tier.Value)
		}
	}
	for len(tmpl) < l.BoxSize {
		tmpl = append(tmpl, 0)
	}
	return tmpl, nil
}

// Counts groups the template by value. Zero entries are included.
func (t Template) Counts() map[int64]int {
	return countValues(t)
}

// Winners is the number of non-zero entries.
func (t Template) Winners() int {
	n := 0
	for _, v := range t {
		if v != 0 {
			n++
		}
	}
	return n
}

func countValues(values []int64) map[int64]int {
	out := make(map[int64]int)
	for _, v := range values {
		out[v]++
	}
	return out
}

func sameMultiset(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	ca := countValues(a)
	for _, v := range b {
		ca[v]--
		if ca[v] < 0 {
			return false
		}
	}
	return true
}
