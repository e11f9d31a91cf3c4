package harness

// permute calls fn with every ordering of 0..n-1 (Heap's algorithm),
// starting with the identity. Iteration stops when fn returns false.
// fn must not retain the slice.
func permute(n int, fn func(order []int) bool) {
	order := identity(n)
	if !fn(order) {
		return
	}

	c := make([]int, n)
	for i := 0; i < n; {
		if c[i] < i {
			if i%2 == 0 {
				order[0], order[i] = order[i], order[0]
			} else {
				order[c[i]], order[i] = order[i], order[c[i]]
			}
			if !fn(order) {
				return
			}
			c[i]++
			i = 0
		} else {
			c[i] = 0
			i++
		}
	}
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func isIdentity(order []int) bool {
	for i, v := range order {
		if i != v {
			return false
		}
	}
	return true
}
