package servicetree

// Walk visits root and its descendants depth-first in mount order. Returning
// false from visit stops the walk below that service.
func Walk(root Service, visit func(s Service, depth int) bool) {
	walk(root, 0, visit)
}

func walk(s Service, depth int, visit func(s Service, depth int) bool) {
	if !visit(s, depth) {
		return
	}
	for _, child := range s.Children() {
		walk(child, depth+1, visit)
	}
}

// Find returns the first service in the tree with the given name.
func Find(root Service, name string) (Service, bool) {
	var found Service
	Walk(root, func(s Service, _ int) bool {
		if found != nil {
			return false
		}
		if s.Name() == name {
			found = s
			return false
		}
		return true
	})
	return found, found != nil
}

// containsService reports whether target is root or one of its descendants.
func containsService(root, target Service) bool {
	found := false
	Walk(root, func(s Service, _ int) bool {
		if found || sameService(s, target) {
			found = true
			return false
		}
		return true
	})
	return found
}

// sameService compares services by identity, seeing through types that
// embed *Node.
func sameService(a, b Service) bool {
	an, aok := a.(attachable)
	bn, bok := b.(attachable)
	if aok && bok {
		return an.node() == bn.node()
	}
	return a == b
}

// subtreeHeight returns the number of edges on the longest path from root
// to a leaf.
func subtreeHeight(root Service) int {
	height := 0
	for _, child := range root.Children() {
		if h := subtreeHeight(child) + 1; h > height {
			height = h
		}
	}
	return height
}
