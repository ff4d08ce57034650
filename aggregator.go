package servicetree

// AggregateReadiness evaluates children left to right and stops at the
// first one that is not ready. It returns true when every child is ready,
// otherwise false and the name of the blocking child. An empty set of
// children is ready.
func AggregateReadiness(children []Service, logger Logger) (bool, string) {
	for _, child := range children {
		if child.IsReady() {
			continue
		}
		if logger != nil {
			logger.Info("Subapp not ready", "subapp", child.Name())
		}
		return false, child.Name()
	}
	return true, ""
}
