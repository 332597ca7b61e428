package lockmgr

// waitForGraph tracks, per owner, which other owners it is currently
// blocked behind, and which paths it currently holds locks on. It is
// rebuilt incrementally as locks acquire and release, and consulted
// (read-only, with the caller's tentative edges passed in) before a caller is allowed to sleep.
type waitForGraph struct {
	blockedBehind map[string]map[string]struct{} // owner -> owners it waits on
	ownedPaths    map[string]map[string]struct{} // owner -> paths it holds a lock on
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{
		blockedBehind: make(map[string]map[string]struct{}),
		ownedPaths:    make(map[string]map[string]struct{}),
	}
}

func (g *waitForGraph) addOwnership(owner, path string) {
	set, ok := g.ownedPaths[owner]
	if !ok {
		set = make(map[string]struct{})
		g.ownedPaths[owner] = set
	}
	set[path] = struct{}{}
}

func (g *waitForGraph) removeOwnership(owner, path string) {
	if set, ok := g.ownedPaths[owner]; ok {
		delete(set, path)
		if len(set) == 0 {
			delete(g.ownedPaths, owner)
		}
	}
}

func (g *waitForGraph) setBlocked(owner string, behind []string) {
	set := make(map[string]struct{}, len(behind))
	for _, o := range behind {
		set[o] = struct{}{}
	}
	g.blockedBehind[owner] = set
}

func (g *waitForGraph) clearBlocked(owner string) {
	delete(g.blockedBehind, owner)
}

// wouldCycle reports whether adding edges from owner to each of
// tentativeBehind would create a cycle in the wait-for graph, using a DFS
// with visited/on-stack sets starting from owner.
func (g *waitForGraph) wouldCycle(owner string, tentativeBehind []string) bool {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(node string, behind []string) bool
	dfs = func(node string, behind []string) bool {
		visited[node] = true
		onStack[node] = true
		defer func() { onStack[node] = false }()

		for _, next := range behind {
			if next == owner {
				return true // back-edge to the origin: cycle
			}
			if onStack[next] {
				return true
			}
			if visited[next] {
				continue
			}
			nextBehind := setToSlice(g.blockedBehind[next])
			if dfs(next, nextBehind) {
				return true
			}
		}
		return false
	}

	return dfs(owner, tentativeBehind)
}

func setToSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
