package orgs

import "sort"

// BuildTree assembles the organization forest from a flat adjacency list.
// Children are grouped by parent id up front and attached with an explicit
// stack, so depth is bounded by memory, not goroutine stack size. Nodes
// whose parent is absent from the input are treated as roots.
func BuildTree(list []Organization) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(list))
	byParent := make(map[string][]*TreeNode, len(list))

	for _, org := range list {
		nodes[org.ID] = &TreeNode{Organization: org}
	}
	for _, org := range list {
		n := nodes[org.ID]
		parent := org.ParentID
		if parent != "" {
			if _, ok := nodes[parent]; !ok {
				parent = ""
			}
		}
		byParent[parent] = append(byParent[parent], n)
	}

	for _, children := range byParent {
		sortNodes(children)
	}

	roots := byParent[""]
	stack := make([]*TreeNode, len(roots))
	copy(stack, roots)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n.Children = byParent[n.ID]
		stack = append(stack, n.Children...)
	}

	return roots
}

// SubtreeIDs returns rootID plus every descendant id, walking the adjacency
// breadth-first. Returns just rootID when it has no known children. Ids
// already visited are skipped, so a parent cycle in the stored adjacency
// cannot loop the walk.
func SubtreeIDs(list []Organization, rootID string) []string {
	byParent := make(map[string][]string, len(list))
	for _, org := range list {
		byParent[org.ParentID] = append(byParent[org.ParentID], org.ID)
	}

	ids := []string{rootID}
	seen := map[string]struct{}{rootID: {}}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range byParent[id] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			ids = append(ids, child)
			queue = append(queue, child)
		}
	}
	return ids
}

func sortNodes(nodes []*TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].SortOrder != nodes[j].SortOrder {
			return nodes[i].SortOrder < nodes[j].SortOrder
		}
		return nodes[i].Name < nodes[j].Name
	})
}
