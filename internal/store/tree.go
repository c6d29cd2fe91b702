// ABOUTME: Step tree reconstruction from the flat, time-ordered row list
// ABOUTME: Grouping pass keyed by parent id; no cyclic in-memory graph required

package store

// StepNode is one node of a reconstructed step tree.
type StepNode struct {
	Step     *Step
	Children []*StepNode
}

// BuildStepTree reconstructs the parent/child nesting of a thread's steps
// from the flat list returned by ListSteps. Input order is preserved at
// every level, so a time-ordered input yields a time-ordered tree. Steps
// whose parent is missing from the list are promoted to roots rather than
// dropped.
func BuildStepTree(steps []*Step) []*StepNode {
	nodes := make(map[string]*StepNode, len(steps))
	for _, step := range steps {
		nodes[step.ID] = &StepNode{Step: step}
	}

	var roots []*StepNode
	for _, step := range steps {
		node := nodes[step.ID]
		if step.ParentID != nil {
			if parent, ok := nodes[*step.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}
