package incremental

import "sort"

// DeduplicateChanges keeps the last entry per path, in first-seen order.
func DeduplicateChanges(changes []ChangedFile) []ChangedFile {
	seen := make(map[string]int) // path -> index in result
	var result []ChangedFile

	for _, c := range changes {
		if idx, exists := seen[c.Path]; exists {
			result[idx] = c
		} else {
			seen[c.Path] = len(result)
			result = append(result, c)
		}
	}

	return result
}

// relevantChanges drops changes that touch no analyzed path.
func relevantChanges(changes []ChangedFile, accepts func(string) bool) []ChangedFile {
	var out []ChangedFile
	for _, c := range changes {
		if accepts(c.Path) || (c.OldPath != "" && accepts(c.OldPath)) {
			out = append(out, c)
		}
	}
	return out
}

// applyChanges derives the head path set from the base paths and a change
// list. recompute holds head paths whose content may differ from base.
func applyChanges(basePaths []string, changes []ChangedFile, accepts func(string) bool) (headPaths []string, recompute map[string]bool) {
	set := make(map[string]bool, len(basePaths))
	for _, p := range basePaths {
		set[p] = true
	}
	recompute = make(map[string]bool)

	for _, c := range changes {
		switch c.ChangeType {
		case ChangeDeleted:
			delete(set, c.Path)
		case ChangeRenamed:
			delete(set, c.OldPath)
			fallthrough
		default:
			if accepts(c.Path) {
				set[c.Path] = true
				recompute[c.Path] = true
			}
		}
	}

	headPaths = make([]string, 0, len(set))
	for p := range set {
		headPaths = append(headPaths, p)
	}
	sort.Strings(headPaths)
	return headPaths, recompute
}
