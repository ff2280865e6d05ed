package collection

// TreePath returns the folders from the collection root down to the
// immediate parent of the item with uid. The collection root itself and the
// item are excluded. ok is false when uid is not in the tree.
func TreePath(c *Collection, uid string) ([]*Folder, bool) {
	if c == nil || uid == "" {
		return nil, false
	}
	var path []*Folder
	if walkPath(c.Items, uid, &path) {
		return path, true
	}
	return nil, false
}

func walkPath(items []*Item, uid string, path *[]*Folder) bool {
	for _, it := range items {
		if it == nil {
			continue
		}
		if it.UID() == uid {
			return true
		}
		if it.Folder == nil {
			continue
		}
		*path = append(*path, it.Folder)
		if walkPath(it.Folder.Items, uid, path) {
			return true
		}
		*path = (*path)[:len(*path)-1]
	}
	return false
}

// FindItem locates an item anywhere in the tree.
func FindItem(c *Collection, uid string) *Item {
	if c == nil {
		return nil
	}
	return findIn(c.Items, uid)
}

func findIn(items []*Item, uid string) *Item {
	for _, it := range items {
		if it == nil {
			continue
		}
		if it.UID() == uid {
			return it
		}
		if it.Folder != nil {
			if found := findIn(it.Folder.Items, uid); found != nil {
				return found
			}
		}
	}
	return nil
}

// Flatten orders request items by seq. Folders are visited in seq order
// after the requests at the same level and only when recursive is set.
func Flatten(items []*Item, recursive bool) []*Item {
	var out []*Item
	sorted := sortItems(items)
	for _, it := range sorted {
		if it.Request != nil {
			out = append(out, it)
		}
	}
	if !recursive {
		return out
	}
	for _, it := range sorted {
		if it.Folder != nil {
			out = append(out, Flatten(it.Folder.Items, true)...)
		}
	}
	return out
}
