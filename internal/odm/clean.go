package odm

import "github.com/beevik/etree"

// AttrMatcher selects attributes for removal.
type AttrMatcher func(a etree.Attr) bool

// InNamespace matches every attribute with the given prefix, like the
// XPath wildcard @prefix:*.
func InNamespace(prefix string) AttrMatcher {
	return func(a etree.Attr) bool { return a.Space == prefix }
}

// ValueEquals matches attributes whose value is exactly v.
func ValueEquals(v string) AttrMatcher {
	return func(a etree.Attr) bool { return a.Value == v }
}

// Named matches attributes by qualified name.
func Named(name string) AttrMatcher {
	return func(a etree.Attr) bool { return a.FullKey() == name }
}

// And matches when all matchers match.
func And(ms ...AttrMatcher) AttrMatcher {
	return func(a etree.Attr) bool {
		for _, m := range ms {
			if !m(a) {
				return false
			}
		}
		return true
	}
}

// RemoveAttrs deletes every attribute in the subtree rooted at root that
// matches, and returns how many were removed.
func RemoveAttrs(root *etree.Element, match AttrMatcher) int {
	if root == nil {
		return 0
	}
	removed := 0
	kept := root.Attr[:0]
	for _, a := range root.Attr {
		if match(a) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	root.Attr = kept
	for _, child := range root.ChildElements() {
		removed += RemoveAttrs(child, match)
	}
	return removed
}

// Clean strips resolution-time scaffolding: every vendor annotation and
// every attribute, of any name, still holding the sentinel.
func Clean(d *Document) int {
	root := d.Root()
	n := RemoveAttrs(root, InNamespace(VendorNamespace))
	n += RemoveAttrs(root, ValueEquals(Sentinel))
	return n
}
