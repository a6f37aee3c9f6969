package odm

import "github.com/beevik/etree"

// Policy annotations understood by the resolver. All default to false.
const (
	AttrTranslateOID                = VendorNamespace + ":TranslateOID"
	AttrCreate                      = VendorNamespace + ":Create"
	AttrPreliminaryConsistencyCheck = VendorNamespace + ":PreliminaryConsistencyCheck"
)

// ShouldTranslate reports whether the node's identifier is a human-readable
// label that must be looked up, rather than an OID to pass through.
func ShouldTranslate(node *etree.Element) bool {
	return BoolAttr(node, AttrTranslateOID, false)
}

// ShouldCreate reports whether the entity behind the node may be created
// remotely when it does not exist.
func ShouldCreate(node *etree.Element) bool {
	return BoolAttr(node, AttrCreate, false)
}

// RequiresPreliminaryCheck reports whether the full study model must be
// loaded before any subject is touched. For large studies this is
// expensive: every subject and scheduled event is fetched up front.
func RequiresPreliminaryCheck(root *etree.Element) bool {
	return BoolAttr(root, AttrPreliminaryConsistencyCheck, false)
}
