// Package odm provides read/write access to CDISC ODM clinical-data
// documents: path-based node queries, attribute access with default-value
// and boolean-flag semantics, and bulk attribute removal used to strip
// resolution-time annotations.
package odm

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const (
	// Sentinel is the placeholder value upstream templates emit for fields
	// they could not fill. Attributes holding it are treated as absent.
	Sentinel = "<VALUE>"

	// VendorNamespace prefixes the policy annotations added by the
	// integration engine. None of them survive a full resolution run.
	VendorNamespace = "Mirth"

	// ExtensionNamespace prefixes OpenClinica's ODM extension attributes.
	ExtensionNamespace = "OpenClinica"
)

// Query paths for the reconciliation-relevant parts of a document.
const (
	PathRoot           = "/ODM"
	PathClinicalData   = "/ODM/ClinicalData"
	PathSubjectData    = "./SubjectData"
	PathStudyEventData = "./StudyEventData"
)

// Document wraps a parsed ODM XML tree. It is not safe for concurrent use.
type Document struct {
	tree *etree.Document
}

// Parse reads an ODM document from raw XML.
func Parse(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, &DocumentError{Reason: "XML data is empty"}
	}
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, &DocumentError{Reason: "failed to parse XML", Err: err}
	}
	if tree.Root() == nil {
		return nil, &DocumentError{Reason: "document has no root element"}
	}
	return &Document{tree: tree}, nil
}

// Root returns the document element.
func (d *Document) Root() *etree.Element {
	return d.tree.Root()
}

// Query evaluates an absolute path against the whole document.
func (d *Document) Query(path string) ([]*etree.Element, error) {
	return Query(&d.tree.Element, path)
}

// Bytes serialises the document.
func (d *Document) Bytes() ([]byte, error) {
	b, err := d.tree.WriteToBytes()
	if err != nil {
		return nil, &DocumentError{Reason: "failed to serialise document", Err: err}
	}
	return b, nil
}

// String serialises the document, returning an empty string on failure.
func (d *Document) String() string {
	s, err := d.tree.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// Query evaluates path relative to ctx and returns matching elements in
// document order. No match is not an error; a malformed path is.
func Query(ctx *etree.Element, path string) ([]*etree.Element, error) {
	p, err := etree.CompilePath(path)
	if err != nil {
		return nil, &DocumentError{Reason: fmt.Sprintf("invalid path %q", path), Err: err}
	}
	found := ctx.FindElementsPath(p)
	if found == nil {
		return []*etree.Element{}, nil
	}
	return found, nil
}

// Attr returns the value of a required attribute. Qualified names such as
// "OpenClinica:StartDate" are matched on prefix and local name.
func Attr(node *etree.Element, name string) (string, error) {
	a := node.SelectAttr(name)
	if a == nil {
		return "", &MissingAttributeError{Element: node.Tag, Attribute: name}
	}
	return a.Value, nil
}

// AttrDefault returns the attribute value, or def when it is absent.
func AttrDefault(node *etree.Element, name, def string) string {
	return node.SelectAttrValue(name, def)
}

// BoolAttr interprets an attribute as a boolean flag. An absent attribute
// yields def; "true", "1" and "yes" (any case) are true, anything else false.
func BoolAttr(node *etree.Element, name string, def bool) bool {
	a := node.SelectAttr(name)
	if a == nil {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(a.Value)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// SetAttr creates the attribute or replaces its value.
func SetAttr(node *etree.Element, name, value string) {
	node.CreateAttr(name, value)
}

// Attrs returns the node's attributes as qualified-name/value pairs in
// document order, skipping any that hold the sentinel placeholder.
func Attrs(node *etree.Element) []etree.Attr {
	out := make([]etree.Attr, 0, len(node.Attr))
	for _, a := range node.Attr {
		if a.Value == Sentinel {
			continue
		}
		out = append(out, a)
	}
	return out
}
