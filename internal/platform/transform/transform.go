// Package transform renders resolved documents through named text
// templates. Compiled templates are cached by name until flushed.
package transform

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

// Ext is the file extension of template files.
const Ext = ".tmpl"

// ErrTemplateNotFound is returned for names with no template file.
var ErrTemplateNotFound = errors.New("template not found")

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
	"add":   func(a, b int) int { return a + b },
}

// Cache compiles templates from a file system on first use.
type Cache struct {
	src fs.FS

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewCache creates a cache over src; template "summary" is read from
// "summary.tmpl" at the root of src.
func NewCache(src fs.FS) *Cache {
	return &Cache{src: src, cache: make(map[string]*template.Template)}
}

// Get returns the compiled template, compiling and caching it if needed.
func (c *Cache) Get(name string) (*template.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.cache[name]; ok {
		return t, nil
	}
	file := name + Ext
	if name == "" || !fs.ValidPath(file) {
		return nil, fmt.Errorf("invalid template name %q", name)
	}
	data, err := fs.ReadFile(c.src, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	t, err := template.New(name).Funcs(funcs).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	c.cache[name] = t
	return t, nil
}

// Render executes the named template with data.
func (c *Cache) Render(w io.Writer, name string, data any) error {
	t, err := c.Get(name)
	if err != nil {
		return err
	}
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("execute template %s: %w", name, err)
	}
	return nil
}

// Flush drops one cached template.
func (c *Cache) Flush(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, name)
}

// Clear drops every cached template.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*template.Template)
}

// Len returns the number of compiled templates held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
