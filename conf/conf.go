// Package conf is an in-memory store for Hadoop-style XML configuration
// files: ordered (name, value, final) property triples, one document per
// concern. A Bundle groups the documents that together configure one
// cluster and gives them merge-or-append semantics.
package conf

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Property is a single configuration entry. Final marks the value as
// immutable for later merges performed by the managed software.
type Property struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
	Final bool   `xml:"final,omitempty"`
}

// File is one named configuration document. Property order is preserved
// across load and save; names are unique within a file.
type File struct {
	Name       string
	Properties []Property
}

type document struct {
	XMLName    xml.Name   `xml:"configuration"`
	Properties []Property `xml:"property"`
}

// Set replaces the value (and final flag) of an existing property in place
// and reports whether the property was present.
func (f *File) Set(name, value string, final bool) bool {
	for i := range f.Properties {
		if f.Properties[i].Name == name {
			f.Properties[i].Value = value
			f.Properties[i].Final = final
			return true
		}
	}
	return false
}

// Append adds a property at the end of the file. If the property already
// exists it is replaced instead, keeping names unique.
func (f *File) Append(name, value string, final bool) {
	if f.Set(name, value, final) {
		return
	}
	f.Properties = append(f.Properties, Property{Name: name, Value: value, Final: final})
}

// Lookup returns the value of the named property, if present.
func (f *File) Lookup(name string) (string, bool) {
	for i := range f.Properties {
		if f.Properties[i].Name == name {
			return f.Properties[i].Value, true
		}
	}
	return "", false
}

// Parse reads one configuration document.
func Parse(name string, r io.Reader) (*File, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &File{Name: name, Properties: doc.Properties}, nil
}

// Write serializes the document. Round-tripping through Parse is lossless
// for names, values and the final flag; comments and formatting are not
// preserved.
func (f *File) Write(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	doc := document{Properties: f.Properties}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("serializing %s: %w", f.Name, err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Bundle is the set of configuration files describing one cluster. Files
// are scanned in a fixed order: the order they were loaded in. Fallback
// names the file that receives properties not found in any file.
type Bundle struct {
	Files    []*File
	Fallback string
}

// Load reads the given files into a bundle, preserving property order.
// The scan order of the bundle is the order of paths.
func Load(paths []string, fallback string) (*Bundle, error) {
	b := &Bundle{Fallback: fallback}
	for _, p := range paths {
		fh, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		f, err := Parse(filepath.Base(p), fh)
		fh.Close()
		if err != nil {
			return nil, err
		}
		b.Files = append(b.Files, f)
	}
	return b, nil
}

// File returns the named file of the bundle, or nil.
func (b *Bundle) File(name string) *File {
	for _, f := range b.Files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// SetOrAppend scans the files in bundle order; the first file containing
// name has its value replaced in place and true is returned. If no file
// contains it, the property is appended to the fallback file and false is
// returned. Both outcomes are success: the flag only distinguishes
// "overrode existing" from "introduced new".
func (b *Bundle) SetOrAppend(name, value string, final bool) (bool, error) {
	for _, f := range b.Files {
		if f.Set(name, value, final) {
			return true, nil
		}
	}
	fallback := b.File(b.Fallback)
	if fallback == nil {
		return false, fmt.Errorf("bundle has no fallback file %q for property %q", b.Fallback, name)
	}
	fallback.Append(name, value, final)
	return false, nil
}

// Lookup returns the values of the requested properties that exist in the
// bundle. Missing names are simply absent from the result. When a name
// appears in more than one file, the first file in scan order wins.
func (b *Bundle) Lookup(names []string) map[string]string {
	found := map[string]string{}
	for _, name := range names {
		for _, f := range b.Files {
			if v, ok := f.Lookup(name); ok {
				found[name] = v
				break
			}
		}
	}
	return found
}

// Save writes every file of the bundle into dir.
func (b *Bundle) Save(dir string) error {
	for _, f := range b.Files {
		fh, err := os.Create(filepath.Join(dir, f.Name))
		if err != nil {
			return fmt.Errorf("creating config file: %w", err)
		}
		err = f.Write(fh)
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
