package repo

import (
	"encoding/xml"
	"fmt"
)

type compsXML struct {
	Groups []struct {
		ID           string      `xml:"id"`
		Names        []langValue `xml:"name"`
		Descriptions []langValue `xml:"description"`
		Packages     []string    `xml:"packagelist>packagereq"`
	} `xml:"group"`
}

type langValue struct {
	Lang  string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Value string `xml:",chardata"`
}

// untranslated returns the value without an xml:lang attribute, falling
// back to the first one.
func untranslated(vals []langValue) string {
	for _, v := range vals {
		if v.Lang == "" {
			return v.Value
		}
	}
	if len(vals) > 0 {
		return vals[0].Value
	}
	return ""
}

// ReadComps parses a comps file (optionally compressed) into groups, in
// file order. Groups without packages are skipped.
func ReadComps(path string) ([]Group, error) {
	r, err := openMaybeCompressed(path)
	if err != nil {
		return nil, &SetupError{Path: path, Msg: "cannot open comps", Err: err}
	}
	defer r.Close()

	var doc compsXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &SetupError{Path: path, Msg: "invalid comps XML", Err: err}
	}

	var groups []Group
	seen := make(map[string]bool)
	for _, g := range doc.Groups {
		if len(g.Packages) == 0 {
			continue
		}
		if seen[g.ID] {
			return nil, &SetupError{Path: path, Msg: fmt.Sprintf("duplicate group id %q", g.ID)}
		}
		seen[g.ID] = true
		name := untranslated(g.Names)
		if name == "" {
			name = g.ID
		}
		groups = append(groups, Group{
			ID:          g.ID,
			Name:        name,
			Description: untranslated(g.Descriptions),
			Filename:    GroupFilename(g.ID),
			Packages:    append([]string(nil), g.Packages...),
		})
	}
	return groups, nil
}
