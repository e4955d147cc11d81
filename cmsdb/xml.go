// cmsdb/xml.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package cmsdb

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"
)

type xmlDiversion struct {
	OriginalPath  string `xml:"ORIG_PATH"`
	NewPath       string `xml:"NEW_PATH"`
	DiversionPath string `xml:"DIV_PATH"`
	MaxDiversion  string `xml:"MAX_DIVERSION"`
}

type xmlCMS struct {
	ID         string         `xml:"ID"`
	Postmile   string         `xml:"POSTMILE"`
	InitRoute  string         `xml:"INIT_ROUTE"`
	Diversions []xmlDiversion `xml:"DIVERSION"`
}

// ParseXML reads the CMS diversion file. Signs may appear at any depth
// under the root element; a sign listed more than once collects the
// diversions of all of its entries. All problems found are reported
// together.
func ParseXML(r io.Reader, name string) ([]sim.CMSInfo, error) {
	var e util.ErrorLogger
	var signs []sim.CMSInfo
	index := make(map[string]int)

	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, &sim.ScriptError{Reason: sim.ErrInvalidDiversion, Detail: fmt.Sprintf("%s: %v", name, err)}
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "CMS" {
			continue
		}
		var xc xmlCMS
		if err := d.DecodeElement(&xc, &se); err != nil {
			return nil, &sim.ScriptError{Reason: sim.ErrInvalidDiversion, Detail: fmt.Sprintf("%s: %v", name, err)}
		}

		ci, ok := convertCMS(&e, xc)
		if !ok {
			continue
		}
		if i, ok := index[ci.ID]; ok {
			signs[i].Diversions = append(signs[i].Diversions, ci.Diversions...)
		} else {
			index[ci.ID] = len(signs)
			signs = append(signs, ci)
		}
	}

	if e.HaveErrors() {
		return nil, &sim.ScriptError{Reason: sim.ErrInvalidDiversion, Detail: name + ":\n" + e.String()}
	}
	slices.SortFunc(signs, func(a, b sim.CMSInfo) int { return strings.Compare(a.ID, b.ID) })
	return signs, nil
}

func convertCMS(e *util.ErrorLogger, xc xmlCMS) (sim.CMSInfo, bool) {
	id := strings.TrimSpace(xc.ID)
	if id == "" {
		e.ErrorString("CMS without an ID")
		return sim.CMSInfo{}, false
	}
	e.Push("CMS " + id)
	defer e.Pop()

	ok := true
	ci := sim.CMSInfo{ID: id, InitialRoute: strings.TrimSpace(xc.InitRoute)}
	if pm := strings.TrimSpace(xc.Postmile); pm != "" {
		var err error
		if ci.Postmile, err = strconv.ParseFloat(pm, 64); err != nil {
			e.ErrorString("%q: invalid POSTMILE", xc.Postmile)
			ok = false
		}
	}

	for i, xd := range xc.Diversions {
		maxPct, err := strconv.Atoi(strings.TrimSpace(xd.MaxDiversion))
		if err != nil || maxPct < 0 || maxPct > 100 {
			e.ErrorString("DIVERSION %d: %q: invalid MAX_DIVERSION", i, xd.MaxDiversion)
			ok = false
			continue
		}
		ci.Diversions = append(ci.Diversions, sim.CMSDiversion{
			OriginalPath:        strings.TrimSpace(xd.OriginalPath),
			NewPath:             strings.TrimSpace(xd.NewPath),
			DiversionPath:       strings.TrimSpace(xd.DiversionPath),
			MaxDiversionPercent: maxPct,
		})
	}
	return ci, ok
}

// LoadXML imports the signs in the CMS diversion file read from r,
// replacing any stored signs with the same ids. It returns the number
// of signs loaded.
func (d *DB) LoadXML(ctx context.Context, r io.Reader, name string) (int, error) {
	signs, err := ParseXML(r, name)
	if err != nil {
		return 0, err
	}
	if err := d.Put(ctx, signs...); err != nil {
		return 0, err
	}
	return len(signs), nil
}

func (d *DB) LoadXMLFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return d.LoadXML(ctx, f, filepath.Base(path))
}
