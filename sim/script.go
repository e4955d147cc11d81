// sim/script.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/tmcsim/util"

	"github.com/klauspost/compress/zstd"
)

// Script is the set of incidents defined by a script file.
type Script struct {
	Name      string
	Incidents []*Incident
}

// The script file is a TMC_SCRIPT element holding a sequence of
// SCRIPT_EVENTs. Each one names an incident and gives the CAD data that
// becomes available at its TIME_INDEX.
type xmlScriptEvent struct {
	TimeIndex string `xml:"TIME_INDEX"`
	Incident  struct {
		LogNum      string `xml:"LogNum,attr"`
		Description string `xml:",chardata"`
	} `xml:"INCIDENT"`
	CADData *xmlCADData `xml:"CAD_DATA"`
}

type xmlCADData struct {
	Header    *xmlHeader `xml:"HEADER_INFO"`
	Locations []struct {
		ID string `xml:"ID,attr"`
	} `xml:"LOCATION_INFO"`
	Events []xmlCADEvent `xml:"CAD_INCIDENT_EVENT"`
}

type xmlHeader struct {
	LogNum        string `xml:"LogNum"`
	LogStatus     string `xml:"LogStatus"`
	Description   string `xml:"Desc"`
	Priority      string `xml:"Priority"`
	Type          string `xml:"Type"`
	FullLocation  string `xml:"FullLoc"`
	TruncLocation string `xml:"TruncLoc"`
	Beat          string `xml:"Beat"`
	Callbox       string `xml:"Callbox"`
}

type xmlCADEvent struct {
	Details []string `xml:"DETAIL"`
	Units   []struct {
		UnitNum string `xml:"UnitNum,attr"`
		Status  string `xml:"Status,attr"`
		Primary string `xml:"Primary,attr"`
		Active  string `xml:"Active,attr"`
	} `xml:"UNIT"`
	Witnesses []struct {
		Name    string `xml:"Name,attr"`
		Address string `xml:"Address,attr"`
		Phone   string `xml:"PhoneNum,attr"`
	} `xml:"WITNESS"`
	Tows []struct {
		Company string `xml:"Company,attr"`
		ConfNum string `xml:"ConfNum,attr"`
		PubNum  string `xml:"PubNum,attr"`
		Beat    string `xml:"Beat,attr"`
	} `xml:"TOW"`
	Services []struct {
		Name    string `xml:"Name,attr"`
		ConfNum string `xml:"ConfNum,attr"`
		PubNum  string `xml:"PubNum,attr"`
	} `xml:"SERVICE"`
	Audio *struct {
		Path   string `xml:"Path,attr"`
		Length string `xml:"Length,attr"`
	} `xml:"AUDIO"`
	CCTV []struct {
		ID     string `xml:"ID,attr"`
		Dir    string `xml:"Dir,attr"`
		Toggle string `xml:"Toggle,attr"`
	} `xml:"CCTV_INFO"`
	Paramics []struct {
		LocationID string `xml:"LocationID,attr"`
	} `xml:"PARAMICS"`
}

// LoadScriptFile loads the script at the given path. Files with a .zst
// extension are zstd-decompressed.
func LoadScriptFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, scriptError(ErrInvalidScript, err.Error())
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".zst" {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, scriptError(ErrInvalidScript, fmt.Sprintf("%s: %v", path, err))
		}
		defer zr.Close()
		r = zr
	}

	return LoadScript(r, filepath.Base(path))
}

// scriptLoader accumulates incidents as SCRIPT_EVENTs are decoded.
type scriptLoader struct {
	e         util.ErrorLogger
	reasons   []error
	incidents map[int]*Incident
	order     []int
	// haveHeader records which incidents have had their HEADER_INFO.
	haveHeader map[int]bool
}

func (sl *scriptLoader) fail(reason error, format string, args ...any) {
	sl.e.ErrorString(format, args...)
	if !slices.Contains(sl.reasons, reason) {
		sl.reasons = append(sl.reasons, reason)
	}
}

// LoadScript reads a script from r. All problems in the script are
// reported together in the returned ScriptError; malformed XML stops
// loading at the point of the error.
func LoadScript(r io.Reader, name string) (*Script, error) {
	sl := &scriptLoader{
		incidents:  make(map[int]*Incident),
		haveHeader: make(map[int]bool),
	}

	d := xml.NewDecoder(r)
	sawRoot := false
	for {
		token, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, scriptError(ErrInvalidScript, fmt.Sprintf("%s: %v", name, err))
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		if !sawRoot {
			if se.Name.Local != "TMC_SCRIPT" {
				return nil, scriptError(ErrInvalidScript,
					fmt.Sprintf("%s: root element is %s, not TMC_SCRIPT", name, se.Name.Local))
			}
			sawRoot = true
			continue
		}

		if se.Name.Local != "SCRIPT_EVENT" {
			// Unknown elements are ignored.
			if err := d.Skip(); err != nil {
				return nil, scriptError(ErrInvalidScript, fmt.Sprintf("%s: %v", name, err))
			}
			continue
		}

		var xe xmlScriptEvent
		if err := d.DecodeElement(&xe, &se); err != nil {
			return nil, scriptError(ErrInvalidScript, fmt.Sprintf("%s: %v", name, err))
		}
		sl.addScriptEvent(xe)
	}

	if !sawRoot {
		return nil, scriptError(ErrInvalidScript, name+": no TMC_SCRIPT element")
	}
	if len(sl.incidents) == 0 && !sl.e.HaveErrors() {
		sl.fail(ErrNoScriptLoaded, "%s: no incidents defined", name)
	}
	if sl.e.HaveErrors() {
		return nil, &ScriptError{Reason: ErrInvalidScript, Detail: name + ":\n" + sl.e.String(), Errs: sl.reasons}
	}

	s := &Script{Name: name}
	for _, ln := range sl.order {
		inc := sl.incidents[ln]
		inc.sortEvents()
		inc.InitialHeader = inc.Header
		inc.reset()
		s.Incidents = append(s.Incidents, inc)
	}
	return s, nil
}

func (sl *scriptLoader) addScriptEvent(xe xmlScriptEvent) {
	timeIndex := strings.TrimSpace(xe.TimeIndex)
	sl.e.Push("SCRIPT_EVENT " + timeIndex)
	defer sl.e.Pop()

	t, err := util.ParseSimTime(timeIndex)
	if err != nil {
		sl.fail(ErrInvalidTime, "%q: %v", timeIndex, err)
		return
	}

	ln, err := strconv.Atoi(strings.TrimSpace(xe.Incident.LogNum))
	if err != nil || ln <= 0 {
		sl.fail(ErrInvalidIncident, "%q: invalid LogNum", xe.Incident.LogNum)
		return
	}
	sl.e.Push("INCIDENT " + strconv.Itoa(ln))
	defer sl.e.Pop()

	desc := strings.TrimSpace(xe.Incident.Description)
	inc, ok := sl.incidents[ln]
	if !ok {
		inc = &Incident{LogNumber: ln, Description: desc, ScheduledStart: t}
		sl.incidents[ln] = inc
		sl.order = append(sl.order, ln)
	} else if desc != "" && inc.Description != "" && desc != inc.Description {
		sl.fail(ErrDuplicateIncident, "redefined as %q (was %q)", desc, inc.Description)
		return
	}

	offset := t - inc.ScheduledStart
	if offset < 0 {
		sl.fail(ErrInvalidEvent, "%s is before the incident's start at %s", util.FormatSimTime(t),
			util.FormatSimTime(inc.ScheduledStart))
		return
	}

	cd := xe.CADData
	if cd == nil {
		return
	}

	if cd.Header != nil {
		if sl.haveHeader[ln] {
			sl.fail(ErrDuplicateIncident, "second HEADER_INFO")
		} else {
			sl.haveHeader[ln] = true
			h := cd.Header
			inc.Header.Merge(IncidentHeader{
				LogStatus:     strings.TrimSpace(h.LogStatus),
				Description:   strings.TrimSpace(h.Description),
				Priority:      strings.TrimSpace(h.Priority),
				Type:          strings.TrimSpace(h.Type),
				FullLocation:  strings.TrimSpace(h.FullLocation),
				TruncLocation: strings.TrimSpace(h.TruncLocation),
				Beat:          strings.TrimSpace(h.Beat),
				Callbox:       strings.TrimSpace(h.Callbox),
			})
			if hln := strings.TrimSpace(h.LogNum); hln != "" && hln != strconv.Itoa(ln) {
				sl.fail(ErrInvalidIncident, "HEADER_INFO LogNum %q doesn't match", hln)
			}
		}
	}
	for _, loc := range cd.Locations {
		if loc.ID != "" {
			inc.Header.LocationID = loc.ID
		}
	}

	for i, ce := range cd.Events {
		sl.e.Push(fmt.Sprintf("CAD_INCIDENT_EVENT %d", i))
		if p, ok := sl.payload(ce); ok {
			inc.Events = append(inc.Events, IncidentEvent{Offset: offset, Payload: p})
		}
		sl.e.Pop()
	}
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

func (sl *scriptLoader) payload(ce xmlCADEvent) (EventPayload, bool) {
	var p EventPayload
	ok := true

	for _, d := range ce.Details {
		if d = strings.TrimSpace(d); d != "" {
			p.Details = append(p.Details, Detail{Text: d})
		}
	}
	for _, u := range ce.Units {
		p.Units = append(p.Units, Unit{UnitNumber: u.UnitNum, Status: u.Status,
			Primary: parseBool(u.Primary), Active: parseBool(u.Active)})
	}
	for _, w := range ce.Witnesses {
		p.Witnesses = append(p.Witnesses, Witness{Name: w.Name, Address: w.Address, Phone: w.Phone})
	}
	for _, t := range ce.Tows {
		p.Tows = append(p.Tows, Tow{Company: t.Company, ConfirmationNumber: t.ConfNum,
			PublicNumber: t.PubNum, Beat: t.Beat})
	}
	for _, s := range ce.Services {
		p.Services = append(p.Services, Service{Name: s.Name, ConfirmationNumber: s.ConfNum, PublicNumber: s.PubNum})
	}
	if a := ce.Audio; a != nil {
		secs, err := strconv.Atoi(strings.TrimSpace(a.Length))
		if err != nil || secs < 0 {
			sl.fail(ErrInvalidEvent, "AUDIO %q: invalid Length %q", a.Path, a.Length)
			ok = false
		} else {
			p.Audio = &AudioClip{Path: a.Path, Seconds: secs}
		}
	}
	for _, c := range ce.CCTV {
		if _, err := strconv.Atoi(strings.TrimSpace(c.ID)); err != nil {
			sl.fail(ErrInvalidEvent, "CCTV_INFO: invalid ID %q", c.ID)
			ok = false
			continue
		}
		p.CCTV = append(p.CCTV, CCTV{ID: strings.TrimSpace(c.ID), Direction: c.Dir, Toggle: parseBool(c.Toggle)})
	}
	for _, pl := range ce.Paramics {
		p.ParamicsLocations = append(p.ParamicsLocations, pl.LocationID)
	}

	return p, ok
}
