package cmsdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"
)

const testXML = `<?xml version="1.0"?>
<CMS_DIVERSIONS>
  <REGION>
    <CMS>
      <ID>CMS-405-N</ID>
      <POSTMILE>12.7</POSTMILE>
      <INIT_ROUTE>I405 N</INIT_ROUTE>
      <DIVERSION>
        <ORIG_PATH>I405 N</ORIG_PATH>
        <NEW_PATH>SR55 N</NEW_PATH>
        <DIV_PATH>405N_55N</DIV_PATH>
        <MAX_DIVERSION>40</MAX_DIVERSION>
      </DIVERSION>
    </CMS>
  </REGION>
  <CMS>
    <ID>CMS-5-S</ID>
    <POSTMILE>3.1</POSTMILE>
    <INIT_ROUTE>I5 S</INIT_ROUTE>
  </CMS>
  <CMS>
    <ID>CMS-405-N</ID>
    <DIVERSION>
      <ORIG_PATH>I405 N</ORIG_PATH>
      <NEW_PATH>SR73 S</NEW_PATH>
      <DIV_PATH>405N_73S</DIV_PATH>
      <MAX_DIVERSION>100</MAX_DIVERSION>
    </DIVERSION>
  </CMS>
</CMS_DIVERSIONS>
`

func makeTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", log.NewTest("warn"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if n, err := db.LoadXML(context.Background(), strings.NewReader(testXML), "test.xml"); err != nil {
		t.Fatalf("LoadXML: %v", err)
	} else if n != 2 {
		t.Fatalf("expected 2 signs, loaded %d", n)
	}
	return db
}

func TestParseXML(t *testing.T) {
	signs, err := ParseXML(strings.NewReader(testXML), "test.xml")
	if err != nil {
		t.Fatal(err)
	}

	expected := []sim.CMSInfo{
		{ID: "CMS-405-N", Postmile: 12.7, InitialRoute: "I405 N", Diversions: []sim.CMSDiversion{
			{OriginalPath: "I405 N", NewPath: "SR55 N", DiversionPath: "405N_55N", MaxDiversionPercent: 40},
			{OriginalPath: "I405 N", NewPath: "SR73 S", DiversionPath: "405N_73S", MaxDiversionPercent: 100},
		}},
		{ID: "CMS-5-S", Postmile: 3.1, InitialRoute: "I5 S"},
	}
	if !reflect.DeepEqual(signs, expected) {
		t.Errorf("got %+v\nexpected %+v", signs, expected)
	}
}

func TestParseXMLErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		xml  string
	}{
		{"malformed", "<ROOT><CMS><ID>x</ID>"},
		{"missing id", "<ROOT><CMS><POSTMILE>1</POSTMILE></CMS></ROOT>"},
		{"bad postmile", "<ROOT><CMS><ID>A</ID><POSTMILE>far</POSTMILE></CMS></ROOT>"},
		{"bad max", "<ROOT><CMS><ID>A</ID><DIVERSION><MAX_DIVERSION>150</MAX_DIVERSION></DIVERSION></CMS></ROOT>"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseXML(strings.NewReader(test.xml), test.name); !errors.Is(err, sim.ErrInvalidDiversion) {
				t.Errorf("expected ErrInvalidDiversion, got %v", err)
			}
		})
	}
}

func TestDBQueries(t *testing.T) {
	db := makeTestDB(t)
	ctx := context.Background()

	ids, err := db.IDs(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"CMS-405-N", "CMS-5-S"}) {
		t.Errorf("IDs: %v, %v", ids, err)
	}

	ci, err := db.Get(ctx, "CMS-405-N")
	if err != nil {
		t.Fatal(err)
	}
	if ci.Postmile != 12.7 || len(ci.Diversions) != 2 || ci.Diversions[1].NewPath != "SR73 S" {
		t.Errorf("unexpected sign %+v", ci)
	}

	// Returned values are copies.
	ci.Diversions[0].CurrentDiversionPercent = 30
	if again, _ := db.Get(ctx, "CMS-405-N"); again.Diversions[0].CurrentDiversionPercent != 0 {
		t.Errorf("modifying a returned sign changed the cached one")
	}

	if _, err := db.Get(ctx, "CMS-1"); !errors.Is(err, sim.ErrUnknownCMS) {
		t.Errorf("expected ErrUnknownCMS, got %v", err)
	}

	all, err := db.All(ctx)
	if err != nil || len(all) != 2 || all[1].ID != "CMS-5-S" || len(all[1].Diversions) != 0 {
		t.Errorf("All: %+v, %v", all, err)
	}
}

func TestDBUpdateAndReset(t *testing.T) {
	db := makeTestDB(t)
	ctx := context.Background()

	ci, _ := db.Get(ctx, "CMS-405-N")
	ci.Diversions[0].SetCurrent(25)
	ci.Diversions[0].TimeApplied = 90
	if err := db.Update(ctx, ci); err != nil {
		t.Fatal(err)
	}

	// Check both the cache and the table.
	fromTable, err := db.get(ctx, db.db, "CMS-405-N")
	if err != nil {
		t.Fatal(err)
	}
	fromCache, _ := db.Get(ctx, "CMS-405-N")
	for _, got := range []sim.CMSInfo{fromTable, fromCache} {
		if d := got.Diversions[0]; d.CurrentDiversionPercent != 25 || !d.Updated || d.Cleared || d.TimeApplied != 90 {
			t.Errorf("diversion not updated: %+v", d)
		}
	}

	if err := db.Update(ctx, sim.CMSInfo{ID: "CMS-405-N"}); !errors.Is(err, sim.ErrInvalidDiversion) {
		t.Errorf("expected ErrInvalidDiversion, got %v", err)
	}
	if err := db.Update(ctx, sim.CMSInfo{ID: "nope"}); !errors.Is(err, sim.ErrUnknownCMS) {
		t.Errorf("expected ErrUnknownCMS, got %v", err)
	}

	if err := db.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	ci, _ = db.Get(ctx, "CMS-405-N")
	if d := ci.Diversions[0]; d.CurrentDiversionPercent != 0 || !d.Updated || !d.Cleared || d.TimeApplied != 0 {
		t.Errorf("diversion 0 not reset: %+v", d)
	}
	if d := ci.Diversions[1]; d.Updated || !d.Cleared {
		t.Errorf("diversion 1 not reset: %+v", d)
	}
}

func TestDBPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cms.db")
	xmlPath := filepath.Join(t.TempDir(), "cms.xml")
	if err := os.WriteFile(xmlPath, []byte(testXML), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	db, err := Open(path, log.NewTest("warn"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.LoadXMLFile(ctx, xmlPath); err != nil {
		t.Fatal(err)
	}
	ci, _ := db.Get(ctx, "CMS-405-N")
	ci.Diversions[1].SetCurrent(60)
	if err := db.Update(ctx, ci); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path, log.NewTest("warn"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ci, err = db.Get(ctx, "CMS-405-N")
	if err != nil || ci.Diversions[1].CurrentDiversionPercent != 60 {
		t.Errorf("diversion not persisted: %+v, %v", ci, err)
	}

	// Reloading the file replaces the sign's diversions.
	if _, err := db.LoadXMLFile(ctx, xmlPath); err != nil {
		t.Fatal(err)
	}
	ci, _ = db.Get(ctx, "CMS-405-N")
	if len(ci.Diversions) != 2 || ci.Diversions[1].CurrentDiversionPercent != 0 {
		t.Errorf("reload didn't replace diversions: %+v", ci)
	}
}

func TestCoordinatorDiversions(t *testing.T) {
	db := makeTestDB(t)
	paramics := &sim.NullParamics{}
	c := sim.NewCoordinator(sim.CoordinatorOptions{ManualClock: true, CMS: db, Paramics: paramics},
		log.NewTest("warn"))
	defer c.Close()
	ctx := context.Background()

	ci, err := c.GetCMSDiversionInfo(ctx, "CMS-405-N")
	if err != nil {
		t.Fatal(err)
	}
	ci.Diversions[0].CurrentDiversionPercent = 75
	if err := c.ApplyDiversions(ctx, ci); err != nil {
		t.Fatal(err)
	}

	ci, _ = db.Get(ctx, "CMS-405-N")
	if ci.Diversions[0].CurrentDiversionPercent != 40 {
		t.Errorf("expected the diversion clamped to 40%%, got %d", ci.Diversions[0].CurrentDiversionPercent)
	}
	if len(paramics.Diversions) != 1 {
		t.Errorf("diversion not forwarded to Paramics")
	}
	if snap := c.Snapshot(); len(snap.Diversions) != 2 || !snap.Diversions[0].Active() {
		t.Errorf("snapshot diversions %+v", snap.Diversions)
	}
}
