package eventlog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
}

func TestParse_EventKey(t *testing.T) {
	rec, ok := Parse([]byte(`{"ts_ms":1000,"node_id":"A","run_id":"r1","event":"declared_dead","peer_id":"B","extra":{}}`))
	if !ok {
		t.Fatal("expected line to parse")
	}
	if rec.Type != DeclaredDead {
		t.Errorf("expected type declared_dead, got %q", rec.Type)
	}
	if rec.TS != 1000 {
		t.Errorf("expected ts 1000, got %d", rec.TS)
	}
	if rec.RunID != "r1" || rec.NodeID != "A" || rec.PeerID != "B" {
		t.Errorf("unexpected ids: %+v", rec)
	}
}

func TestParse_TypeKeyAndFields(t *testing.T) {
	rec, ok := Parse([]byte(`{"ts_ms":42,"type":"fd_state_change","peer_id":"leader","from":"Suspected","to":"Dead"}`))
	if !ok {
		t.Fatal("expected line to parse")
	}
	if rec.Type != StateChange {
		t.Errorf("expected fd_state_change, got %q", rec.Type)
	}
	if rec.Get("to").String() != "Dead" {
		t.Errorf("expected to=Dead, got %q", rec.Get("to").String())
	}
	if rec.Get("missing").Exists() {
		t.Error("expected missing field not to exist")
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"ts_ms":1,"event":"x"`,
		"array":           `[1,2,3]`,
		"no type":         `{"ts_ms":1}`,
		"empty type":      `{"ts_ms":1,"event":""}`,
		"numeric type":    `{"ts_ms":1,"event":5}`,
		"no ts":           `{"event":"x"}`,
		"string ts":       `{"event":"x","ts_ms":"1"}`,
		"null ts":         `{"event":"x","ts_ms":null}`,
		"plain text line": `bind failed: address already in use`,
	}
	for name, line := range cases {
		if _, ok := Parse([]byte(line)); ok {
			t.Errorf("%s: expected line to be rejected", name)
		}
	}
}

func TestReadFile_Missing(t *testing.T) {
	recs, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestReadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.jsonl")
	writeFile(t, path, "")

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestReadFile_PartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.jsonl")
	writeFile(t, path, `{"ts_ms":1,"event":"hb_ping_sent","run_id":"r"}`+"\n"+`{"ts_ms":2,"event":"declared_de`)

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected only the complete line, got %d records", len(recs))
	}

	// the writer finishes the line; the next poll sees it
	appendFile(t, path, `ad","run_id":"r"}`+"\n")
	recs, err = ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 || recs[1].Type != DeclaredDead {
		t.Errorf("expected completed declared_dead record, got %+v", recs)
	}
}

func TestReadFile_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.jsonl")
	writeFile(t, path, "garbage\n\n"+
		`{"ts_ms":1,"event":"a"}`+"\n"+
		`{"ts_ms":"bad","event":"b"}`+"\n"+
		`{"ts_ms":3,"event":"c"}`+"\n")

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Type != "a" || recs[1].Type != "c" {
		t.Errorf("unexpected records: %+v", recs)
	}
}

func TestScan_EarlyStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.jsonl")
	writeFile(t, path, `{"ts_ms":1,"event":"a"}`+"\n"+`{"ts_ms":2,"event":"b"}`+"\n"+`{"ts_ms":3,"event":"c"}`+"\n")

	var seen []string
	err := Scan(path, func(r Record) bool {
		seen = append(seen, r.Type)
		return r.Type != "b"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("expected scan to stop after b, saw %v", seen)
	}

	// restartable: a second scan starts from the top again
	var again int
	_ = Scan(path, func(Record) bool { again++; return true })
	if again != 3 {
		t.Errorf("expected 3 records on rescan, got %d", again)
	}
}

func TestTail_Incremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.jsonl")
	tail := NewTail(path)

	recs, err := tail.Next()
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected nothing before file exists, got %v %v", recs, err)
	}

	writeFile(t, path, `{"ts_ms":1,"event":"a"}`+"\n"+`{"ts_ms":2,"ev`)
	recs, _ = tail.Next()
	if len(recs) != 1 || recs[0].Type != "a" {
		t.Fatalf("expected record a, got %+v", recs)
	}

	appendFile(t, path, `ent":"b"}`+"\n"+`{"ts_ms":3,"event":"c"}`+"\n")
	recs, _ = tail.Next()
	if len(recs) != 2 || recs[0].Type != "b" || recs[1].Type != "c" {
		t.Fatalf("expected records b and c, got %+v", recs)
	}

	recs, _ = tail.Next()
	if len(recs) != 0 {
		t.Errorf("expected no new records, got %+v", recs)
	}
}

func TestTail_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.jsonl")
	writeFile(t, path, `{"ts_ms":1,"event":"a"}`+"\n"+`{"ts_ms":2,"event":"b"}`+"\n")

	tail := NewTail(path)
	if recs, _ := tail.Next(); len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	writeFile(t, path, `{"ts_ms":9,"event":"z"}`+"\n")
	recs, _ := tail.Next()
	if len(recs) != 1 || recs[0].Type != "z" {
		t.Errorf("expected reread after truncation, got %+v", recs)
	}
}

func TestRecord_BoolAndString(t *testing.T) {
	rec, ok := Parse([]byte(`{"ts_ms":5,"type":"fd_leader_check","dead":true,"alive":"true","extra":{"to":"Dead"}}`))
	if !ok {
		t.Fatal("expected line to parse")
	}
	if !rec.Bool("dead") {
		t.Error("expected dead=true")
	}
	if rec.Bool("alive") {
		t.Error("a string \"true\" is not a boolean")
	}
	if rec.Bool("missing") {
		t.Error("missing field should be false")
	}
	if rec.String("extra.to") != "Dead" {
		t.Errorf("expected nested lookup Dead, got %q", rec.String("extra.to"))
	}
}
