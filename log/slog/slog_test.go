package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/examcache"
)

func TestJSONAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, stdslog.LevelInfo)

	l.Debug("dropped", nil)
	l.Warn("kv failed", examcache.Fields{"op": "get", "err": errors.New("boom")})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "kv failed" || rec["op"] != "get" || rec["err"] != "boom" {
		t.Fatalf("unexpected record: %#v", rec)
	}
}
