package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaPrintsSettingsByDefault(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runSchema(nil, &out, &errOut); code != exitCodeSuccess {
		t.Fatalf("expected success, got %d (%s)", code, errOut.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if decoded["title"] != "dirlister settings" {
		t.Fatalf("unexpected title %v", decoded["title"])
	}
}

func TestSchemaPrintsDirEvent(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runSchema([]string{"dir-event"}, &out, &errOut); code != exitCodeSuccess {
		t.Fatalf("expected success, got %d (%s)", code, errOut.String())
	}
	if !strings.Contains(out.String(), "files_removed") {
		t.Fatalf("expected event types in schema, got %s", out.String())
	}
}

func TestSchemaUnknownName(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runSchema([]string{"nope"}, &out, &errOut); code != exitCodeUsage {
		t.Fatalf("expected usage code, got %d", code)
	}
	if !strings.Contains(errOut.String(), "settings") {
		t.Fatalf("expected known names in error, got %q", errOut.String())
	}
}
