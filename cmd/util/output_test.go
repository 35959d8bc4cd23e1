package util

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmit(t *testing.T) {
	payload := map[string]int{"tables": 3}
	human := func(w io.Writer) { io.WriteString(w, "human report\n") }

	t.Run("human only", func(t *testing.T) {
		var out bytes.Buffer
		if err := Emit(&out, "", human, payload); err != nil {
			t.Fatal(err)
		}
		if out.String() != "human report\n" {
			t.Errorf("unexpected output %q", out.String())
		}
	})

	t.Run("json on stdout replaces human output", func(t *testing.T) {
		var out bytes.Buffer
		if err := Emit(&out, "stdout", human, payload); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(out.String(), "human report") {
			t.Errorf("human output leaked into JSON stdout: %q", out.String())
		}
		var got map[string]int
		if err := json.Unmarshal(out.Bytes(), &got); err != nil || got["tables"] != 3 {
			t.Errorf("stdout is not the JSON payload: %q (%v)", out.String(), err)
		}
	})

	t.Run("json file keeps human output", func(t *testing.T) {
		var out bytes.Buffer
		path := filepath.Join(t.TempDir(), "report.json")
		if err := Emit(&out, path, human, payload); err != nil {
			t.Fatal(err)
		}
		if out.String() != "human report\n" {
			t.Errorf("unexpected output %q", out.String())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"tables": 3`) {
			t.Errorf("unexpected file content %s", data)
		}
	})
}
