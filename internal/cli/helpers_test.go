package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/testutil"
)

const (
	alice = "@alice:a.example"
	bob   = "@bob:b.example"
)

// writeConfig writes a CUE configuration trusting the test keys of servers
// and returns its path.
func writeConfig(t *testing.T, dir string, servers ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("workers: 2\n")
	for _, s := range servers {
		fmt.Fprintf(&b, "keys: %q: %q: %q\n", s, testutil.KeyID, signing.EncodeBase64(testutil.PublicKey(s)))
	}
	path := filepath.Join(dir, "concord.cue")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// writeBundle writes every event of r as a bundle whose "main" tip is the
// branch tip of r.
func writeBundle(t *testing.T, dir, name string, r *testutil.Room) string {
	t.Helper()
	b := Bundle{Tips: map[string]string{"main": r.Tip()[0]}}
	for _, ev := range r.Events() {
		b.Events = append(b.Events, json.RawMessage(ev.JSON()))
	}
	data, err := json.Marshal(b)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// simpleRoom builds a room where bob joins and alice sets a topic.
func simpleRoom(t *testing.T) *testutil.Room {
	t.Helper()
	r := testutil.NewRoom(t, "10", alice)
	r.JoinRules(alice, "public")
	r.Join(bob)
	r.State(alice, "m.room.topic", "", map[string]any{"topic": "hello"})
	return r
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decode unmarshals a JSON response envelope, with its data into data.
func decode(t *testing.T, out string, data any) Response {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *ResponseError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return Response{Status: raw.Status, Error: raw.Error}
}
