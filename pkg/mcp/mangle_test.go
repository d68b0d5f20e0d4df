package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMangle(t *testing.T) {
	assert.Equal(t, "mcp_fs1_read_file", Mangle("fs1", "read_file"))
	assert.Equal(t, "mcp_kb_query", Mangle("kb", "query"))
}

func TestDemangle(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{name: "simple", input: "mcp_kb_query", wantServer: "kb", wantTool: "query"},
		{name: "tool with underscores", input: "mcp_fs1_read_file", wantServer: "fs1", wantTool: "read_file"},
		{name: "many underscores in tool", input: "mcp_s_a_b_c", wantServer: "s", wantTool: "a_b_c"},
		{name: "no prefix", input: "read_file", wantErr: true},
		{name: "prefix only", input: "mcp_", wantErr: true},
		{name: "missing tool", input: "mcp_server", wantErr: true},
		{name: "empty server", input: "mcp__tool", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, err := Demangle(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadToolName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestMangleDemangleRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"fs1", "read_file"},
		{"kb", "query"},
		{"code-search", "find_symbol_references"},
	}
	for _, p := range pairs {
		server, tool, err := Demangle(Mangle(p[0], p[1]))
		require.NoError(t, err)
		assert.Equal(t, p[0], server)
		assert.Equal(t, p[1], tool)
	}
}

func TestIsMangled(t *testing.T) {
	assert.True(t, IsMangled("mcp_fs1_read_file"))
	assert.False(t, IsMangled("read_file"))
}
