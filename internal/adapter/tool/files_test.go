package tool

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
)

func TestWriteCreatesFileAndParents(t *testing.T) {
	tb, _ := newTestToolbox(t)
	write := findTool(t, NewFileTools(tb, testLogger()), "fs_write")

	res := call(t, write, `{"path":"notes/daily/today.md","content":"# Today\n"}`)
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "# Today\n", readWorkspaceFile(t, tb, "notes/daily/today.md"))
}

func TestWriteRefusesEmptyContent(t *testing.T) {
	tb, _ := newTestToolbox(t)
	write := findTool(t, NewFileTools(tb, testLogger()), "fs_write")

	res := call(t, write, `{"path":"a.md","content":"   \n"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "empty content")
}

func TestWriteRefusesCanvasFiles(t *testing.T) {
	tb, _ := newTestToolbox(t)
	write := findTool(t, NewFileTools(tb, testLogger()), "fs_write")

	for _, path := range []string{"deck.canvas", "sub/Board.CANVAS"} {
		res := call(t, write, mustJSON(t, map[string]string{"path": path, "content": "raw"}))
		require.True(t, res.IsError, "path %s", path)
		assert.Contains(t, res.Content, "canvas_op")
	}
}

func TestWriteRefusesTraversal(t *testing.T) {
	tb, _ := newTestToolbox(t)
	write := findTool(t, NewFileTools(tb, testLogger()), "fs_write")

	res := call(t, write, `{"path":"../outside.md","content":"x"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "escapes workspace root")
}

func TestWriteLocksBeforeTouchingDisk(t *testing.T) {
	tb, _ := newTestToolbox(t)
	write := findTool(t, NewFileTools(tb, testLogger()), "fs_write")

	var mu sync.Mutex
	var notified [][]string
	tb.Locks.Subscribe(func(locked []string) {
		mu.Lock()
		notified = append(notified, locked)
		mu.Unlock()
	})

	ctx := domain.ContextWithAgentID(context.Background(), "agent-1")
	res, err := write.Execute(ctx, []byte(`{"path":"a.md","content":"x"}`))
	require.NoError(t, err)
	require.False(t, res.IsError, res.Content)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notified, 2, "one lock and one unlock notification")
	assert.Equal(t, []string{"a.md"}, notified[0])
	assert.Empty(t, notified[1])
	assert.Empty(t, tb.Locks.Snapshot(), "lock released after the write")
}

func TestWriteBlockedWhenAnotherAgentHoldsLock(t *testing.T) {
	tb, _ := newTestToolbox(t)
	write := findTool(t, NewFileTools(tb, testLogger()), "fs_write")

	require.NoError(t, tb.Locks.Lock("a.md", "other-agent"))

	ctx := domain.ContextWithAgentID(context.Background(), "me")
	res, err := write.Execute(ctx, []byte(`{"path":"a.md","content":"x"}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.True(t, res.IsRetryable, "lock contention is transient")
	assert.Contains(t, res.Content, "held by agent other-agent")
}

func TestPatchAllOccurrences(t *testing.T) {
	tb, _ := newTestToolbox(t)
	patch := findTool(t, NewFileTools(tb, testLogger()), "fs_patch")
	writeWorkspaceFile(t, tb, "a.md", "a a a")

	res := call(t, patch, `{"path":"a.md","find":"a","replace":"b"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "Replaced 3 occurrence(s)")
	assert.Equal(t, "b b b", readWorkspaceFile(t, tb, "a.md"))
}

func TestPatchNthOccurrence(t *testing.T) {
	tb, _ := newTestToolbox(t)
	patch := findTool(t, NewFileTools(tb, testLogger()), "fs_patch")
	writeWorkspaceFile(t, tb, "a.md", "x xx x xx x")

	res := call(t, patch, `{"path":"a.md","find":"xx","replace":"YY","occurrence":2}`)
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "x xx x YY x", readWorkspaceFile(t, tb, "a.md"))
}

func TestPatchDiagnostics(t *testing.T) {
	tb, _ := newTestToolbox(t)
	patch := findTool(t, NewFileTools(tb, testLogger()), "fs_patch")
	writeWorkspaceFile(t, tb, "a.md", "needle needle")

	res := call(t, patch, `{"path":"a.md","find":"absent","replace":"x"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, `"absent" does not occur`)

	res = call(t, patch, `{"path":"a.md","find":"needle","replace":"x","occurrence":5}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "occurs 2 time(s)")
}

func TestPatchRefusesCanvas(t *testing.T) {
	tb, _ := newTestToolbox(t)
	patch := findTool(t, NewFileTools(tb, testLogger()), "fs_patch")
	writeWorkspaceFile(t, tb, "deck.canvas", `{"version":1,"shapes":[]}`)

	res := call(t, patch, `{"path":"deck.canvas","find":"shapes","replace":"x"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "canvas_op")
}

func TestReadPaging(t *testing.T) {
	tb, _ := newTestToolbox(t)
	read := findTool(t, NewFileTools(tb, testLogger()), "fs_read")
	writeWorkspaceFile(t, tb, "a.md", "one\ntwo\nthree\nfour")

	res := call(t, read, `{"path":"a.md","start_line":2,"end_line":3}`)
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "two\nthree\n", res.Content)

	res = call(t, read, `{"path":"a.md","start_line":99}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "past the end")
}

func TestReadTruncatesLongFiles(t *testing.T) {
	tb, _ := newTestToolbox(t)
	read := findTool(t, NewFileTools(tb, testLogger()), "fs_read")

	// ReadMaxChars is 200 in tests; 30 lines of 10 chars exceed it.
	content := ""
	for i := 0; i < 30; i++ {
		content += "123456789\n"
	}
	writeWorkspaceFile(t, tb, "long.md", content)

	res := call(t, read, `{"path":"long.md"}`)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "re-call with start_line=")
}

func TestSearchFindsSubstringWithContext(t *testing.T) {
	tb, _ := newTestToolbox(t)
	search := findTool(t, NewFileTools(tb, testLogger()), "fs_search")
	writeWorkspaceFile(t, tb, "a.md", "Hello World\nnext line")
	writeWorkspaceFile(t, tb, "sub/b.md", "nothing here")
	writeWorkspaceFile(t, tb, "deck.canvas", `{"shapes":"world"}`)

	res := call(t, search, `{"query":"world"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "a.md:1: Hello World")
	assert.Contains(t, res.Content, "| next line")
	assert.NotContains(t, res.Content, "deck.canvas", "canvas files are skipped")

	res = call(t, search, `{"query":"absent"}`)
	assert.Contains(t, res.Content, `No matches for "absent" (2 files searched).`)
}

func TestRenameMovesAndProtects(t *testing.T) {
	tb, _ := newTestToolbox(t)
	rename := findTool(t, NewFileTools(tb, testLogger()), "fs_rename")
	writeWorkspaceFile(t, tb, "a.md", "content")
	writeWorkspaceFile(t, tb, "b.md", "existing")

	res := call(t, rename, `{"path":"a.md","new_path":"a.md"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "same path")

	res = call(t, rename, `{"path":"a.md","new_path":"b.md"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "refusing to overwrite")

	res = call(t, rename, `{"path":"a.md","new_path":"moved/c.md"}`)
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "content", readWorkspaceFile(t, tb, "moved/c.md"))
}

func TestDeleteRequiresConfirm(t *testing.T) {
	tb, _ := newTestToolbox(t)
	del := findTool(t, NewFileTools(tb, testLogger()), "fs_delete")
	writeWorkspaceFile(t, tb, "a.md", "bye")

	res := call(t, del, `{"path":"a.md","confirm":"y"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, `confirm="yes"`)
	assert.Equal(t, "bye", readWorkspaceFile(t, tb, "a.md"))

	res = call(t, del, `{"path":"a.md","confirm":"yes"}`)
	require.False(t, res.IsError, res.Content)
}

func TestDeleteProtectsMemoryFile(t *testing.T) {
	tb, _ := newTestToolbox(t)
	del := findTool(t, NewFileTools(tb, testLogger()), "fs_delete")
	writeWorkspaceFile(t, tb, ".inkdesk/memory.md", "## Facts\n- one\n")

	res := call(t, del, `{"path":".inkdesk/memory.md","confirm":"yes"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "memory file")
}

func TestScaffoldSkipsExisting(t *testing.T) {
	tb, _ := newTestToolbox(t)
	scaffold := findTool(t, NewFileTools(tb, testLogger()), "fs_scaffold")
	writeWorkspaceFile(t, tb, "exists.md", "keep me")

	res := call(t, scaffold, `{"entries":[
		{"path":"exists.md","type":"file","content":"overwrite?"},
		{"path":"new.md","type":"file","content":"fresh"},
		{"path":"docs","type":"dir"},
		{"path":"bad.canvas","type":"file","content":"x"}
	]}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "2 created, 1 skipped, 1 failed")
	assert.Equal(t, "keep me", readWorkspaceFile(t, tb, "exists.md"))
	assert.Equal(t, "fresh", readWorkspaceFile(t, tb, "new.md"))
}

func TestListTreeSkipsDotEntries(t *testing.T) {
	tb, _ := newTestToolbox(t)
	list := findTool(t, NewFileTools(tb, testLogger()), "fs_list")
	writeWorkspaceFile(t, tb, "a.md", "x")
	writeWorkspaceFile(t, tb, "sub/b.md", "x")
	writeWorkspaceFile(t, tb, ".inkdesk/memory.md", "x")

	res := call(t, list, `{}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "a.md")
	assert.Contains(t, res.Content, "sub/")
	assert.Contains(t, res.Content, "  b.md")
	assert.NotContains(t, res.Content, ".inkdesk")
}
