package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archivelab/linkmeta/internal/linkmeta"
	"github.com/archivelab/linkmeta/internal/pipeline"
)

func sampleRecords() []pipeline.Record {
	return []pipeline.Record{
		{
			SourceID: "alice/100",
			AnalysisResult: linkmeta.AnalysisResult{
				URL:       "https://example.com/a",
				Title:     "A",
				Status:    linkmeta.StatusSuccess,
				LinkCount: 3,
			},
		},
		{
			SourceID: "alice/101",
			AnalysisResult: linkmeta.AnalysisResult{
				URL:    "https://example.com/b",
				Status: linkmeta.StatusFailed,
				Error:  "http status 503",
			},
		},
	}
}

func TestWriteJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, sampleRecords()))

	scanner := bufio.NewScanner(&buf)
	var lines []pipeline.Record
	for scanner.Scan() {
		var rec pipeline.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	require.Equal(t, "alice/100", lines[0].SourceID)
	require.Equal(t, linkmeta.StatusFailed, lines[1].Status)
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out", "results.jsonl")
	require.NoError(t, WriteFile(path, sampleRecords()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, bytes.Count(data, []byte("\n")))

	// No stray temp files remain.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
