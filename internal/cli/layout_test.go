package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layoutNotebook = `{
 "cells": [
  {"cell_type": "markdown", "id": "md0", "metadata": {}, "source": "# Sales"},
  {"cell_type": "code", "id": "code1", "metadata": {}, "execution_count": 1, "source": "w = Slider()",
   "outputs": [{"output_type": "display_data", "data": {"application/mercury+json": {"model_id": "w1", "position": "sidebar", "widget": "Slider"}}, "metadata": {}}]},
  {"cell_type": "code", "id": "code2", "metadata": {}, "execution_count": 2, "source": "print(w.value)",
   "outputs": [{"output_type": "stream", "name": "stdout", "text": ["5\n"]}]}
 ],
 "metadata": {"mercury": {"title": "Sales"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLayoutCommandText(t *testing.T) {
	nb := writeFile(t, t.TempDir(), "sales.ipynb", layoutNotebook)

	buf := &bytes.Buffer{}
	cmd := NewLayoutCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{nb, "--width", "100"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "Sales\n")
	assert.Contains(t, out, "sidebar")
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "code1")
	assert.Contains(t, out, "◆ Slider (w1)")
	assert.Contains(t, out, "5")
}

func TestLayoutCommandJSON(t *testing.T) {
	nb := writeFile(t, t.TempDir(), "sales.ipynb", layoutNotebook)

	buf := &bytes.Buffer{}
	cmd := NewLayoutCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{nb})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Title  string `json:"title"`
			Layout struct {
				Sidebar []struct {
					CellID string `json:"cell_id"`
				} `json:"sidebar"`
				Main []struct {
					CellID string `json:"cell_id"`
				} `json:"main"`
			} `json:"layout"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Sales", resp.Data.Title)
	require.Len(t, resp.Data.Layout.Sidebar, 1)
	assert.Equal(t, "code1", resp.Data.Layout.Sidebar[0].CellID)
	require.Len(t, resp.Data.Layout.Main, 2)
	assert.Equal(t, "md0", resp.Data.Layout.Main[0].CellID)
	assert.Equal(t, "code2", resp.Data.Layout.Main[1].CellID)
}

func TestLayoutCommandMissingNotebook(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewLayoutCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/x.ipynb"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), CodeNotebook)
}
