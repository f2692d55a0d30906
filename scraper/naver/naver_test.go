package naver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAPIResponse(t *testing.T) {
	assert.True(t, isAPIResponse("https://new.land.naver.com/api/articles/complex/8928?page=2"))
	assert.True(t, isAPIResponse("https://new.land.naver.com/api/complexes/8928"))
	assert.False(t, isAPIResponse("https://new.land.naver.com/complexes/8928"))
	assert.False(t, isAPIResponse("https://tracker.example.com/api/collect"))
}

func TestScrollResultMoved(t *testing.T) {
	cases := map[string]bool{
		`{"found":true,"moved":true}`:   true,
		`{"found":true,"moved":false}`:  false,
		`{"found":false,"moved":false}`: false,
	}
	for raw, want := range cases {
		var r scrollResult
		require.NoError(t, json.Unmarshal([]byte(raw), &r))
		assert.Equal(t, want, r.moved(), raw)
	}
}

func TestFindChromeBinaryPrefersExplicit(t *testing.T) {
	assert.Equal(t, "/opt/chrome/chrome", findChromeBinary("/opt/chrome/chrome"))
}

func TestFindChromeBinaryFromPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chromium")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)

	assert.Equal(t, bin, findChromeBinary(""))
}
