// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workdir

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{"temporary", "beside", "custom", "external"} {
		p, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	_, err := ParsePolicy("cloud")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
	assert.Equal(t, "Policy(9)", Policy(9).String())
}

func TestAllocate_TemporaryIsUniqueAndRemovedOnRelease(t *testing.T) {
	a := NewAllocator(WithTempRoot(t.TempDir()))
	req := Request{DocumentName: "Beam", SolverLabel: "SolverElmer"}

	first, err := a.Allocate(PolicyTemporary, req)
	require.NoError(t, err)
	second, err := a.Allocate(PolicyTemporary, req)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.DirExists(t, first)
	assert.DirExists(t, second)

	rec, ok := a.Lookup(first)
	require.True(t, ok)
	assert.Equal(t, PolicyTemporary, rec.Policy)

	require.NoError(t, a.Release(first))
	assert.NoDirExists(t, first)
	_, ok = a.Lookup(first)
	assert.False(t, ok)
}

func TestAllocate_BesideRequiresSavedDocument(t *testing.T) {
	a := NewAllocator()
	req := Request{DocumentName: "Beam", SolverLabel: "SolverElmer"}

	_, err := a.Allocate(PolicyBeside, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSaved)
	var nse *NotSavedError
	require.True(t, errors.As(err, &nse))
	assert.Equal(t, "Beam", nse.Document)
	assert.Empty(t, a.Records())

	dir := t.TempDir()
	req.DocumentPath = filepath.Join(dir, "Beam.femdoc")
	path, err := a.Allocate(PolicyBeside, req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Beam", "SolverElmer"), path)
	assert.DirExists(t, path)
}

func TestAllocate_BesideUniquifies(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()
	req := Request{DocumentName: "Beam", DocumentPath: filepath.Join(dir, "Beam.femdoc"), SolverLabel: "Solver"}

	var got []string
	for i := 0; i < 3; i++ {
		p, err := a.Allocate(PolicyBeside, req)
		require.NoError(t, err)
		got = append(got, p)
	}
	base := filepath.Join(dir, "Beam", "Solver")
	assert.Equal(t, []string{base, base + "_001", base + "_002"}, got)
}

func TestAllocate_Custom(t *testing.T) {
	base := t.TempDir()
	a := NewAllocator()

	t.Run("missing base", func(t *testing.T) {
		_, err := a.Allocate(PolicyCustom, Request{DocumentName: "Beam", SolverLabel: "S", CustomBase: filepath.Join(base, "nope")})
		assert.ErrorIs(t, err, ErrInvalidPath)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("base is a file", func(t *testing.T) {
		file := filepath.Join(base, "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := a.Allocate(PolicyCustom, Request{DocumentName: "Beam", SolverLabel: "S", CustomBase: file})
		var ipe *InvalidPathError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, file, ipe.Path)
	})

	t.Run("valid base", func(t *testing.T) {
		p, err := a.Allocate(PolicyCustom, Request{DocumentName: "Beam", SolverLabel: "S", CustomBase: base})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "Beam", "S"), p)
		rec, _ := a.Lookup(p)
		assert.Equal(t, filepath.Join(base, "Beam"), rec.Base)
	})
}

func TestAllocate_ExternalUsedAsIsAndKept(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	p, err := a.Allocate(PolicyExternal, Request{Path: dir + "/"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), p)

	again, err := a.Allocate(PolicyExternal, Request{Path: dir})
	require.NoError(t, err)
	assert.Equal(t, p, again)

	require.NoError(t, a.Release(p))
	assert.DirExists(t, dir)

	_, err = a.Allocate(PolicyExternal, Request{})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestStillValid(t *testing.T) {
	dir := t.TempDir()
	custom := t.TempDir()
	a := NewAllocator(WithTempRoot(t.TempDir()))
	req := Request{DocumentName: "Beam", DocumentPath: filepath.Join(dir, "Beam.femdoc"), SolverLabel: "S", CustomBase: custom}

	beside, err := a.Allocate(PolicyBeside, req)
	require.NoError(t, err)

	assert.True(t, a.StillValid(beside, PolicyBeside, req))
	assert.False(t, a.StillValid(beside, PolicyCustom, req), "policy changed")

	moved := req
	moved.DocumentPath = filepath.Join(dir, "Renamed.femdoc")
	assert.False(t, a.StillValid(beside, PolicyBeside, moved), "document saved elsewhere")

	tmp, err := a.Allocate(PolicyTemporary, req)
	require.NoError(t, err)
	assert.True(t, a.StillValid(tmp, PolicyTemporary, req))
	require.NoError(t, os.RemoveAll(tmp))
	assert.False(t, a.StillValid(tmp, PolicyTemporary, req))

	assert.False(t, a.StillValid("/never/allocated", PolicyBeside, req))
}

func TestAllocate_ConcurrentBesideRequestsGetDistinctPaths(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()
	req := Request{DocumentName: "Beam", DocumentPath: filepath.Join(dir, "Beam.femdoc"), SolverLabel: "S"}

	const n = 12
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := a.Allocate(PolicyBeside, req)
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate %s", p)
		seen[p] = true
	}
	assert.Len(t, a.Records(), n)
}

func TestClose_RemovesOnlyTemporary(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator(WithTempRoot(t.TempDir()))
	req := Request{DocumentName: "Beam", DocumentPath: filepath.Join(dir, "Beam.femdoc"), SolverLabel: "S"}

	tmp, err := a.Allocate(PolicyTemporary, req)
	require.NoError(t, err)
	beside, err := a.Allocate(PolicyBeside, req)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.NoDirExists(t, tmp)
	assert.DirExists(t, beside)
	assert.Empty(t, a.Records())
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b", sanitize("a/b"))
	assert.Equal(t, "solver", sanitize(" "))
	assert.Equal(t, "solver", sanitize(".."))
}
