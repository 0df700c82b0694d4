// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package elmer

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Result summarises a loaded result file.
type Result struct {
	Path        string
	Points      int
	Cells       int
	PointFields []string
	CellFields  []string
}

// Fields returns point fields followed by cell fields.
func (r *Result) Fields() []string {
	return append(append([]string(nil), r.PointFields...), r.CellFields...)
}

// ResultReader loads a result file.
type ResultReader interface {
	Read(ctx context.Context, path string) (*Result, error)
}

// ErrNotUnstructuredGrid is returned for VTK files of another dataset type.
var ErrNotUnstructuredGrid = errors.New("not a VTK unstructured grid")

// VTUReader reads the header of a VTK XML unstructured grid: sizes and
// field names. Data arrays are skipped.
type VTUReader struct{}

// Read implements ResultReader.
func (VTUReader) Read(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res := &Result{Path: path}
	dec := xml.NewDecoder(f)
	var section string
	sawRoot := false
scan:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "VTKFile":
				sawRoot = true
				if attr(t, "type") != "UnstructuredGrid" {
					return nil, fmt.Errorf("%s: %w", path, ErrNotUnstructuredGrid)
				}
			case "Piece":
				p, err1 := atoi(attr(t, "NumberOfPoints"))
				c, err2 := atoi(attr(t, "NumberOfCells"))
				if err := errors.Join(err1, err2); err != nil {
					return nil, fmt.Errorf("%s: piece sizes: %w", path, err)
				}
				res.Points += p
				res.Cells += c
			case "PointData", "CellData":
				section = t.Name.Local
			case "DataArray":
				name := attr(t, "Name")
				if name == "" {
					break
				}
				switch section {
				case "PointData":
					res.PointFields = appendUnique(res.PointFields, name)
				case "CellData":
					res.CellFields = appendUnique(res.CellFields, name)
				}
			case "AppendedData":
				// Raw appended data is not well-formed XML and comes
				// after every header element.
				break scan
			}
		case xml.EndElement:
			if t.Name.Local == "PointData" || t.Name.Local == "CellData" {
				section = ""
			}
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("%s: %w", path, ErrNotUnstructuredGrid)
	}
	return res, nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
