package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"strategylab/internal/domain"
)

// readBarsCSV reads bars from CSV with a header row. Columns are matched by
// name, case-insensitively; volume is optional. Rows are returned sorted by
// time.
func readBarsCSV(r io.Reader) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file")
		}
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		switch name := strings.ToLower(strings.TrimSpace(h)); name {
		case "date", "time", "timestamp", "datetime":
			col["time"] = i
		default:
			col[name] = i
		}
	}
	for _, need := range []string{"time", "open", "high", "low", "close"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("missing %s column", need)
		}
	}
	volCol, hasVolume := col["volume"]

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := parseTime(rec[col["time"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := domain.Bar{Time: t}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
		}
		for _, f := range fields {
			if *f.dst, err = strconv.ParseFloat(strings.TrimSpace(rec[col[f.name]]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, f.name, err)
			}
		}
		if hasVolume && strings.TrimSpace(rec[volCol]) != "" {
			if b.Volume, err = strconv.ParseFloat(strings.TrimSpace(rec[volCol]), 64); err != nil {
				return nil, fmt.Errorf("line %d: volume: %w", line, err)
			}
		}
		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
