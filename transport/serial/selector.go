// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// Selector asks the operator to choose one of candidates.
// Declining returns ErrNoDeviceSelected.
type Selector interface {
	Select(ctx context.Context, candidates []PortInfo) (PortInfo, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, candidates []PortInfo) (PortInfo, error)

func (f SelectorFunc) Select(ctx context.Context, candidates []PortInfo) (PortInfo, error) {
	return f(ctx, candidates)
}

// FixedSelector always picks the configured device, whether or not the
// enumerator reported it. Virtual and symlinked ports are often missing
// from the listing.
type FixedSelector struct {
	Device string
}

func (s FixedSelector) Select(_ context.Context, candidates []PortInfo) (PortInfo, error) {
	for _, c := range candidates {
		if c.Name == s.Device {
			return c, nil
		}
	}
	return PortInfo{Name: s.Device}, nil
}

// TerminalSelector prints the candidates and reads a choice from In.
// When In is not a terminal a single candidate is chosen without asking.
type TerminalSelector struct {
	In  io.Reader
	Out io.Writer
}

func (s *TerminalSelector) Select(ctx context.Context, candidates []PortInfo) (PortInfo, error) {
	if len(candidates) == 0 {
		return PortInfo{}, ErrDeviceNotFound
	}
	if !isTerminal(s.In) {
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		return PortInfo{}, fmt.Errorf("%w: %d ports and no terminal to choose", ErrNoDeviceSelected, len(candidates))
	}

	fmt.Fprintln(s.Out, RenderPorts(candidates))
	fmt.Fprintf(s.Out, "Select a port [1-%d] (empty to cancel): ", len(candidates))

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(s.In).ReadString('\n')
		answer <- strings.TrimSpace(line)
	}()

	var choice string
	select {
	case <-ctx.Done():
		return PortInfo{}, ctx.Err()
	case choice = <-answer:
	}

	if choice == "" || strings.EqualFold(choice, "q") {
		return PortInfo{}, ErrNoDeviceSelected
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(candidates) {
		return PortInfo{}, fmt.Errorf("%w: invalid choice %q", ErrNoDeviceSelected, choice)
	}
	return candidates[n-1], nil
}

// RenderPorts formats ports as a numbered table.
func RenderPorts(ports []PortInfo) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Port", "VID:PID", "Product", "Serial"})
	for i, p := range ports {
		ids := "-"
		if p.IsUSB {
			ids = fmt.Sprintf("%04x:%04x", p.VendorID, p.ProductID)
		}
		tw.AppendRow(table.Row{i + 1, p.Name, ids, p.Product, p.SerialNumber})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
