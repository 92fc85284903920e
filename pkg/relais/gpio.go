// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relais

import (
	"errors"
	"fmt"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// GPIO drives relay outputs on GPIO character device lines
type GPIO struct {
	chip  *gpiod.Chip
	lines []*gpiod.Line
}

// OpenGPIO requests offsets on chip as outputs, driven low. Output n is
// offsets[n].
func OpenGPIO(chipName string, offsets []int) (*GPIO, error) {
	if len(offsets) > MaxOutputs {
		return nil, fmt.Errorf("%d outputs configured, at most %d supported", len(offsets), MaxOutputs)
	}

	chip, err := gpiod.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chipName, err)
	}

	g := &GPIO{chip: chip}
	for _, offset := range offsets {
		line, err := chip.RequestLine(offset, gpiod.AsOutput(0))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request output pin %d: %w", offset, err)
		}
		g.lines = append(g.lines, line)
	}
	return g, nil
}

// Set drives output num
func (g *GPIO) Set(num uint8, on bool) error {
	if int(num) >= len(g.lines) {
		return fmt.Errorf("output %d not configured", num)
	}
	v := 0
	if on {
		v = 1
	}
	return g.lines[num].SetValue(v)
}

// Close releases all lines and the chip
func (g *GPIO) Close() error {
	var errs []error
	for _, line := range g.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.lines = nil
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, err)
		}
		g.chip = nil
	}
	return errors.Join(errs...)
}
