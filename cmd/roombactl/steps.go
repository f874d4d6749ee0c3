package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shaunagostinho/roomba-oi/internal/oi"
	"github.com/shaunagostinho/roomba-oi/internal/robot"
)

// step is one command from the command line, e.g. "drive:200,0".
type step struct {
	text string
	run  func(ctx context.Context, c *robot.Controller, out io.Writer) error
}

// parseSteps turns command-line words into steps. Every word is checked
// before anything is sent to the robot.
func parseSteps(args []string) ([]step, error) {
	steps := make([]step, 0, len(args))
	for _, arg := range args {
		s, err := parseStep(arg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func parseStep(arg string) (step, error) {
	name, params, _ := strings.Cut(strings.TrimSpace(arg), ":")
	s := step{text: arg}

	simple := map[string]func(*robot.Controller) error{
		"safe":       (*robot.Controller).SafeMode,
		"full":       (*robot.Controller).FullMode,
		"reset":      (*robot.Controller).Reset,
		"stop":       (*robot.Controller).Stop,
		"disconnect": (*robot.Controller).Disconnect,
	}
	if fn, ok := simple[name]; ok {
		if params != "" {
			return s, fmt.Errorf("%s: takes no arguments", arg)
		}
		s.run = func(_ context.Context, c *robot.Controller, _ io.Writer) error { return fn(c) }
		return s, nil
	}

	switch name {
	case "drive", "led":
		a, b, err := intPair(params)
		if err != nil {
			return s, fmt.Errorf("%s: %w", arg, err)
		}
		if name == "drive" {
			s.run = func(_ context.Context, c *robot.Controller, _ io.Writer) error { return c.Drive(a, b) }
		} else {
			s.run = func(_ context.Context, c *robot.Controller, _ io.Writer) error { return c.SetLED(a, b) }
		}

	case "sensor", "value":
		id, err := oi.ParsePacket(params)
		if err != nil {
			return s, fmt.Errorf("%s: %w", arg, err)
		}
		wide := name == "value"
		s.run = func(_ context.Context, c *robot.Controller, out io.Writer) error {
			var v int
			var err error
			if wide {
				v, err = c.SensorValue(id)
			} else {
				var b byte
				b, err = c.Sensor(id)
				v = int(b)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s=%d\n", id, v)
			return nil
		}

	case "sleep":
		d, err := time.ParseDuration(params)
		if err != nil || d < 0 {
			return s, fmt.Errorf("%s: bad duration %q", arg, params)
		}
		s.run = func(ctx context.Context, _ *robot.Controller, _ io.Writer) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}

	default:
		return s, fmt.Errorf("unknown step %q", arg)
	}
	return s, nil
}

func intPair(params string) (int, int, error) {
	x, y, ok := strings.Cut(params, ",")
	if !ok {
		return 0, 0, fmt.Errorf("want two comma-separated integers, got %q", params)
	}
	a, err := strconv.Atoi(strings.TrimSpace(x))
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(strings.TrimSpace(y))
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// runSteps executes steps in order and stops at the first failure. Nothing
// is retried.
func runSteps(ctx context.Context, c *robot.Controller, steps []step, out io.Writer) error {
	for i, s := range steps {
		if err := s.run(ctx, c, out); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s.text, err)
		}
	}
	return nil
}
