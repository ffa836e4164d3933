package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v2"

	"github.com/klauer/TRCAEN/caen"
	"github.com/klauer/TRCAEN/client"
)

// ErrUsage is returned for malformed command lines
var ErrUsage = errors.New("usage error")

// Ctl runs commands against one digitizer
type Ctl struct {
	C   *client.Client
	Out io.Writer

	// Progress is told what is being waited on, may be nil
	Progress func(msg string)
}

func (c Ctl) progress(format string, args ...interface{}) {
	if c.Progress != nil {
		c.Progress(fmt.Sprintf(format, args...))
	}
}

// Run executes one command, args[0] being its name
func (c Ctl) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, args := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "get":
		if len(args) == 0 {
			return c.list(ctx)
		}
		for _, name := range args {
			if err := c.get(ctx, name); err != nil {
				return err
			}
		}
		return nil
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("%w: set NAME VALUE", ErrUsage)
		}
		return c.set(ctx, args[0], args[1])
	case "open":
		return c.openClose(ctx, caen.Opened)
	case "close":
		return c.openClose(ctx, caen.Closed)
	case "reset":
		return c.request(ctx, caen.ParamReset)
	case "calibrate":
		return c.request(ctx, caen.ParamCalibrate)
	case "refresh":
		return c.request(ctx, caen.ParamRefresh)
	case "arm":
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		return c.arm(ctx, path)
	case "disarm":
		return c.C.Disarm(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (c Ctl) list(ctx context.Context) error {
	ps, err := c.C.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	for _, p := range ps {
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", p.Name, p.Value, p.Type, p.Status)
	}
	return tw.Flush()
}

func (c Ctl) get(ctx context.Context, name string) error {
	p, err := c.C.Get(ctx, name)
	if err != nil {
		return err
	}
	if p.Status != "ok" {
		fmt.Fprintf(c.Out, "%s = %v (%s)\n", p.Name, p.Value, p.Status)
		return nil
	}
	fmt.Fprintf(c.Out, "%s = %v\n", p.Name, p.Value)
	return nil
}

// set parses value according to the type of the parameter
func (c Ctl) set(ctx context.Context, name, value string) error {
	p, err := c.C.Get(ctx, name)
	if err != nil {
		return err
	}
	switch p.Type {
	case "int":
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s is an int: %w", name, err)
		}
		return c.C.SetInt(ctx, name, i)
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s is a float: %w", name, err)
		}
		return c.C.SetFloat(ctx, name, f)
	default:
		return fmt.Errorf("%s is a %s and cannot be written", name, p.Type)
	}
}

func (c Ctl) openClose(ctx context.Context, want caen.OpenState) error {
	if err := c.C.SetInt(ctx, caen.ParamOpenState, int(want)); err != nil {
		return err
	}
	if want == caen.Opened {
		c.progress("opening")
	} else {
		c.progress("closing")
	}
	got, err := c.C.WaitOpenState(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("digitizer is %s", got)
	}
	fmt.Fprintf(c.Out, "%s\n", got)
	return nil
}

func (c Ctl) request(ctx context.Context, name string) error {
	if err := c.C.SetInt(ctx, name, 1); err != nil {
		return err
	}
	c.progress("%s running", strings.ToLower(name))
	rs, err := c.C.WaitDone(ctx, name)
	if err != nil {
		return err
	}
	if rs != caen.Succeeded {
		return fmt.Errorf("%s failed", strings.ToLower(name))
	}
	fmt.Fprintf(c.Out, "%s succeeded\n", strings.ToLower(name))
	return nil
}

// arm reads the settings from a YAML file, or uses the zero settings
// (software start, no delay, minimum record length) when path is empty
func (c Ctl) arm(ctx context.Context, path string) error {
	s := caen.ArmSettings{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.UnmarshalStrict(b, &s); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	c.progress("arming")
	res, err := c.C.Arm(ctx, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "armed: record length %d, sample rate %g, settings crc 0x%04X\n",
		res.RecordLength, res.SampleRate, res.SettingsCRC)
	return nil
}
