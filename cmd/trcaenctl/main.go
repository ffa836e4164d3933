package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	"github.com/klauer/TRCAEN/client"
)

// Config is read from TRCAENCTL_ prefixed environment variables
type Config struct {
	// URL is the root of one digitizer on a trcaen server
	URL string `koanf:"url"`

	// Timeout bounds a whole command, including waiting for requests to finish
	Timeout time.Duration `koanf:"timeout"`
}

var k = koanf.New(".")

func usage() {
	str := `trcaenctl drives one digitizer of a trcaen server.

Usage:
	trcaenctl <command> [args]

Commands:
	get [NAME...]      print parameters, all of them without a NAME
	set NAME VALUE     write a parameter
	open, close        change OPEN_STATE and wait for it to settle
	reset, calibrate   run the request and wait for its result
	refresh
	arm [FILE]         arm with the settings in a YAML file
	disarm

Environment:
	TRCAENCTL_URL      default http://localhost:8000/dgtz0
	TRCAENCTL_TIMEOUT  default 1m`
	fmt.Println(str)
}

func setupconfig() Config {
	k.Load(structs.Provider(Config{
		URL:     "http://localhost:8000/dgtz0",
		Timeout: time.Minute}, "koanf"), nil)
	err := k.Load(env.Provider("TRCAENCTL_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TRCAENCTL_"))
	}), nil)
	if err != nil {
		log.Fatal(err)
	}
	c := Config{}
	if err = k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

// spinner starts on the first progress message and is stopped by finish
type spinner struct {
	s       *yacspin.Spinner
	started bool
}

func newSpinner() (*spinner, error) {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, err
	}
	return &spinner{s: s}, nil
}

func (sp *spinner) progress(msg string) {
	if !sp.started {
		sp.started = true
		sp.s.Start()
	}
	sp.s.Message(msg)
}

func (sp *spinner) finish(err error) {
	if !sp.started {
		return
	}
	if err != nil {
		sp.s.StopFailMessage(err.Error())
		sp.s.StopFail()
		return
	}
	sp.s.StopMessage("done")
	sp.s.Stop()
}

func main() {
	if len(os.Args) == 1 {
		usage()
		return
	}
	c := setupconfig()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	// held back until the spinner has stopped
	out := &bytes.Buffer{}
	ctl := Ctl{C: client.New(c.URL), Out: out}
	sp, err := newSpinner()
	if err != nil {
		log.Fatal(err)
	}
	ctl.Progress = sp.progress

	err = ctl.Run(ctx, os.Args[1:])
	sp.finish(err)
	io.Copy(os.Stdout, out)
	if err != nil {
		if errors.Is(err, ErrUsage) {
			usage()
		}
		log.Fatal(err)
	}
}
