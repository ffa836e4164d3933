package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/klauer/TRCAEN/caen"
	"github.com/klauer/TRCAEN/client"
	"github.com/klauer/TRCAEN/generichttp/digitizer"
)

func newTestCtl(t *testing.T) (Ctl, *bytes.Buffer, *caen.Digitizer, *caen.MockSDK) {
	t.Helper()
	m := caen.NewMockSDK()
	d := caen.New("CTL", "0:0", caen.OpticalLink, m)
	d.SetLogger(log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)

	r := chi.NewRouter()
	digitizer.NewHTTPWrapper(d).RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	out := &bytes.Buffer{}
	return Ctl{C: client.New(srv.URL), Out: out}, out, d, m
}

func run(t *testing.T, c Ctl, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Run(ctx, args)
}

func TestOpenSetGet(t *testing.T) {
	c, out, d, _ := newTestCtl(t)
	var msgs []string
	c.Progress = func(m string) { msgs = append(msgs, m) }

	if err := run(t, c, "open"); err != nil {
		t.Fatal(err)
	}
	if d.OpenState() != caen.Opened {
		t.Fatalf("state %s after open", d.OpenState())
	}
	if len(msgs) != 1 || msgs[0] != "opening" {
		t.Errorf("progress messages %q", msgs)
	}
	if err := run(t, c, "set", caen.ParamHWSampleRate, "2.5e8"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, c, "set", caen.ParamFanControlMode, "1"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, c, "refresh"); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := run(t, c, "get", caen.ParamHWSampleRate, caen.ParamFanControlModeRB); err != nil {
		t.Fatal(err)
	}
	want := caen.ParamHWSampleRate + " = 2.5e+08\n" + caen.ParamFanControlModeRB + " = 1\n"
	if out.String() != want {
		t.Errorf("get printed %q, expected %q", out.String(), want)
	}

	out.Reset()
	if err := run(t, c, "get"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), caen.ParamInfoModelName) {
		t.Errorf("listing is missing %s:\n%s", caen.ParamInfoModelName, out.String())
	}
}

func TestSetRejects(t *testing.T) {
	c, _, _, _ := newTestCtl(t)
	for _, args := range [][]string{
		{"set", caen.ParamFanControlMode, "fast"},
		{"set", caen.ParamInfoModelName, "x"},
		{"set", "NOT_A_PARAM", "1"},
	} {
		if err := run(t, c, args...); err == nil {
			t.Errorf("%q succeeded", args)
		}
	}
}

func TestUsage(t *testing.T) {
	c, _, _, _ := newTestCtl(t)
	for _, args := range [][]string{{}, {"frobnicate"}, {"set", "ONLY_NAME"}} {
		if err := run(t, c, args...); !errors.Is(err, ErrUsage) {
			t.Errorf("%q: got %v, expected a usage error", args, err)
		}
	}
}

func TestRequestFailure(t *testing.T) {
	c, _, _, m := newTestCtl(t)
	if err := run(t, c, "open"); err != nil {
		t.Fatal(err)
	}
	m.Lock()
	m.Faults["Calibrate"] = caen.CalibrationError
	m.Unlock()
	if err := run(t, c, "calibrate"); err == nil || !strings.Contains(err.Error(), "failed") {
		t.Errorf("calibrate: %v", err)
	}
	if err := run(t, c, "reset"); err != nil {
		t.Errorf("reset: %v", err)
	}
}

func TestArmFromFile(t *testing.T) {
	c, out, d, m := newTestCtl(t)
	if err := run(t, c, "open"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "arm.yml")
	settings := "startStopMode: 0\nnumPostSamples: 1001\n"
	if err := os.WriteFile(path, []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(t, c, "arm", path); err != nil {
		t.Fatal(err)
	}
	if !d.Armed() || !m.Running() {
		t.Fatal("not armed")
	}
	if !strings.Contains(out.String(), "record length 1004") {
		t.Errorf("unexpected output %q", out.String())
	}
	if err := run(t, c, "disarm"); err != nil {
		t.Fatal(err)
	}
	if d.Armed() {
		t.Error("still armed")
	}

	bad := filepath.Join(t.TempDir(), "bad.yml")
	os.WriteFile(bad, []byte("numPostSample: 3\n"), 0o644)
	if err := run(t, c, "arm", bad); err == nil {
		t.Error("a misspelled key was accepted")
	}
}
