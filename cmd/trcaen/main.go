package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/klauer/TRCAEN/caen"
	"github.com/klauer/TRCAEN/caenusb"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "trcaen.yml"

	// EnvPrefix prefixes environment variables overriding the config file,
	// e.g. TRCAEN_ADDR=:9000
	EnvPrefix = "TRCAEN_"

	k = koanf.New(".")
)

func defaultConfig() Config {
	return Config{
		Addr: ":8000",
		Digitizers: []DigitizerSetup{{
			Port:       "dgtz0",
			Endpoint:   "/dgtz0",
			DeviceAddr: "0:0",
			Link:       "optical",
			SampleRate: 1e9,
		}},
	}
}

// loadConfig layers the defaults, the file at path, and the environment
func loadConfig(k *koanf.Koanf, path string) error {
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return err
		}
	}
	return k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
}

func setupconfig() {
	if err := loadConfig(k, ConfigFileName); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func root() {
	str := `trcaen controls CAEN x751 waveform digitizers and exposes an HTTP interface to them.
Every digitizer is a set of named parameters, written and read over HTTP.

Usage:
	trcaen <command>

Commands:
	run
	help
	mkconf
	conf
	scan
	version`
	fmt.Println(str)
}

func help() {
	str := `trcaen is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Any top level key can be overridden from the environment with the TRCAEN_ prefix,
e.g. TRCAEN_ADDR=:9000 or TRCAEN_MOCK=true.

Each entry of digitizers names a board by its "link:node" device address.  For
optical links the link is the A2818/A3818 link number and the node the position
on the daisy chain; for USB, node is 0 and the link number is the one printed by
"trcaen scan".

Endpoints must be unique.  They may look like "dgtz0" or "/dgtz0/*", the leading
slash is added and the trailing slash and * removed if present.

Routes of each digitizer, relative to its endpoint:
	GET  /params          every parameter
	GET  /param/{name}    one parameter
	POST /param/{name}    write {"int": 2} or {"f64": 1e9}
	POST /arm             start acquisition with a JSON settings body
	POST /disarm          stop acquisition
	GET  /armed, /addr, /sample-rate
	GET/POST /lock        lock out writes from other clients

Requests (OPEN_STATE, RESET, CALIBRATE, REFRESH) are accepted immediately and
finish in the background, poll the parameter to see the result.`
	fmt.Println(str)
}

// writeConf encodes the merged configuration held by k as YAML
func writeConf(k *koanf.Koanf, w io.Writer) error {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	return yml.NewEncoder(w).Encode(c)
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = writeConf(k, f); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	if err := writeConf(k, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("trcaen version %v\n", Version)
}

func scan() {
	devs, err := caenusb.Scan()
	if err != nil {
		log.Fatal(err)
	}
	if len(devs) == 0 {
		fmt.Println("no CAEN USB devices found")
		return
	}
	for _, d := range devs {
		fmt.Println(d)
	}
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if err = c.Normalize(); err != nil {
		log.Fatal(err)
	}
	if !c.Mock && !caen.HasNativeSDK {
		log.Println("built without the CAENDigitizer library, opening will fail.  Set mock or rebuild with -tags caendgtz")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ds := NewDigitizers(c)
	for i, d := range ds {
		d.Start(ctx)
		go d.AutoRefresh(ctx, c.RefreshInterval)
		go func(d *caen.Digitizer, s DigitizerSetup) {
			if err := Startup(ctx, d, s); err != nil {
				log.Printf("%s: startup: %v", d.Port(), err)
			}
		}(d, c.Digitizers[i])
	}

	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(c, ds)}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	log.Println("now listening for requests at ", c.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	for _, d := range ds {
		if d.Armed() {
			if err := d.Disarm(); err != nil {
				log.Printf("%s: %v", d.Port(), err)
			}
		}
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "scan":
		scan()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
