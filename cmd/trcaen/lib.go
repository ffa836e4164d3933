package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/klauer/TRCAEN/caen"
	"github.com/klauer/TRCAEN/generichttp/digitizer"
	"github.com/klauer/TRCAEN/server"
	"github.com/klauer/TRCAEN/server/middleware/locker"
)

// Settings holds the fan, clock, and trigger configuration written to a
// digitizer before it is opened.  The values are those of the matching
// parameters, e.g. FanControlMode=1 is full speed and SWTrigger=1 disables
// the software trigger.
type Settings struct {
	FanControlMode int                       `koanf:"fancontrolmode" yaml:"fancontrolmode"`
	ClockSource    int                       `koanf:"clocksource" yaml:"clocksource"`
	SWTrigger      int                       `koanf:"swtrigger" yaml:"swtrigger"`
	ExtTrigger     int                       `koanf:"exttrigger" yaml:"exttrigger"`
	ChSelfTrigger  [caen.NumChannelPairs]int `koanf:"chselftrigger" yaml:"chselftrigger"`
}

// DigitizerSetup describes one digitizer served by trcaen
type DigitizerSetup struct {
	// Port names the digitizer in logs, "dgtz<n>" if empty
	Port string `koanf:"port" yaml:"port"`

	// Endpoint is the path the routes are served under, e.g. /dgtz0
	// produces /dgtz0/param/OPEN_STATE.  Defaults to /<Port>
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// DeviceAddr is the "link:node" address, e.g. 0:1 for the second board
	// on the daisy chain of optical link 0
	DeviceAddr string `koanf:"deviceaddr" yaml:"deviceaddr"`

	// Link is "optical" (the default) or "usb"
	Link string `koanf:"link" yaml:"link"`

	// SampleRate is the initial HW_SAMPLE_RATE, in Hz
	SampleRate float64 `koanf:"samplerate" yaml:"samplerate"`

	// Open requests the device be opened at startup
	Open bool `koanf:"open" yaml:"open"`

	Settings Settings `koanf:"settings" yaml:"settings"`

	// ArmOnOpen arms with Arm once the startup open has finished
	ArmOnOpen bool             `koanf:"armonopen" yaml:"armonopen"`
	Arm       caen.ArmSettings `koanf:"arm" yaml:"arm"`
}

// Config is the trcaen configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock replaces the CAENDigitizer library with a simulated board
	Mock bool `koanf:"mock" yaml:"mock"`

	// RefreshInterval is the period of the automatic REFRESH request,
	// zero disables it
	RefreshInterval time.Duration `koanf:"refreshinterval" yaml:"refreshinterval"`

	Digitizers []DigitizerSetup `koanf:"digitizers" yaml:"digitizers"`
}

// Normalize fills in default ports and endpoints and checks that they are
// unique and that every device address parses
func (c *Config) Normalize() error {
	if len(c.Digitizers) == 0 {
		return errors.New("no digitizers configured")
	}
	ports := map[string]bool{}
	endpoints := map[string]bool{}
	for i := range c.Digitizers {
		s := &c.Digitizers[i]
		if s.Port == "" {
			s.Port = fmt.Sprintf("dgtz%d", i)
		}
		if s.Endpoint == "" {
			s.Endpoint = s.Port
		}
		s.Endpoint = sanitizeEndpoint(s.Endpoint)
		if ports[s.Port] {
			return fmt.Errorf("duplicate port %q", s.Port)
		}
		if endpoints[s.Endpoint] {
			return fmt.Errorf("duplicate endpoint %q", s.Endpoint)
		}
		ports[s.Port] = true
		endpoints[s.Endpoint] = true
		if _, _, err := caen.ParseAddr(s.DeviceAddr); err != nil {
			return fmt.Errorf("%s: %w", s.Port, err)
		}
		if _, err := linkType(s.Link); err != nil {
			return fmt.Errorf("%s: %w", s.Port, err)
		}
	}
	return nil
}

// sanitizeEndpoint turns "dgtz0", "/dgtz0/" or "/dgtz0/*" into "/dgtz0"
func sanitizeEndpoint(s string) string {
	s = strings.TrimSuffix(s, "*")
	s = strings.Trim(s, "/")
	return "/" + s
}

func linkType(s string) (caen.LinkType, error) {
	switch strings.ToLower(s) {
	case "", "optical", "conet":
		return caen.OpticalLink, nil
	case "usb":
		return caen.USB, nil
	default:
		return 0, fmt.Errorf("link type %q not understood", s)
	}
}

// NewDigitizers creates a closed digitizer for every setup.
// c must have been normalized.
func NewDigitizers(c Config) []*caen.Digitizer {
	out := make([]*caen.Digitizer, len(c.Digitizers))
	for i, s := range c.Digitizers {
		var sdk caen.SDK
		if c.Mock {
			sdk = caen.NewMockSDK()
		} else {
			sdk = caen.NewSDK()
		}
		link, _ := linkType(s.Link)
		out[i] = caen.New(s.Port, s.DeviceAddr, link, sdk)
	}
	return out
}

// Configure writes the initial settings and, if requested, the open request
func Configure(d *caen.Digitizer, s DigitizerSetup) error {
	type write struct {
		name  string
		value int
	}
	writes := []write{
		{caen.ParamFanControlMode, s.Settings.FanControlMode},
		{caen.ParamClockSource, s.Settings.ClockSource},
		{caen.ParamSWTrigger, s.Settings.SWTrigger},
		{caen.ParamExtTrigger, s.Settings.ExtTrigger},
	}
	for pair, v := range s.Settings.ChSelfTrigger {
		writes = append(writes, write{caen.ChSelfTriggerParam(pair), v})
	}
	for _, w := range writes {
		if err := d.WriteInt(w.name, w.value); err != nil {
			return err
		}
	}
	if s.SampleRate != 0 {
		if err := d.WriteFloat(caen.ParamHWSampleRate, s.SampleRate); err != nil {
			return err
		}
	}
	if s.Open {
		return d.WriteInt(caen.ParamOpenState, int(caen.Opened))
	}
	return nil
}

// Startup configures d and, when the setup asks for it, arms it once the
// open has completed
func Startup(ctx context.Context, d *caen.Digitizer, s DigitizerSetup) error {
	if err := Configure(d, s); err != nil {
		return err
	}
	if !s.Open || !s.ArmOnOpen {
		return nil
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}
	if st := d.OpenState(); st != caen.Opened {
		return fmt.Errorf("%s: not arming, device is %s", d.Port(), st)
	}
	res, err := d.Arm(ctx, s.Arm)
	if err != nil {
		return err
	}
	log.Printf("%s: armed, record length %d, settings crc 0x%04X", d.Port(), res.RecordLength, res.SettingsCRC)
	return nil
}

// BuildMux mounts the routes of every digitizer under its endpoint, each
// behind its own locker, and lists them all at /endpoints
func BuildMux(c Config, ds []*caen.Digitizer) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for i, d := range ds {
		httper := digitizer.NewHTTPWrapper(d)
		lock := locker.New()
		locker.Inject(httper, lock)

		hndlS := c.Digitizers[i].Endpoint
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		server.EncodeAndRespond(w, supergraph)
	})
	return root
}
