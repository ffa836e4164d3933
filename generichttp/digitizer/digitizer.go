// Package digitizer exposes control of waveform digitizers over HTTP
package digitizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/klauer/TRCAEN/caen"
	"github.com/klauer/TRCAEN/generichttp"
	"github.com/klauer/TRCAEN/params"
	"github.com/klauer/TRCAEN/server"
)

// ParamPayload is the JSON form of one parameter
type ParamPayload struct {
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Value  interface{} `json:"value"`
	Status string      `json:"status"`
}

// NewParamPayload converts a cached value
func NewParamPayload(v params.Value) ParamPayload {
	return ParamPayload{
		Name:   v.Name,
		Type:   v.Type.String(),
		Value:  v.Interface(),
		Status: v.Status.String(),
	}
}

// StatusCode maps digitizer usage errors to HTTP status codes.
// Anything else is a 500.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, caen.ErrUnknownParam):
		return http.StatusNotFound
	case errors.Is(err, caen.ErrBadValue), errors.Is(err, caen.ErrReadOnly), errors.Is(err, caen.ErrBadSettings):
		return http.StatusBadRequest
	case errors.Is(err, caen.ErrIllegalState), errors.Is(err, caen.ErrArmed), errors.Is(err, caen.ErrNotOpen):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	return generichttp.WithStatus(err, StatusCode(err))
}

// HTTPWrapper holds the routes of one digitizer
type HTTPWrapper struct {
	d *caen.Digitizer

	// RouteTable maps methods and paths to handlers
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns the HTTP interface of d
func NewHTTPWrapper(d *caen.Digitizer) HTTPWrapper {
	w := HTTPWrapper{d: d}
	w.RouteTable = server.RouteTable{
		{Method: http.MethodGet, Path: "/params"}:        w.getParams,
		{Method: http.MethodGet, Path: "/param/{name}"}:  w.getParam,
		{Method: http.MethodPost, Path: "/param/{name}"}: w.setParam,
		{Method: http.MethodPost, Path: "/arm"}:          w.arm,
		{Method: http.MethodPost, Path: "/disarm"}:       w.disarm,
		{Method: http.MethodGet, Path: "/armed"}: generichttp.GetBool(func() (bool, error) {
			return d.Armed(), nil
		}),
		{Method: http.MethodGet, Path: "/addr"}: generichttp.GetString(func() (string, error) {
			return d.Addr(), nil
		}),
		{Method: http.MethodGet, Path: "/sample-rate"}: generichttp.GetFloat(func() (float64, error) {
			v, err := d.Read(caen.ParamHWSampleRate)
			return v.Float, err
		}),
	}
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) getParams(w http.ResponseWriter, r *http.Request) {
	snap := h.d.Snapshot()
	out := make([]ParamPayload, len(snap))
	for i, v := range snap {
		out[i] = NewParamPayload(v)
	}
	server.EncodeAndRespond(w, out)
}

func (h HTTPWrapper) getParam(w http.ResponseWriter, r *http.Request) {
	v, err := h.d.Read(chi.URLParam(r, "name"))
	if err != nil {
		generichttp.Error(w, classify(err))
		return
	}
	server.EncodeAndRespond(w, NewParamPayload(v))
}

// setParam takes {"int": v} or {"f64": v} depending on the type of the parameter
func (h HTTPWrapper) setParam(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := h.d.Read(name)
	if err != nil {
		generichttp.Error(w, classify(err))
		return
	}
	switch v.Type {
	case params.Float:
		generichttp.SetFloat(func(f float64) error {
			return classify(h.d.WriteFloat(name, f))
		})(w, r)
	case params.Int:
		generichttp.SetInt(func(i int) error {
			return classify(h.d.WriteInt(name, i))
		})(w, r)
	default:
		generichttp.Error(w, classify(fmt.Errorf("%w: %s", caen.ErrReadOnly, name)))
	}
}

func (h HTTPWrapper) arm(w http.ResponseWriter, r *http.Request) {
	var s caen.ArmSettings
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.d.Arm(r.Context(), s)
	if err != nil {
		generichttp.Error(w, classify(err))
		return
	}
	server.EncodeAndRespond(w, res)
}

func (h HTTPWrapper) disarm(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Disarm(); err != nil {
		generichttp.Error(w, classify(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}
