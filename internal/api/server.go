package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/haptic_agent/internal/hub"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/dgnsrekt/haptic_agent/internal/script"
	"github.com/dgnsrekt/haptic_agent/internal/tabs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dispatcher is the hub surface the REST and streaming layers need.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) protocol.Response
	StateSnapshot() protocol.StateUpdate
}

// NewServer builds the agent's HTTP surface: the REST API, the SSE
// state stream, and the websocket session endpoint.
func NewServer(d Dispatcher, scripts *script.Store, registry *tabs.Registry, broker *hub.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Haptic Agent API", "1.0.0")
	api := humachi.New(router, cfg)

	router.Get("/events", sseHandler(broker))
	router.Get("/ws", sessionHandler(d, broker))

	registerStateHandlers(api, d)
	registerDeviceHandlers(api, d)
	registerScriptHandlers(api, d, scripts)
	registerTabHandlers(api, registry)

	return router
}

func registerTabHandlers(api huma.API, registry *tabs.Registry) {
	type tabsOutput struct {
		Body struct {
			Tabs []tabs.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "Browser tabs observed by the watcher", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			out := &tabsOutput{}
			out.Body.Tabs = registry.List()
			return out, nil
		})
}

func registerStateHandlers(api huma.API, d Dispatcher) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type stateOutput struct {
		Body protocol.StateUpdate
	}
	huma.Register(api, huma.Operation{OperationID: "get-state", Method: http.MethodGet, Path: "/api/v1/state", Summary: "Full playback and device state", Tags: []string{"State"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			out := &stateOutput{}
			out.Body = d.StateSnapshot()
			return out, nil
		})
}

type DeviceKindInput struct {
	Kind string `path:"kind" doc:"Device kind: stroker, hub, or vendor2"`
}

func (i *DeviceKindInput) kind() (protocol.DeviceKind, error) {
	for _, k := range protocol.Kinds() {
		if string(k) == i.Kind {
			return k, nil
		}
	}
	return "", huma.Error400BadRequest(fmt.Sprintf("unknown device kind %q", i.Kind))
}

func registerDeviceHandlers(api huma.API, d Dispatcher) {
	type devicesOutput struct {
		Body map[protocol.DeviceKind]protocol.DeviceSnapshot
	}
	huma.Register(api, huma.Operation{OperationID: "list-devices", Method: http.MethodGet, Path: "/api/v1/devices", Summary: "Per-device connection state", Tags: []string{"Devices"}},
		func(ctx context.Context, input *struct{}) (*devicesOutput, error) {
			out := &devicesOutput{}
			out.Body = d.StateSnapshot().Devices
			return out, nil
		})

	type connectInput struct {
		DeviceKindInput
		Body protocol.ConnectPayload
	}
	huma.Register(api, huma.Operation{OperationID: "connect-device", Method: http.MethodPost, Path: "/api/v1/device/{kind}/connect", Summary: "Connect a device", Tags: []string{"Devices"}},
		func(ctx context.Context, input *connectInput) (*okOutput, error) {
			kind, err := input.kind()
			if err != nil {
				return nil, err
			}
			body := input.Body
			return okFromResponse(d.Dispatch(ctx, protocol.Request{
				Type:    protocol.ReqConnect,
				Device:  kind,
				Connect: &body,
			}))
		})

	huma.Register(api, huma.Operation{OperationID: "disconnect-device", Method: http.MethodPost, Path: "/api/v1/device/{kind}/disconnect", Summary: "Disconnect a device", Tags: []string{"Devices"}},
		func(ctx context.Context, input *DeviceKindInput) (*okOutput, error) {
			kind, err := input.kind()
			if err != nil {
				return nil, err
			}
			return okFromResponse(d.Dispatch(ctx, protocol.Request{
				Type:   protocol.ReqDisconnect,
				Device: kind,
			}))
		})

	type settingsInput struct {
		DeviceKindInput
		Body protocol.SettingsPatch
	}
	huma.Register(api, huma.Operation{OperationID: "update-device-settings", Method: http.MethodPut, Path: "/api/v1/device/{kind}/settings", Summary: "Patch device settings", Tags: []string{"Devices"}},
		func(ctx context.Context, input *settingsInput) (*okOutput, error) {
			kind, err := input.kind()
			if err != nil {
				return nil, err
			}
			body := input.Body
			return okFromResponse(d.Dispatch(ctx, protocol.Request{
				Type:     protocol.ReqUpdateSettings,
				Device:   kind,
				Settings: &body,
			}))
		})

	type infoOutput struct {
		Body protocol.DeviceInfo
	}
	huma.Register(api, huma.Operation{OperationID: "get-device-info", Method: http.MethodGet, Path: "/api/v1/device/{kind}/info", Summary: "Connected device descriptor", Tags: []string{"Devices"}},
		func(ctx context.Context, input *DeviceKindInput) (*infoOutput, error) {
			kind, err := input.kind()
			if err != nil {
				return nil, err
			}
			resp := d.Dispatch(ctx, protocol.Request{Type: protocol.ReqGetDeviceInfo, Device: kind})
			if resp.Error != "" {
				return nil, huma.Error404NotFound(resp.Error)
			}
			info, _ := resp.Data.(*protocol.DeviceInfo)
			out := &infoOutput{}
			if info != nil {
				out.Body = *info
			}
			return out, nil
		})

	type scanOutput struct {
		Body struct {
			Devices []protocol.DeviceInfo `json:"devices"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "scan-devices", Method: http.MethodPost, Path: "/api/v1/device/{kind}/scan", Summary: "Enumerate attached devices", Tags: []string{"Devices"}},
		func(ctx context.Context, input *DeviceKindInput) (*scanOutput, error) {
			kind, err := input.kind()
			if err != nil {
				return nil, err
			}
			resp := d.Dispatch(ctx, protocol.Request{Type: protocol.ReqScanDevices, Device: kind})
			if resp.Error != "" {
				return nil, huma.Error400BadRequest(resp.Error)
			}
			found, _ := resp.Data.([]protocol.DeviceInfo)
			out := &scanOutput{}
			out.Body.Devices = found
			return out, nil
		})

	type autoConnectOutput struct {
		Body map[protocol.DeviceKind]bool
	}
	huma.Register(api, huma.Operation{OperationID: "auto-connect", Method: http.MethodPost, Path: "/api/v1/devices/auto-connect", Summary: "Reconnect devices from stored credentials", Tags: []string{"Devices"}},
		func(ctx context.Context, input *struct{}) (*autoConnectOutput, error) {
			resp := d.Dispatch(ctx, protocol.Request{Type: protocol.ReqAutoConnect})
			if resp.Error != "" {
				return nil, huma.Error500InternalServerError(resp.Error)
			}
			results, _ := resp.Data.(map[protocol.DeviceKind]bool)
			out := &autoConnectOutput{}
			out.Body = results
			return out, nil
		})
}

func registerScriptHandlers(api huma.API, d Dispatcher, scripts *script.Store) {
	type listOutput struct {
		Body struct {
			Scripts []script.Meta `json:"scripts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-scripts", Method: http.MethodGet, Path: "/api/v1/scripts", Summary: "List stored scripts", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := scripts.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Scripts = metas
			return out, nil
		})

	type uploadInput struct {
		Body struct {
			Name    string              `json:"name" doc:"Display name for the script"`
			Kind    protocol.ScriptKind `json:"kind,omitempty" doc:"Script format; derived later if omitted"`
			Content string              `json:"content" doc:"Raw script content"`
		}
	}
	type uploadOutput struct {
		Body script.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "upload-script", Method: http.MethodPost, Path: "/api/v1/scripts", Summary: "Store a script locally", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *uploadInput) (*uploadOutput, error) {
			meta, err := scripts.Save(input.Body.Name, input.Body.Kind, []byte(input.Body.Content))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &uploadOutput{}
			out.Body = meta
			return out, nil
		})

	type scriptIDInput struct {
		ID string `path:"id"`
	}
	type getOutput struct {
		Body struct {
			Meta    script.Meta `json:"meta"`
			Content string      `json:"content"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-script", Method: http.MethodGet, Path: "/api/v1/scripts/{id}", Summary: "Fetch a stored script", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *scriptIDInput) (*getOutput, error) {
			meta, content, err := scripts.Get(input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &getOutput{}
			out.Body.Meta = meta
			out.Body.Content = string(content)
			return out, nil
		})

	type deleteOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-script", Method: http.MethodDelete, Path: "/api/v1/scripts/{id}", Summary: "Delete a stored script", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *scriptIDInput) (*deleteOutput, error) {
			if err := scripts.Delete(input.ID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})

	type loadInput struct {
		Body struct {
			protocol.LoadScriptPayload
			Tab protocol.TabIdentity `json:"tab,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "load-script", Method: http.MethodPost, Path: "/api/v1/script/load", Summary: "Resolve and distribute a script to devices", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *loadInput) (*okOutput, error) {
			payload := input.Body.LoadScriptPayload
			resp := d.Dispatch(ctx, protocol.Request{
				Type:   protocol.ReqLoadScript,
				Tab:    input.Body.Tab,
				Script: &payload,
			})
			return okFromResponse(resp)
		})

	type invertOutput struct {
		Body struct {
			Inverted bool `json:"inverted"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "toggle-invert", Method: http.MethodPost, Path: "/api/v1/script/invert", Summary: "Toggle script inversion", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *struct{}) (*invertOutput, error) {
			resp := d.Dispatch(ctx, protocol.Request{Type: protocol.ReqToggleInvert})
			if resp.Error != "" {
				return nil, huma.Error500InternalServerError(resp.Error)
			}
			result, _ := resp.Data.(map[string]bool)
			out := &invertOutput{}
			out.Body.Inverted = result["inverted"]
			return out, nil
		})
}

type okOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

// okFromResponse converts a dispatch envelope to a boolean REST body,
// surfacing boundary errors as 400s.
func okFromResponse(resp protocol.Response) (*okOutput, error) {
	if resp.Error != "" {
		return nil, huma.Error400BadRequest(resp.Error)
	}
	out := &okOutput{}
	out.Body.OK = resp.OK
	return out, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case protocol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case protocol.CodeScriptNotFound:
			return huma.Error404NotFound(coded.Message)
		case protocol.CodeDeviceUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		case protocol.CodeResolveFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
