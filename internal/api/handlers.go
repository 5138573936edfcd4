package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	xerrors "indexao/internal/errors"
	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

// SwitchRequest is the body of POST /api/plugins/switch.
type SwitchRequest struct {
	AdapterType string `json:"adapter_type"`
	AdapterName string `json:"adapter_name"`
}

// SwitchResponse reports the adapter that ended up active, which differs
// from the requested one after a fallback.
type SwitchResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Active  string `json:"active"`
}

// ActiveAdapter names the active adapter of a kind; Name is null when none is.
type ActiveAdapter struct {
	Type string  `json:"type"`
	Name *string `json:"name"`
}

// HistoryResponse wraps the switch events.
type HistoryResponse struct {
	History []plugin.SwitchEvent `json:"history"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	kinds, err := kindsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	found, err := s.manager.DiscoverPlugins(r.Context(), "", kinds...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if found == nil {
		found = []plugin.Metadata{}
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleActiveAdapters(w http.ResponseWriter, _ *http.Request) {
	active := s.manager.ListActive()
	out := make([]ActiveAdapter, 0, len(active))
	for _, kind := range capability.Kinds() {
		out = append(out, activeAdapter(kind, active[kind]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActiveAdapter(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r.PathValue("kind"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	name, _ := s.manager.ActiveName(kind)
	writeJSON(w, http.StatusOK, activeAdapter(kind, name))
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	kind, err := parseKind(req.AdapterType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.AdapterName == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "adapter_name 不能为空"))
		return
	}

	ctx := r.Context()
	if slices.Contains(s.manager.ListAvailable(kind), req.AdapterName) {
		if err := s.manager.Switch(ctx, kind, req.AdapterName); err != nil {
			s.writeError(w, err)
			return
		}
	} else {
		s.log.Info("adapter not registered, attempting dynamic load", "kind", kind, "name", req.AdapterName)
		if _, err := s.manager.LoadAdapter(ctx, kind, req.AdapterName, plugin.DefaultLoadOptions()); err != nil {
			s.writeError(w, xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("Adapter not found and failed to load: %s", req.AdapterName)))
			return
		}
	}

	active, _ := s.manager.ActiveName(kind)
	writeJSON(w, http.StatusOK, SwitchResponse{
		Status:  "success",
		Message: fmt.Sprintf("Switched to %s/%s", kind, active),
		Active:  active,
	})
}

func (s *Server) handleRegistered(w http.ResponseWriter, _ *http.Request) {
	out := make(map[capability.Kind][]string, len(capability.Kinds()))
	for _, kind := range capability.Kinds() {
		names := s.manager.ListAvailable(kind)
		if names == nil {
			names = []string{}
		}
		out[kind] = names
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	kinds, err := kindsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是非负整数"))
			return
		}
		limit = parsed
	}

	var events []plugin.SwitchEvent
	if persisted, _ := strconv.ParseBool(r.URL.Query().Get("persisted")); persisted {
		if s.history == nil {
			s.writeError(w, xerrors.New(xerrors.CodeUnavailable, "未配置持久化切换历史"))
			return
		}
		var kind capability.Kind
		if len(kinds) > 0 {
			kind = kinds[0]
		}
		events, err = s.history.List(r.Context(), kind, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
	} else {
		events = s.manager.SwitchHistory(kinds...)
		if limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}
	}
	if events == nil {
		events = []plugin.SwitchEvent{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{History: events})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"active": s.manager.ListActive(),
	})
}

func activeAdapter(kind capability.Kind, name string) ActiveAdapter {
	out := ActiveAdapter{Type: string(kind)}
	if name != "" {
		out.Name = &name
	}
	return out
}

// kindsFromQuery reads the optional kind filter, also accepted as adapter_type.
func kindsFromQuery(r *http.Request) ([]capability.Kind, error) {
	q := r.URL.Query()
	raw := q.Get("kind")
	if raw == "" {
		raw = q.Get("adapter_type")
	}
	if raw == "" {
		return nil, nil
	}
	kind, err := parseKind(raw)
	if err != nil {
		return nil, err
	}
	return []capability.Kind{kind}, nil
}

func parseKind(raw string) (capability.Kind, error) {
	kind, err := capability.ParseKind(raw)
	if err != nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Invalid adapter_type: %s", raw))
	}
	return kind, nil
}
