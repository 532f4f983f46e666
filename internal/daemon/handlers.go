package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jiglab/jigbridge/internal/api"
	"github.com/jiglab/jigbridge/internal/model"
	"github.com/jiglab/jigbridge/internal/protocol"
	"github.com/jiglab/jigbridge/internal/state"
)

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Signature:     s.cfg.ServerSignature,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshotHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, toSnapshotEnvelope(s.store.Snapshot()))
}

func (s *Server) legacyStateHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, toLegacyState(s.store.Snapshot()))
}

func (s *Server) logWindowHandler(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "sequence")
	seq := model.LogSequence(strings.ToLower(strings.TrimSpace(raw)))
	entries, err := s.store.LogWindow(seq, r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		var rangeErr *model.RangeParseError
		switch {
		case errors.As(err, &rangeErr):
			s.writeError(w, http.StatusBadRequest, model.ErrCodeRangeParse, rangeErr.Error())
		case errors.Is(err, state.ErrUnknownSequence):
			s.writeError(w, http.StatusBadRequest, model.ErrCodeUnknownSequence, "sequence must be global, current, or previous")
		default:
			s.writeError(w, http.StatusInternalServerError, model.ErrCodeInternal, "failed to read log window")
		}
		return
	}
	resp := api.LogWindowEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Sequence:      string(seq),
		Count:         len(entries),
		Entries:       toLogEntryResponses(entries),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) truncateGlobalHandler(w http.ResponseWriter, _ *http.Request) {
	s.store.TruncateGlobalLog()
	w.WriteHeader(http.StatusNoContent)
}

type selectCommandRequest struct {
	ID string `json:"id"`
}

type startCommandRequest struct {
	ID string `json:"id"`
}

type logCommandRequest struct {
	Message string `json:"message"`
}

type shutdownCommandRequest struct {
	Reason string `json:"reason"`
}

// sendCommand encodes cmd onto the controller stream and acknowledges
// with the exact line written. Reports whether the send succeeded.
func (s *Server) sendCommand(w http.ResponseWriter, cmd protocol.Command) bool {
	line, err := protocol.EncodeCommand(cmd)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeEncode, err.Error())
		return false
	}
	if err := s.enc.Send(cmd); err != nil {
		s.logger().Error("outbound command write failed", "command", string(cmd.Kind), "error", err)
		s.writeError(w, http.StatusBadGateway, model.ErrCodeEncode, "failed to write command to controller")
		return false
	}
	resp := api.CommandAck{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Command:       string(cmd.Kind),
		Line:          line,
	}
	s.writeJSON(w, http.StatusAccepted, resp)
	return true
}

// decodeBody tolerates an absent or empty body so bare POSTs work for
// commands whose payload is optional.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) commandHello(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Hello(s.cfg.ServerSignature))
}

func (s *Server) commandJig(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Jig())
}

func (s *Server) commandScenarios(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Scenarios())
}

func (s *Server) commandTests(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Tests())
}

func (s *Server) commandAbort(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Abort())
}

func (s *Server) commandSelect(w http.ResponseWriter, r *http.Request) {
	var req selectCommandRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeBadRequest, "id is required")
		return
	}
	s.sendCommand(w, protocol.Scenario(id))
}

func (s *Server) commandStart(w http.ResponseWriter, r *http.Request) {
	var req startCommandRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.store.ActiveScenarioID()
	}
	if id == "" {
		s.writeError(w, http.StatusConflict, model.ErrCodeNoActiveScenario, model.ErrNoActiveScenario.Error())
		return
	}
	s.sendCommand(w, protocol.Start(id))
}

func (s *Server) commandLog(w http.ResponseWriter, r *http.Request) {
	var req logCommandRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeBadRequest, "message is required")
		return
	}
	s.sendCommand(w, protocol.Log(req.Message))
}

func (s *Server) commandShutdown(w http.ResponseWriter, r *http.Request) {
	var req shutdownCommandRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}
	if s.sendCommand(w, protocol.Shutdown(strings.TrimSpace(req.Reason))) {
		s.requestExit()
	}
}

func (s *Server) legacyHelloHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Hello(s.cfg.ServerSignature))
}

func (s *Server) legacyScenariosHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendCommand(w, protocol.Scenarios())
}

func (s *Server) legacyExitHandler(w http.ResponseWriter, _ *http.Request) {
	if s.sendCommand(w, protocol.Shutdown("User requested shutdown")) {
		s.requestExit()
	}
}
