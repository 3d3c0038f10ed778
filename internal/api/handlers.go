package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	monitor := s.system.Monitor()
	s.sendJSON(w, monitor.HTTPStatusCode(), monitor.Result())
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	ph, ok := s.system.Monitor().GetProviderHealth(name)
	if !ok {
		s.sendError(w, http.StatusNotFound, "unknown provider: "+name)
		return
	}
	s.sendJSON(w, http.StatusOK, ph)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.system.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.system.Stats())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.system.Breakers().AllStatuses())
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.system.Breakers().Reset(name); err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info("Breaker reset via admin API", zap.String("breaker", name))
	s.sendJSON(w, http.StatusOK, map[string]string{"breaker": name, "state": "closed"})
}

func (s *Server) handleBreakerTrip(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.system.Breakers().Trip(name); err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info("Breaker tripped via admin API", zap.String("breaker", name))
	s.sendJSON(w, http.StatusOK, map[string]string{"breaker": name, "state": "open"})
}

type healRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleForceHealing(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req healRequest
	if r.Body != nil {
		// missing or malformed body means default reason
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "manual healing via admin API"
	}

	if err := s.system.ForceHealing(name, req.Reason); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusAccepted, map[string]string{"provider": name, "reason": req.Reason})
}

type scaleRequest struct {
	Target int    `json:"target"`
	Reason string `json:"reason"`
}

func (s *Server) handleForceScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual scaling via admin API"
	}

	if err := s.system.ForceScale(req.Target, req.Reason); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"instances": req.Target})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	preds, err := s.system.ForcePredictionAnalysis()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"created":     len(preds),
		"predictions": preds,
	})
}

func (s *Server) handleHealingEvents(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	if healer := s.system.Healer(); healer != nil {
		s.sendJSON(w, http.StatusOK, healer.Events(limit))
		return
	}
	if s.store != nil {
		records, err := s.store.RecentHealing(limit)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.sendJSON(w, http.StatusOK, records)
		return
	}
	s.sendError(w, http.StatusNotFound, "self-healing disabled")
}

func (s *Server) handleScalingEvents(w http.ResponseWriter, r *http.Request) {
	scaler := s.system.Scaler()
	if scaler == nil {
		s.sendError(w, http.StatusNotFound, "auto-scaling disabled")
		return
	}
	s.sendJSON(w, http.StatusOK, scaler.Events(limitParam(r, 50)))
}

func (s *Server) handleOptimizations(w http.ResponseWriter, r *http.Request) {
	opt := s.system.Optimizer()
	if opt == nil {
		s.sendError(w, http.StatusNotFound, "auto-optimization disabled")
		return
	}
	s.sendJSON(w, http.StatusOK, opt.Optimizations(limitParam(r, 50)))
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	engine := s.system.Predictions()
	if engine == nil {
		s.sendError(w, http.StatusNotFound, "predictive maintenance disabled")
		return
	}
	if r.URL.Query().Get("active") == "true" {
		s.sendJSON(w, http.StatusOK, engine.ActivePredictions())
		return
	}
	s.sendJSON(w, http.StatusOK, engine.Predictions())
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	engine := s.system.Predictions()
	if engine == nil {
		s.sendError(w, http.StatusNotFound, "predictive maintenance disabled")
		return
	}
	s.sendJSON(w, http.StatusOK, engine.MaintenanceWindows())
}

func (s *Server) handleCancelMaintenance(w http.ResponseWriter, r *http.Request) {
	engine := s.system.Predictions()
	if engine == nil {
		s.sendError(w, http.StatusNotFound, "predictive maintenance disabled")
		return
	}
	id := mux.Vars(r)["id"]
	if err := engine.CancelMaintenance(id); err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"window": id, "status": "cancelled"})
}
