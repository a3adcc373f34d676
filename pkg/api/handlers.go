package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Lmdudester/Garcon/pkg/manager"
	"github.com/Lmdudester/Garcon/pkg/types"
)

type createServerRequest struct {
	Name       string `json:"name"`
	TemplateID string `json:"templateId"`
	SourcePath string `json:"sourcePath"`

	Ports  []types.PortMapping `json:"ports,omitempty"`
	Env    map[string]string   `json:"env,omitempty"`
	Memory string              `json:"memory,omitempty"`
	CPUs   float64             `json:"cpus,omitempty"`

	RestartAfterMaintenance bool `json:"restartAfterMaintenance,omitempty"`
}

type patchServerRequest struct {
	Name   *string              `json:"name,omitempty"`
	Ports  *[]types.PortMapping `json:"ports,omitempty"`
	Env    *map[string]string   `json:"env,omitempty"`
	Memory *string              `json:"memory,omitempty"`
	CPUs   *float64             `json:"cpus,omitempty"`

	RestartAfterMaintenance *bool `json:"restartAfterMaintenance,omitempty"`
}

type orderRequest struct {
	Order []string `json:"order"`
}

type createBackupRequest struct {
	Description string `json:"description,omitempty"`
}

// respondServer writes the current row for one server. Lifecycle
// handlers use it so the dashboard gets the post-transition state in
// the same round trip.
func (s *Server) respondServer(w http.ResponseWriter, status int, serverID string) {
	state, err := s.manager.Get(serverID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, status, s.serverToView(state))
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.serversToViews(s.manager.List()))
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	state, err := s.manager.Import(r.Context(), &manager.ImportParams{
		Name:                    req.Name,
		TemplateID:              req.TemplateID,
		SourcePath:              req.SourcePath,
		Ports:                   req.Ports,
		Env:                     req.Env,
		Memory:                  req.Memory,
		CPUs:                    req.CPUs,
		RestartAfterMaintenance: req.RestartAfterMaintenance,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, s.serverToView(state))
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	s.respondServer(w, http.StatusOK, mux.Vars(r)["id"])
}

func (s *Server) handlePatchServer(w http.ResponseWriter, r *http.Request) {
	var req patchServerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	state, err := s.manager.UpdateConfig(r.Context(), mux.Vars(r)["id"], &manager.UpdateParams{
		Name:                    req.Name,
		Ports:                   req.Ports,
		Env:                     req.Env,
		Memory:                  req.Memory,
		CPUs:                    req.CPUs,
		RestartAfterMaintenance: req.RestartAfterMaintenance,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.serverToView(state))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSetOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.manager.SetServerOrder(req.Order); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Start(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondServer(w, http.StatusOK, id)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Stop(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondServer(w, http.StatusOK, id)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Restart(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondServer(w, http.StatusOK, id)
}

func (s *Server) handleAcknowledgeCrash(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.AcknowledgeCrash(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondServer(w, http.StatusOK, id)
}

func (s *Server) handleInitiateUpdate(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.InitiateUpdate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, initiateUpdateToView(result))
}

func (s *Server) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.ApplyUpdate(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondServer(w, http.StatusOK, id)
}

func (s *Server) handleCancelUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.CancelUpdate(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondServer(w, http.StatusOK, id)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	records, err := s.manager.ListBackups(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if records == nil {
		records = []types.BackupRecord{}
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	// An empty body means a backup with no description
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.respondError(w, err)
			return
		}
	}

	record, err := s.manager.CreateBackup(mux.Vars(r)["id"], req.Description)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, record)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ts, err := parseTimestamp(vars["timestamp"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.manager.DeleteBackup(vars["id"], ts); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ts, err := parseTimestamp(vars["timestamp"])
	if err != nil {
		s.respondError(w, err)
		return
	}

	result, err := s.manager.Restore(r.Context(), vars["id"], ts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, restoreToView(result))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, templatesToViews(s.templates.List()))
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, templateToView(tpl))
}
