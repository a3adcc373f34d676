package api

import (
	"net/http"
	"sort"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/metrics"
)

// handleHealth reports process liveness plus per-component detail.
// An unreachable container daemon shows up in the component map but
// does not fail the endpoint; the process is still serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, metrics.GetHealth())
}

// handleConfig exposes the effective configuration the dashboard
// needs: directories, caps, and flags. Connection strings stay out.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, configView{
		DataDir:           s.settings.DataDir,
		HostDataDir:       s.settings.HostDataDir,
		ImportDir:         s.settings.ImportDir,
		HostImportDir:     s.settings.HostImportDir,
		MaxBackupsPerType: s.settings.MaxBackupsPerType,
		AutoBackupOnStop:  s.settings.AutoBackupOnStop,
		LogLevel:          s.settings.LogLevel,
	})
}

type importFoldersResponse struct {
	Folders []string `json:"folders"`
}

// handleImportFolders lists the candidate source directories for the
// import wizard. A missing import directory yields an empty list.
func (s *Server) handleImportFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := fsutil.ListSubdirs(s.settings.ImportDir)
	if err != nil {
		s.respondError(w, errdefs.FileSystem(err, "failed to list import folders"))
		return
	}
	sort.Strings(folders)
	if folders == nil {
		folders = []string{}
	}
	s.respondJSON(w, http.StatusOK, importFoldersResponse{Folders: folders})
}
