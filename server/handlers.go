package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/resource"
	"github.com/wolfeidau/swstore/telemetry"
)

type originUsage struct {
	Origin     swstore.Origin `json:"origin"`
	UsageBytes int64          `json:"usage_bytes"`
}

type registrationView struct {
	Registration swstore.RegistrationData `json:"registration"`
	Resources    []swstore.ResourceRecord `json:"resources,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"session_id": s.control.SessionID(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stats")
	stats, err := s.control.Stats(r.Context())
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	s.writeStorageJSON(w, r, stats)
}

func (s *Server) handleOrigins(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "origins")
	ctx := r.Context()

	origins, err := s.control.GetRegisteredOrigins(ctx)
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	out := make([]originUsage, 0, len(origins))
	for _, o := range origins {
		usage, err := s.control.GetUsageForOrigin(ctx, o)
		if err != nil {
			s.writeStorageError(w, r, err)
			return
		}
		out = append(out, originUsage{Origin: o, UsageBytes: usage})
	}
	s.writeStorageJSON(w, r, out)
}

// handleListRegistrations lists every registration, or those of the origin
// given by the "origin" query parameter together with their resources.
func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "registrations")
	ctx := r.Context()

	raw := r.URL.Query().Get("origin")
	if raw == "" {
		regs, err := s.control.GetAllRegistrations(ctx)
		if err != nil {
			s.writeStorageError(w, r, err)
			return
		}
		out := make([]registrationView, 0, len(regs))
		for _, reg := range regs {
			out = append(out, registrationView{Registration: reg})
		}
		s.writeStorageJSON(w, r, out)
		return
	}

	origin, err := swstore.ParseOrigin(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	found, err := s.control.GetRegistrationsForOrigin(ctx, origin)
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	out := make([]registrationView, 0, len(found))
	for _, f := range found {
		f.Reference.Release()
		out = append(out, registrationView{Registration: f.Registration, Resources: f.Resources})
	}
	s.writeStorageJSON(w, r, out)
}

func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "registration")
	id, ok := registrationID(w, r)
	if !ok {
		return
	}
	found, err := s.control.FindRegistrationForIDOnly(r.Context(), id)
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	found.Reference.Release()
	s.writeStorageJSON(w, r, registrationView{Registration: found.Registration, Resources: found.Resources})
}

func (s *Server) handleDeleteRegistration(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "registration_delete")
	id, ok := registrationID(w, r)
	if !ok {
		return
	}
	state, err := s.control.DeleteRegistration(r.Context(), id, "")
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	s.logger.Info("registration deleted via admin", "registration_id", id, "origin_state", state)
	s.writeStorageJSON(w, r, map[string]string{"origin_state": state.String()})
}

// handleUserData returns the registration's user data whose keys start with
// the "prefix" query parameter. Values are base64 encoded.
func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "userdata")
	id, ok := registrationID(w, r)
	if !ok {
		return
	}
	prefix := r.URL.Query().Get("prefix")
	entries, err := s.control.GetUserKeysAndDataByKeyPrefix(r.Context(), id, prefix)
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	s.writeStorageJSON(w, r, entries)
}

func (s *Server) handleGCRun(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "gc_run")
	result, err := s.gc.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGCStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "gc_status")
	status := s.gc.Status()
	if status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "never_run"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cleanup")
	n, err := s.control.PerformStorageCleanup(r.Context())
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	s.writeStorageJSON(w, r, map[string]int{"purged": n})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "policy")
	var updates []swstore.PolicyUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy updates: "+err.Error())
		return
	}
	for i, u := range updates {
		o, err := swstore.ParseOrigin(string(u.Origin))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updates[i].Origin = o
	}
	if err := s.control.ApplyPolicyUpdates(r.Context(), updates); err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	s.writeStorageJSON(w, r, map[string]int{"applied": len(updates)})
}

type resourceView struct {
	ResourceID    swstore.ResourceID `json:"resource_id"`
	StatusCode    int                `json:"status_code"`
	MIMEType      string             `json:"mime_type,omitempty"`
	ContentLength int64              `json:"content_length"`
	BodyChecksum  swstore.Hash       `json:"body_checksum"`
	MetadataSize  int                `json:"metadata_size"`
}

// handleResource describes a stored resource. An optional "checksum" query
// parameter is compared with the committed body checksum; a mismatch is
// reported as 409.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "resource")
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid resource id")
		return
	}
	id := swstore.ResourceID(n)

	var want swstore.Hash
	if raw := r.URL.Query().Get("checksum"); raw != "" {
		if want, err = swstore.ParseHash(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	reader, err := s.control.CreateResourceReader(r.Context(), id)
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}
	result, err := reader.ReadResponseHead(r.Context())
	if errors.Is(err, resource.ErrCacheMiss) {
		telemetry.SetStorageStatus(r, swstore.StatusErrorNotFound.String())
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeStorageError(w, r, err)
		return
	}

	view := resourceView{
		ResourceID:    id,
		StatusCode:    result.Head.StatusCode,
		MIMEType:      result.Head.MIMEType,
		ContentLength: result.Head.ContentLength,
		BodyChecksum:  result.Head.BodyChecksum,
		MetadataSize:  len(result.Metadata),
	}
	if !want.IsZero() && want != view.BodyChecksum {
		telemetry.SetStorageStatus(r, swstore.StatusOK.String())
		writeJSON(w, http.StatusConflict, view)
		return
	}
	s.writeStorageJSON(w, r, view)
}

func registrationID(w http.ResponseWriter, r *http.Request) (swstore.RegistrationID, bool) {
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid registration id")
		return swstore.InvalidRegistrationID, false
	}
	return swstore.RegistrationID(n), true
}

func (s *Server) writeStorageJSON(w http.ResponseWriter, r *http.Request, v any) {
	telemetry.SetStorageStatus(r, swstore.StatusOK.String())
	writeJSON(w, http.StatusOK, v)
}

// writeStorageError maps the storage status taxonomy to HTTP status codes.
func (s *Server) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	status := swstore.StatusOf(err)
	telemetry.SetStorageStatus(r, status.String())

	code := http.StatusInternalServerError
	switch status {
	case swstore.StatusErrorNotFound:
		code = http.StatusNotFound
	case swstore.StatusErrorDisabled:
		code = http.StatusServiceUnavailable
	default:
		s.logger.Error("storage operation failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
