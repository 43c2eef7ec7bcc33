package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/parMaster/meetsync/repo"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

func (s *Server) router() http.Handler {
	router := chi.NewRouter()
	router.Use(rest.Recoverer(lgr.Std))
	router.Use(rest.Throttle(5))
	router.Use(rest.AppInfo("meetsync", "parMaster", version), rest.Ping)

	router.Get("/status", s.statusHandler)
	router.Get("/events", s.eventsHandler)
	router.Post("/sync", s.syncHandler)

	router.Route("/meetings", func(r chi.Router) {
		r.Get("/", s.listMeetingsHandler)
		r.Get("/{eventId}", s.getMeetingHandler)
		r.Patch("/{eventId}", s.updateMeetingHandler)
		r.Delete("/{eventId}", s.deleteMeetingHandler)
	})

	router.Post("/recordings", s.startRecordingHandler)

	router.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobsHandler)
		r.Get("/{id}", s.getJobHandler)
		r.Post("/{id}/cancel", s.cancelJobHandler)
		r.Post("/{id}/retry", s.retryJobHandler)
		r.Post("/{id}/abandon", s.abandonJobHandler)
	})

	router.Route("/pending", func(r chi.Router) {
		r.Get("/", s.listPendingHandler)
		r.Post("/{eventId}/resume", s.resumeHandler)
		r.Delete("/{eventId}", s.dismissHandler)
	})

	return router
}

// sendError maps domain errors to http codes
func sendError(rw http.ResponseWriter, r *http.Request, err error, msg string) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNoRows), errors.Is(err, repo.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, repo.ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, repo.ErrNotCancellable), errors.Is(err, repo.ErrSyncInProgress):
		code = http.StatusConflict
	case errors.Is(err, repo.ErrOffline):
		code = http.StatusServiceUnavailable
	case errors.Is(err, repo.ErrNoSpace):
		code = http.StatusInsufficientStorage
	}
	rest.SendErrorJSON(rw, r, lgr.Std, code, err, msg)
}

func renderAccepted(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(http.StatusAccepted)
	rest.RenderJSON(rw, v)
}

func (s *Server) userId(r *http.Request) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return s.cfg.Server.UserId
}

// online probes the remote service at most every 30 seconds
func (s *Server) online(ctx context.Context) bool {
	if v, err := s.cache.Get("online"); err == nil {
		return v.(bool)
	}
	online := s.gw.Online(ctx)
	s.cache.Set("online", online, 30)
	return online
}

func (s *Server) statusHandler(rw http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		sendError(rw, r, err, "failed to get stats")
		return
	}
	pending, err := s.engine.Recover(r.Context())
	if err != nil {
		sendError(rw, r, err, "failed to list pending jobs")
		return
	}
	jobs := s.engine.Jobs()
	online := s.online(r.Context())

	status := "OK"
	if len(jobs) > 0 || stats[model.StatusProcessing] > 0 {
		status = "PROCESSING"
	}
	if !online {
		status = "OFFLINE"
	}

	resp := rest.JSON{
		"status":  status,
		"online":  online,
		"stats":   stats,
		"jobs":    len(jobs),
		"pending": len(pending),
	}

	// disk storage stats of the import dir
	if usage, err := disk.Usage(s.cfg.Storage.ImportDir); err == nil {
		resp["storage"] = rest.JSON{
			"total":         model.FileSize(usage.Total),
			"free":          model.FileSize(usage.Free),
			"used":          model.FileSize(usage.Used),
			"usage_percent": int(usage.UsedPercent),
		}
	} else {
		log.Printf("[WARN] failed to get disk storage report, %v", err)
	}

	rest.RenderJSON(rw, resp)
}

func (s *Server) eventsHandler(rw http.ResponseWriter, r *http.Request) {
	rest.RenderJSON(rw, rest.JSON{"data": s.feed.Recent()})
}

func (s *Server) syncHandler(rw http.ResponseWriter, r *http.Request) {
	userId := s.userId(r)
	log.Printf("[INFO] /sync: %s (%s)", userId, r.Header.Get("X-Real-Ip"))
	res, err := s.sync.Sync(r.Context(), userId)
	if err != nil {
		sendError(rw, r, err, "sync failed")
		return
	}
	rest.RenderJSON(rw, res)
}

func (s *Server) listMeetingsHandler(rw http.ResponseWriter, r *http.Request) {
	m, err := s.meetings.List(r.Context(), s.userId(r))
	if err != nil {
		sendError(rw, r, err, "failed to list meetings")
		return
	}
	rest.RenderJSON(rw, rest.JSON{"data": m})
}

func (s *Server) getMeetingHandler(rw http.ResponseWriter, r *http.Request) {
	m, err := s.meetings.Get(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		sendError(rw, r, err, "failed to get meeting")
		return
	}
	rest.RenderJSON(rw, m)
}

func (s *Server) updateMeetingHandler(rw http.ResponseWriter, r *http.Request) {
	var patch model.MeetingPatch
	r.Body = http.MaxBytesReader(rw, r.Body, int64(1<<16))
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&patch); err != nil {
		rest.SendErrorJSON(rw, r, lgr.Std, http.StatusBadRequest, err, "failed to decode request body")
		return
	}

	m, err := s.meetings.Update(r.Context(), chi.URLParam(r, "eventId"), patch)
	if err != nil {
		sendError(rw, r, err, "failed to update meeting")
		return
	}
	rest.RenderJSON(rw, m)
}

func (s *Server) deleteMeetingHandler(rw http.ResponseWriter, r *http.Request) {
	eventId := chi.URLParam(r, "eventId")
	log.Printf("[INFO] delete meeting %s (%s)", eventId, r.Header.Get("X-Real-Ip"))
	if err := s.meetings.Delete(r.Context(), eventId); err != nil {
		sendError(rw, r, err, "failed to delete meeting")
		return
	}
	rest.RenderJSON(rw, rest.JSON{"deleted": eventId})
}

type recordingRequest struct {
	UserId      string `json:"user_id"`
	Title       string `json:"title"`
	Path        string `json:"path"` // local artifact
	URL         string `json:"url"`  // remote artifact, downloaded first
	ContentType string `json:"content_type"`
}

func (s *Server) startRecordingHandler(rw http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	r.Body = http.MaxBytesReader(rw, r.Body, int64(1<<16))
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(rw, r, lgr.Std, http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	if req.UserId == "" {
		req.UserId = s.userId(r)
	}

	artifact := repo.Artifact{Path: req.Path, Name: filepath.Base(req.Path), ContentType: req.ContentType}
	if req.URL != "" {
		var err error
		if artifact, err = s.importer.Import(r.Context(), req.URL); err != nil {
			sendError(rw, r, err, "failed to import recording")
			return
		}
		if req.ContentType != "" {
			artifact.ContentType = req.ContentType
		}
	}

	snap, err := s.engine.Start(s.jobsCtx, repo.StartRequest{UserId: req.UserId, Title: req.Title, Artifact: artifact})
	if err != nil {
		sendError(rw, r, err, "failed to start job")
		return
	}
	log.Printf("[INFO] started job %s for %s", snap.Id, snap.UserId)
	renderAccepted(rw, snap)
}

type jobView struct {
	repo.JobSnapshot
	LastEvent *model.Event `json:"last_event,omitempty"`
}

func (s *Server) view(snap repo.JobSnapshot) jobView {
	v := jobView{JobSnapshot: snap}
	if e, ok := s.feed.Last(snap.Id); ok {
		v.LastEvent = &e
	}
	return v
}

func (s *Server) listJobsHandler(rw http.ResponseWriter, r *http.Request) {
	res := []jobView{}
	for _, snap := range s.engine.Jobs() {
		res = append(res, s.view(snap))
	}
	rest.RenderJSON(rw, rest.JSON{"data": res})
}

func (s *Server) getJobHandler(rw http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Job(chi.URLParam(r, "id"))
	if err != nil {
		sendError(rw, r, err, "failed to get job")
		return
	}
	rest.RenderJSON(rw, s.view(snap))
}

func (s *Server) cancelJobHandler(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(id); err != nil {
		sendError(rw, r, err, "failed to cancel job")
		return
	}
	rest.RenderJSON(rw, rest.JSON{"cancelled": id})
}

func (s *Server) retryJobHandler(rw http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.RetryUpload(s.jobsCtx, chi.URLParam(r, "id"))
	if err != nil {
		sendError(rw, r, err, "failed to retry upload")
		return
	}
	renderAccepted(rw, snap)
}

func (s *Server) abandonJobHandler(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Abandon(id); err != nil {
		sendError(rw, r, err, "failed to abandon job")
		return
	}
	rest.RenderJSON(rw, rest.JSON{"abandoned": id})
}

type pendingView struct {
	model.PendingMarker
	Waiting string `json:"waiting"`
}

func (s *Server) listPendingHandler(rw http.ResponseWriter, r *http.Request) {
	markers, err := s.engine.Recover(r.Context())
	if err != nil {
		sendError(rw, r, err, "failed to list pending jobs")
		return
	}
	res := []pendingView{}
	for _, m := range markers {
		res = append(res, pendingView{PendingMarker: m, Waiting: time.Since(m.SubmittedAt).Truncate(time.Second).String()})
	}
	rest.RenderJSON(rw, rest.JSON{"data": res})
}

func (s *Server) resumeHandler(rw http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Resume(s.jobsCtx, chi.URLParam(r, "eventId"))
	if err != nil {
		sendError(rw, r, err, "failed to resume job")
		return
	}
	renderAccepted(rw, snap)
}

func (s *Server) dismissHandler(rw http.ResponseWriter, r *http.Request) {
	eventId := chi.URLParam(r, "eventId")
	if err := s.engine.Dismiss(r.Context(), eventId); err != nil {
		sendError(rw, r, err, "failed to dismiss job")
		return
	}
	rest.RenderJSON(rw, rest.JSON{"dismissed": eventId})
}
