package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/web/validate"
)

const maxUploadFiles = 10

// PublicCampaign handles GET /api/public/campaigns/{slug}
func (h *Handlers) PublicCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Playback.Campaign(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, c)
}

// SessionStart handles POST /api/public/campaigns/{slug}/sessions
func (h *Handlers) SessionStart(w http.ResponseWriter, r *http.Request) {
	sv, err := h.Playback.Start(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusCreated, sv)
}

// SessionView handles GET /api/public/sessions/{id}
func (h *Handlers) SessionView(w http.ResponseWriter, r *http.Request) {
	sv, err := h.Playback.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, sv)
}

type nextRequest struct {
	Value json.RawMessage `json:"value"`
}

// SessionNext handles POST /api/public/sessions/{id}/next
func (h *Handlers) SessionNext(w http.ResponseWriter, r *http.Request) {
	var req nextRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}

	sv, err := h.Playback.Next(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, sv)
}

// SessionPrevious handles POST /api/public/sessions/{id}/previous
func (h *Handlers) SessionPrevious(w http.ResponseWriter, r *http.Request) {
	sv, err := h.Playback.Previous(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, sv)
}

type navigateRequest struct {
	Index *int `json:"index"`
}

// SessionNavigate handles POST /api/public/sessions/{id}/navigate
func (h *Handlers) SessionNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Index == nil {
		h.fail(w, r, validate.Errors{"index": "is required"})
		return
	}

	sv, err := h.Playback.Navigate(r.Context(), chi.URLParam(r, "id"), *req.Index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, sv)
}

// SessionRestart handles POST /api/public/sessions/{id}/restart
func (h *Handlers) SessionRestart(w http.ResponseWriter, r *http.Request) {
	sv, err := h.Playback.Restart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, sv)
}

// SessionUpload handles POST /api/public/sessions/{id}/uploads. The form
// carries section_id and one or more "files" parts.
func (h *Handlers) SessionUpload(w http.ResponseWriter, r *http.Request) {
	limit := h.Config.Storage.MaxUploadBytes*maxUploadFiles + maxBodyBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, blob.ErrTooLarge)
			return
		}
		h.fail(w, r, errBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	sectionID := r.FormValue("section_id")
	headers := r.MultipartForm.File["files"]
	err := validate.New().
		UUID("section_id", sectionID).
		Check(len(headers) > 0, "files", "at least one file is required").
		Check(len(headers) <= maxUploadFiles, "files", "too many files").
		Err()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	files, err := h.Playback.Upload(r.Context(), chi.URLParam(r, "id"), sectionID, uploads)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusCreated, files)
}

func openUploads(headers []*multipart.FileHeader) ([]blob.Upload, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	uploads := make([]blob.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, f)
		uploads = append(uploads, blob.Upload{Name: fh.Filename, Reader: f})
	}
	return uploads, closeAll, nil
}

// SessionShare handles POST /api/public/sessions/{id}/share
func (h *Handlers) SessionShare(w http.ResponseWriter, r *http.Request) {
	shared, err := h.Playback.Share(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusCreated, shared)
}

// SharedResult handles GET /api/public/shared/{shortID}
func (h *Handlers) SharedResult(w http.ResponseWriter, r *http.Request) {
	shared, err := h.Playback.Shared(r.Context(), chi.URLParam(r, "shortID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if shared == nil {
		h.fail(w, r, errNotFound)
		return
	}
	sendData(w, http.StatusOK, shared)
}

// TransferRedeem handles GET /api/public/transfers/{token}. A token can be
// redeemed once.
func (h *Handlers) TransferRedeem(w http.ResponseWriter, r *http.Request) {
	payload, err := h.Transfers.Redeem(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, payload)
}

// AICompletion handles POST /api/ai/completions. The reply always uses the
// completion wire format.
func (h *Handlers) AICompletion(w http.ResponseWriter, r *http.Request) {
	req, err := ai.ParseRequest(r, h.Config.Storage.MaxUploadBytes*maxUploadFiles+maxBodyBytes)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, ai.CompletionResponse{Error: err.Error()})
		return
	}

	resp, err := h.Completer.Complete(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ai.ErrEmptyPrompt) || errors.Is(err, ai.ErrNoOutputs) {
			status = http.StatusBadRequest
		} else {
			h.logger.Warn("completion failed", "error", err)
		}
		sendJSON(w, status, ai.CompletionResponse{Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, resp)
}
