package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	log "github.com/Financial-Times/go-logger"
	"github.com/gorilla/mux"
)

const defaultBugStatus = "Pending"

type httpHandler struct {
	cache         *healthCache
	notifier      *notifier
	gatedServices []string
}

type integrationResponse struct {
	Message       string                       `json:"message"`
	Error         string                       `json:"error,omitempty"`
	ServiceStatus map[string]bool              `json:"service_status"`
	StatusMessage string                       `json:"service_status_message"`
	Integrations  map[string]integrationResult `json:"integrations,omitempty"`
}

type bugStatusRequest struct {
	Status string `json:"status"`
}

type forumTopicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Bug         bug    `json:"bug"`
}

func (h *httpHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *httpHandler) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.refreshAll(r.Context()))
}

func (h *httpHandler) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	serviceName := mux.Vars(r)["name"]

	if !useCache(r.URL) {
		if _, err := h.cache.refresh(r.Context(), serviceName); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	status, found, err := h.cache.get(serviceName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		status = healthStatus{ServiceName: serviceName, Available: true, Reason: "not checked yet"}
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *httpHandler) handleGoodToGo(w http.ResponseWriter, r *http.Request) {
	for _, name := range h.gatedServices {
		if !h.cache.isAvailable(name) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte((&serviceUnavailableError{name: name}).Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *httpHandler) handleBugCreated(w http.ResponseWriter, r *http.Request) {
	var b bug
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid bug payload: "+err.Error())
		return
	}
	if strings.TrimSpace(b.BugID) == "" || strings.TrimSpace(b.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "Bug id and title are required")
		return
	}
	if b.Status == "" {
		b.Status = defaultBugStatus
	}

	h.notifier.refreshForum(r.Context())
	calendar := h.notifier.bugCreated(r.Context(), b)
	response := integrationResponse{
		Message:      "Bug notification delivered with calendar event",
		Integrations: map[string]integrationResult{"calendar_event": calendar},
	}
	if !calendar.ok() {
		response.Message = "Bug notification accepted but calendar integration failed"
		response.Error = calendar.Error
	}
	h.writeIntegrationResponse(w, response)
}

func (h *httpHandler) handleBugStatusChanged(w http.ResponseWriter, r *http.Request) {
	bugID := mux.Vars(r)["bugID"]

	var req bugStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid status payload: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeJSONError(w, http.StatusBadRequest, "Status is required")
		return
	}

	calendar := h.notifier.bugStatusChanged(r.Context(), bugID, req.Status)
	if !calendar.ok() {
		log.Warnf("Failed to update calendar event status for bug %s: %s", bugID, calendar.Error)
	}
	h.writeIntegrationResponse(w, integrationResponse{
		Message:      "Bug " + bugID + " updated to status " + req.Status,
		Integrations: map[string]integrationResult{"calendar_event": calendar},
	})
}

func (h *httpHandler) handleBugForumTopic(w http.ResponseWriter, r *http.Request) {
	var req forumTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid forum topic payload: "+err.Error())
		return
	}
	req.Bug.BugID = mux.Vars(r)["bugID"]

	topic := h.notifier.bugForumTopic(r.Context(), req.Bug, req.Title, req.Description)
	response := integrationResponse{
		Message:      "Forum topic created successfully",
		Integrations: map[string]integrationResult{"forum_topic": topic},
	}
	if !topic.ok() {
		response.Message = "Failed to create forum topic"
		response.Error = topic.Error
	}
	h.writeIntegrationResponse(w, response)
}

func (h *httpHandler) handleReviewCreated(w http.ResponseWriter, r *http.Request) {
	var review codeReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid review payload: "+err.Error())
		return
	}
	if strings.TrimSpace(review.ID) == "" || strings.TrimSpace(review.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "Review id and title are required")
		return
	}

	calendar := h.notifier.reviewCreated(r.Context(), review)
	if !calendar.ok() {
		log.Warnf("Failed to create calendar event for review %s", review.ID)
	}
	topic := h.notifier.reviewForumTopic(r.Context(), review)
	if !topic.ok() {
		log.Warnf("Failed to create forum topic for review %s", review.ID)
	}

	h.writeIntegrationResponse(w, integrationResponse{
		Message: "Review notification processed",
		Integrations: map[string]integrationResult{
			"calendar_event": calendar,
			"forum_topic":    topic,
		},
	})
}

func (h *httpHandler) writeIntegrationResponse(w http.ResponseWriter, response integrationResponse) {
	response.ServiceStatus = h.cache.snapshot()
	response.StatusMessage = serviceStatusMessage(response.ServiceStatus)
	writeJSON(w, http.StatusOK, response)
}

func serviceStatusMessage(statuses map[string]bool) string {
	var unavailable []string
	for name, available := range statuses {
		if !available {
			unavailable = append(unavailable, name)
		}
	}
	if len(unavailable) == 0 {
		return "All services are available"
	}
	sort.Strings(unavailable)
	return "The following services are currently unavailable: " + strings.Join(unavailable, ", ")
}

func useCache(theURL *url.URL) bool {
	//use cache by default
	return theURL.Query().Get("cache") != "false"
}

func writeServiceError(w http.ResponseWriter, err error) {
	var unknown *unknownServiceError
	if errors.As(err, &unknown) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	log.WithError(err).Error("Cannot get service status")
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("Cannot encode response")
	}
}
