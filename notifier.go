package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/Financial-Times/go-logger"
)

const (
	bugEventWindow   = 7 * 24 * time.Hour
	bugEventPriority = "high"
)

type bug struct {
	BugID       string `json:"bug_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type codeReview struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type calendarEvent struct {
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Desc        string `json:"desc"`
	AllDay      bool   `json:"allDay"`
	CreatedBy   string `json:"createdBy"`
	EventType   string `json:"eventType"`
	ReferenceID string `json:"referenceId"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
}

type reviewEvent struct {
	ReviewID    string `json:"review_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type forumTopic struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsScheduled int    `json:"is_scheduled"`
}

// notifier turns business events into calendar and forum integration calls.
// An empty service name disables that collaborator.
type notifier struct {
	caller          *integrationCaller
	calendarService string
	forumService    string
	now             func() time.Time
}

func newNotifier(caller *integrationCaller, calendarService, forumService string) *notifier {
	return &notifier{
		caller:          caller,
		calendarService: calendarService,
		forumService:    forumService,
		now:             time.Now,
	}
}

func (n *notifier) bugCreated(ctx context.Context, b bug) integrationResult {
	start := n.now()
	event := calendarEvent{
		Title:       "Bug: " + b.Title,
		Start:       start.Format(time.RFC3339),
		End:         start.Add(bugEventWindow).Format(time.RFC3339),
		Desc:        b.Description,
		CreatedBy:   "bug_tracker",
		EventType:   "bug",
		ReferenceID: b.BugID,
		Status:      b.Status,
		Priority:    bugEventPriority,
	}
	return n.callCalendar(ctx, http.MethodPost, "/api/events", event, true)
}

func (n *notifier) bugStatusChanged(ctx context.Context, bugID, status string) integrationResult {
	path := "/api/events/by-reference/" + url.PathEscape(bugID)
	return n.callCalendar(ctx, http.MethodPut, path, map[string]string{"status": status}, false)
}

func (n *notifier) reviewCreated(ctx context.Context, r codeReview) integrationResult {
	event := reviewEvent{
		ReviewID:    r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
	}
	return n.callCalendar(ctx, http.MethodPost, "/api/events/code-review", event, false)
}

func (n *notifier) bugForumTopic(ctx context.Context, b bug, title, description string) integrationResult {
	if title == "" {
		title = fmt.Sprintf("Discussion: Bug #%s - %s", b.BugID, b.Title)
	}
	if description == "" {
		description = fmt.Sprintf("This topic is for discussing bug #%s: %s", b.BugID, b.Description)
	}
	return n.callForum(ctx, forumTopic{Title: title, Description: description})
}

func (n *notifier) reviewForumTopic(ctx context.Context, r codeReview) integrationResult {
	return n.callForum(ctx, forumTopic{
		Title:       "Code Review: " + r.Title,
		Description: "Discussion for code review: " + r.Description,
	})
}

// refreshForum re-probes the forum so a bug event reports its current status
// even though no forum call is made.
func (n *notifier) refreshForum(ctx context.Context) {
	if n.forumService == "" {
		return
	}
	if _, err := n.caller.cache.refresh(ctx, n.forumService); err != nil {
		log.WithError(err).Warnf("Cannot refresh status of service %s", n.forumService)
	}
}

func (n *notifier) callCalendar(ctx context.Context, method, path string, payload interface{}, preflight bool) integrationResult {
	if n.calendarService == "" {
		return disabledIntegration("calendar")
	}
	return n.caller.call(ctx, integrationRequest{
		service:   n.calendarService,
		method:    method,
		path:      path,
		payload:   payload,
		preflight: preflight,
	})
}

func (n *notifier) callForum(ctx context.Context, topic forumTopic) integrationResult {
	if n.forumService == "" {
		return disabledIntegration("forum")
	}
	return n.caller.call(ctx, integrationRequest{
		service: n.forumService,
		method:  http.MethodPost,
		path:    "/topics/",
		payload: topic,
	})
}

func disabledIntegration(collaborator string) integrationResult {
	return integrationResult{
		Service: collaborator,
		Outcome: integrationSkipped,
		Error:   fmt.Sprintf("%s integration is not configured", collaborator),
	}
}
