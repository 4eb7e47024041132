package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(t *testing.T, calendarURL, forumURL string) *notifier {
	t.Helper()
	registry, err := newServiceRegistry(
		serviceDescriptor{name: "calendar", baseURL: calendarURL, healthPath: "/api"},
		serviceDescriptor{name: "forum", baseURL: forumURL},
	)
	require.NoError(t, err)
	cache := newHealthCache(registry, newHealthProbe(http.DefaultClient, time.Second, nil), nil)
	n := newNotifier(newIntegrationCaller(cache, http.DefaultClient, time.Second, nil), "calendar", "forum")
	n.now = func() time.Time {
		return time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	}
	return n
}

func TestBugCreatedPostsCalendarEvent(t *testing.T) {
	calendar, recorded := newCollaborator(t, http.StatusOK, http.StatusCreated, `{"id":"evt-1"}`)
	n := newTestNotifier(t, calendar.URL, "http://forum:8004")

	result := n.bugCreated(context.Background(), bug{BugID: "BUG-7", Title: "Login broken", Description: "500 on submit", Status: "Pending"})

	assert.Equal(t, integrationOK, result.Outcome)
	require.Len(t, *recorded, 1)
	assert.Equal(t, http.MethodPost, (*recorded)[0].method)
	assert.Equal(t, "/api/events", (*recorded)[0].path)

	var event calendarEvent
	require.NoError(t, json.Unmarshal((*recorded)[0].body, &event))
	assert.Equal(t, calendarEvent{
		Title:       "Bug: Login broken",
		Start:       "2024-03-01T10:00:00Z",
		End:         "2024-03-08T10:00:00Z",
		Desc:        "500 on submit",
		CreatedBy:   "bug_tracker",
		EventType:   "bug",
		ReferenceID: "BUG-7",
		Status:      "Pending",
		Priority:    "high",
	}, event)
}

func TestBugStatusChangedUpdatesByReference(t *testing.T) {
	calendar, recorded := newCollaborator(t, http.StatusOK, http.StatusOK, `{"updated":true}`)
	n := newTestNotifier(t, calendar.URL, "http://forum:8004")

	result := n.bugStatusChanged(context.Background(), "BUG-7", "Resolved")

	assert.Equal(t, integrationOK, result.Outcome)
	require.Len(t, *recorded, 1)
	assert.Equal(t, http.MethodPut, (*recorded)[0].method)
	assert.Equal(t, "/api/events/by-reference/BUG-7", (*recorded)[0].path)
	assert.JSONEq(t, `{"status":"Resolved"}`, string((*recorded)[0].body))
}

func TestReviewCreatedPostsCodeReviewEvent(t *testing.T) {
	calendar, recorded := newCollaborator(t, http.StatusOK, http.StatusCreated, `{}`)
	n := newTestNotifier(t, calendar.URL, "http://forum:8004")

	result := n.reviewCreated(context.Background(), codeReview{ID: "CR-1", Title: "Refactor", Description: "cleanup", Status: "Open"})

	assert.Equal(t, integrationOK, result.Outcome)
	require.Len(t, *recorded, 1)
	assert.Equal(t, "/api/events/code-review", (*recorded)[0].path)
	assert.JSONEq(t, `{"review_id":"CR-1","title":"Refactor","description":"cleanup","status":"Open"}`, string((*recorded)[0].body))
}

func TestForumTopics(t *testing.T) {
	tests := []struct {
		name        string
		topic       func(n *notifier) integrationResult
		expectedReq string
	}{
		{
			name: "bug topic with default title",
			topic: func(n *notifier) integrationResult {
				return n.bugForumTopic(context.Background(), bug{BugID: "BUG-7", Title: "Login broken", Description: "500 on submit"}, "", "")
			},
			expectedReq: `{"title":"Discussion: Bug #BUG-7 - Login broken","description":"This topic is for discussing bug #BUG-7: 500 on submit","is_scheduled":0}`,
		},
		{
			name: "bug topic with explicit title",
			topic: func(n *notifier) integrationResult {
				return n.bugForumTopic(context.Background(), bug{BugID: "BUG-7"}, "Custom", "Details")
			},
			expectedReq: `{"title":"Custom","description":"Details","is_scheduled":0}`,
		},
		{
			name: "review topic",
			topic: func(n *notifier) integrationResult {
				return n.reviewForumTopic(context.Background(), codeReview{ID: "CR-1", Title: "Refactor", Description: "cleanup"})
			},
			expectedReq: `{"title":"Code Review: Refactor","description":"Discussion for code review: cleanup","is_scheduled":0}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			forum, recorded := newCollaborator(t, http.StatusOK, http.StatusCreated, `{"topic_id":3}`)
			n := newTestNotifier(t, "http://calendar:5000", forum.URL)

			result := tc.topic(n)

			assert.Equal(t, integrationOK, result.Outcome)
			assert.JSONEq(t, `{"topic_id":3}`, string(result.Payload))
			require.Len(t, *recorded, 1)
			assert.Equal(t, http.MethodPost, (*recorded)[0].method)
			assert.Equal(t, "/topics/", (*recorded)[0].path)
			assert.JSONEq(t, tc.expectedReq, string((*recorded)[0].body))
		})
	}
}

func TestDisabledIntegrations(t *testing.T) {
	n := newNotifier(nil, "", "")

	calendar := n.bugCreated(context.Background(), bug{BugID: "BUG-1", Title: "t"})
	assert.Equal(t, integrationSkipped, calendar.Outcome)
	assert.Equal(t, "calendar integration is not configured", calendar.Error)

	forum := n.reviewForumTopic(context.Background(), codeReview{ID: "CR-1"})
	assert.Equal(t, integrationSkipped, forum.Outcome)
	assert.Equal(t, "forum", forum.Service)
}
