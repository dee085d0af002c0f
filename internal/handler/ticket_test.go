package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	"github.com/alpinesboltltd/ticketflow/internal/ingest"
	"github.com/alpinesboltltd/ticketflow/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTicketTestRouter() (*gin.Engine, store.Store) {
	st := store.NewInMemStore()
	br := broker.NewInMemBroker(10)
	ingestSvc := ingest.New(st, br)
	h := NewTicketHandler(ingestSvc, st)

	r := gin.New()
	r.POST("/tickets", h.Create)
	r.GET("/tickets", h.List)
	r.GET("/tickets/:id", h.Get)
	r.GET("/tickets/:id/events", h.Events)
	return r, st
}

func TestCreateTicketReturns201OnFirstSubmission(t *testing.T) {
	r, _ := newTicketTestRouter()

	body, _ := json.Marshal(map[string]string{
		"customer_id": "cust-1",
		"subject":     "Where is my refund",
		"body":        "I was charged twice for order #42.",
	})
	req := httptest.NewRequest(http.MethodPost, "/tickets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["ticket_id"])
}

func TestCreateTicketIsIdempotentOverHTTP(t *testing.T) {
	r, _ := newTicketTestRouter()
	payload := map[string]string{
		"customer_id": "cust-1",
		"subject":     "Where is my refund",
		"body":        "I was charged twice for order #42.",
	}
	body, _ := json.Marshal(payload)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/tickets", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	first := post()
	second := post()

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	var firstResp, secondResp map[string]any
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.Equal(t, firstResp["ticket_id"], secondResp["ticket_id"])
}

func TestCreateTicketRejectsMissingFields(t *testing.T) {
	r, _ := newTicketTestRouter()
	body, _ := json.Marshal(map[string]string{"customer_id": "cust-1"})
	req := httptest.NewRequest(http.MethodPost, "/tickets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTicketReturns404ForUnknownID(t *testing.T) {
	r, _ := newTicketTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/tickets/does-not-exist", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketEventsListsCreationEvent(t *testing.T) {
	r, _ := newTicketTestRouter()
	body, _ := json.Marshal(map[string]string{
		"customer_id": "cust-2",
		"subject":     "Password reset",
		"body":        "Can't get into my account.",
	})
	createReq := httptest.NewRequest(http.MethodPost, "/tickets", bytes.NewReader(body))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	r.ServeHTTP(createRec, createReq)

	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	ticketID := created["ticket_id"].(string)

	eventsReq := httptest.NewRequest(http.MethodGet, "/tickets/"+ticketID+"/events", nil)
	eventsRec := httptest.NewRecorder()
	r.ServeHTTP(eventsRec, eventsReq)

	require.Equal(t, http.StatusOK, eventsRec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(eventsRec.Body.Bytes(), &resp))
	events, ok := resp["events"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, events)
}
