// Package gmailtest provides an in-process fake of the Gmail API v1
// endpoints the client uses.
package gmailtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// ModifyCall records one modify request
type ModifyCall struct {
	Add    []string
	Remove []string
}

// Server is a fake Gmail API. Messages are listed in insertion order.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	labels   []*gmail.Label
	messages []*gmail.Message
	failGet  map[string]int

	// PageSize bounds each list page
	PageSize int

	Sent     [][]byte
	Modified map[string][]ModifyCall
	Trashed   []string
	Untrashed []string
	Deleted   []string
	Gets     int
	Queries  []string
	Tokens   []string
}

// NewServer starts a fake. Close it when done.
func NewServer() *Server {
	s := &Server{
		PageSize: 100,
		failGet:  make(map[string]int),
		Modified: make(map[string][]ModifyCall),
	}

	mux := http.NewServeMux()
	const base = "/gmail/v1/users/me/"
	mux.HandleFunc("GET "+base+"labels", s.listLabels)
	mux.HandleFunc("POST "+base+"labels", s.createLabel)
	mux.HandleFunc("DELETE "+base+"labels/{id}", s.deleteLabel)
	mux.HandleFunc("GET "+base+"messages", s.listMessages)
	mux.HandleFunc("GET "+base+"messages/{id}", s.getMessage)
	mux.HandleFunc("POST "+base+"messages/send", s.send)
	mux.HandleFunc("POST "+base+"messages/{id}/modify", s.modify)
	mux.HandleFunc("POST "+base+"messages/{id}/trash", s.trash)
	mux.HandleFunc("POST "+base+"messages/{id}/untrash", s.untrash)
	mux.HandleFunc("DELETE "+base+"messages/{id}", s.delete)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.Tokens = append(s.Tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	return s
}

// Endpoint is the value for option.WithEndpoint
func (s *Server) Endpoint() string {
	return s.URL + "/"
}

// AddLabel registers a label
func (s *Server) AddLabel(id, name string, total, unread int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, &gmail.Label{Id: id, Name: name, MessagesTotal: total, MessagesUnread: unread})
}

// AddMessage registers a message
func (s *Server) AddMessage(m *gmail.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// FailGet makes get for id answer with status
func (s *Server) FailGet(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet[id] = status
}

// Message builds a full-format message with text and html alternatives
func Message(id string, labels []string, subject, from, text string, date time.Time) *gmail.Message {
	enc := func(v string) string { return base64.URLEncoding.EncodeToString([]byte(v)) }
	return &gmail.Message{
		Id:           id,
		ThreadId:     "t-" + id,
		LabelIds:     labels,
		Snippet:      text,
		InternalDate: date.UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: subject},
				{Name: "From", Value: from},
				{Name: "To", Value: "me@example.org"},
				{Name: "Date", Value: date.Format(time.RFC1123Z)},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc(text), Size: int64(len(text))}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<p>" + text + "</p>")}},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, status, msg)
}

func (s *Server) find(id string) *gmail.Message {
	for _, m := range s.messages {
		if m.Id == id {
			return m
		}
	}
	return nil
}

func (s *Server) listLabels(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, &gmail.ListLabelsResponse{Labels: s.labels})
}

// Labels returns a snapshot of the registered labels
func (s *Server) Labels() []*gmail.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*gmail.Label(nil), s.labels...)
}

func (s *Server) createLabel(w http.ResponseWriter, r *http.Request) {
	var label gmail.Label
	if err := json.NewDecoder(r.Body).Decode(&label); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.labels {
		if strings.EqualFold(l.Name, label.Name) {
			writeError(w, http.StatusConflict, "Label name exists or conflicts")
			return
		}
	}
	label.Id = fmt.Sprintf("Label_%d", len(s.labels)+1)
	label.Type = "user"
	s.labels = append(s.labels, &label)
	writeJSON(w, &label)
}

func (s *Server) deleteLabel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	for i, l := range s.labels {
		if l.Id == id {
			s.labels = append(s.labels[:i], s.labels[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found")
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	s.Queries = append(s.Queries, q.Get("q"))
	labelIDs := q["labelIds"]
	unreadOnly := strings.Contains(q.Get("q"), "is:unread")

	var matched []*gmail.Message
	for _, m := range s.messages {
		if !hasAll(m.LabelIds, labelIDs) {
			continue
		}
		if unreadOnly && !hasAll(m.LabelIds, []string{"UNREAD"}) {
			continue
		}
		matched = append(matched, m)
	}

	start, _ := strconv.Atoi(q.Get("pageToken"))
	size := s.PageSize
	if max, err := strconv.Atoi(q.Get("maxResults")); err == nil && max < size {
		size = max
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}

	resp := &gmail.ListMessagesResponse{}
	for _, m := range matched[start:end] {
		resp.Messages = append(resp.Messages, &gmail.Message{Id: m.Id, ThreadId: m.ThreadId})
	}
	if end < len(matched) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	writeJSON(w, resp)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++

	id := r.PathValue("id")
	if status, ok := s.failGet[id]; ok {
		writeError(w, status, "injected failure")
		return
	}
	m := s.find(id)
	if m == nil {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	writeJSON(w, m)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var msg gmail.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid raw")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, raw)
	writeJSON(w, &gmail.Message{Id: fmt.Sprintf("sent-%d", len(s.Sent)), LabelIds: []string{"SENT"}})
}

func (s *Server) modify(w http.ResponseWriter, r *http.Request) {
	var req gmail.ModifyMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	m := s.find(id)
	if m == nil {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	s.Modified[id] = append(s.Modified[id], ModifyCall{Add: req.AddLabelIds, Remove: req.RemoveLabelIds})

	var labels []string
	for _, l := range m.LabelIds {
		if !contains(req.RemoveLabelIds, l) {
			labels = append(labels, l)
		}
	}
	for _, l := range req.AddLabelIds {
		if !contains(labels, l) {
			labels = append(labels, l)
		}
	}
	m.LabelIds = labels
	writeJSON(w, m)
}

func (s *Server) trash(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	m := s.find(id)
	if m == nil {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	s.Trashed = append(s.Trashed, id)
	m.LabelIds = []string{"TRASH"}
	writeJSON(w, m)
}

func (s *Server) untrash(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	m := s.find(id)
	if m == nil {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	s.Untrashed = append(s.Untrashed, id)
	var labels []string
	for _, l := range m.LabelIds {
		if l != "TRASH" {
			labels = append(labels, l)
		}
	}
	m.LabelIds = labels
	writeJSON(w, m)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	for i, m := range s.messages {
		if m.Id == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			s.Deleted = append(s.Deleted, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Requested entity was not found.")
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		if !contains(have, w) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}
