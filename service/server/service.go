package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type (
	// Service is the relay: it fans sync/presence traffic out per page room,
	// keeps an authoritative per-board record store (serving the page/shape
	// REST endpoints), and announces page lifecycle changes board-wide.
	Service struct {
		mu sync.Mutex
		// State
		hub        *Hub
		boards     map[string]*storage.Store
		pageBoards map[string]string // pageId -> boardId
	}
)

// NewService creates a new empty Service object.
func NewService() *Service {
	return &Service{
		hub:        NewHub(),
		boards:     make(map[string]*storage.Store),
		pageBoards: make(map[string]string),
	}
}

// LoadSeed preloads one board from a generated seed file.
func (s *Service) LoadSeed(filePath string) error {
	seed, err := storage.LoadBoardSeed(filePath)
	if err != nil {
		return fmt.Errorf("storage.LoadBoardSeed: %w", err)
	}

	st := storage.NewStoreFromSeed(seed)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.boards[seed.BoardId] = st
	for _, page := range st.Pages() {
		s.pageBoards[model.PageIdOfRecord(page)] = seed.BoardId
	}

	log.Printf("Service: board %s seeded: %d pages", seed.BoardId, len(st.Pages()))

	return nil
}

// Start starts the service workers.
func (s *Service) Start() {
	monitor.Start()
}

// Stop stops the service workers.
func (s *Service) Stop() {
	monitor.Stop()
}

// Router builds the HTTP routing: the websocket upgrade plus the page
// directory REST endpoints.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{boardId}/{pageId}", s.handleWs)
	r.HandleFunc("/boards/{boardId}/pages", s.handleListPages).Methods(http.MethodGet)
	r.HandleFunc("/boards/{boardId}/pages", s.handleCreatePage).Methods(http.MethodPost)
	r.HandleFunc("/pages/{pageId}", s.handleRenamePage).Methods(http.MethodPut)
	r.HandleFunc("/pages/{pageId}", s.handleDeletePage).Methods(http.MethodDelete)
	r.HandleFunc("/pages/{pageId}/shapes", s.handlePageShapes).Methods(http.MethodGet)

	return r
}

// boardStore returns the record store of a board, creating it lazily.
func (s *Service) boardStore(boardId string) *storage.Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, found := s.boards[boardId]
	if !found {
		st = storage.NewStore()
		s.boards[boardId] = st
	}

	return st
}

// boardOfPage resolves the owning board of a page ("" if unknown).
func (s *Service) boardOfPage(pageId string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pageBoards[pageId]
}

// handleWs upgrades a participant connection and attaches it to its room.
func (s *Service) handleWs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := roomKey{boardId: vars["boardId"], pageId: vars["pageId"]}

	drawerId := r.URL.Query().Get("drawerId")
	if drawerId == "" {
		drawerId = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Service: upgrade: %v", err)
		return
	}

	c := &hubClient{
		drawerId:    drawerId,
		room:        key,
		conn:        conn,
		sendCh:      make(chan []byte, 256),
		reassembler: model.NewReassembler(),
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump(s.hub, s)
}

// handleInbound relays one participant chunk: sync batches also update the
// authoritative board store, pings are absorbed, everything else fans out to
// the room as-is.
func (s *Service) handleInbound(c *hubClient, data []byte) {
	for _, msg := range c.reassembler.Feed(data) {
		switch m := msg.(type) {
		case model.PingMessage:
			continue
		case model.SyncMessage:
			start := time.Now()
			storage.ApplyRemoteChanges(s.boardStore(c.room.boardId), m.Payload)
			monitor.SyncApplied(m.Payload.Size(), time.Since(start))
		}

		raw, err := model.EncodeMessage(msg)
		if err != nil {
			log.Printf("Service: encode %s: %v", msg.Kind(), err)
			continue
		}
		s.hub.broadcast(c.room, c, raw)
		monitor.MessageRelayed()
	}
}

// handleListPages serves the ordered page listing of a board.
func (s *Service) handleListPages(w http.ResponseWriter, r *http.Request) {
	boardId := mux.Vars(r)["boardId"]

	st := s.boardStore(boardId)
	pages := make([]model.PageInfo, 0)
	for _, rec := range st.Pages() {
		pages = append(pages, pageInfoOfRecord(rec))
	}

	writeJSON(w, http.StatusOK, pages)
}

// handleCreatePage creates a page, announces it board-wide and returns it.
func (s *Service) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	boardId := mux.Vars(r)["boardId"]

	req := struct {
		PageTitle string `json:"pageTitle"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("body: %v", err), http.StatusBadRequest)
		return
	}
	if req.PageTitle == "" {
		http.Error(w, "pageTitle: empty", http.StatusBadRequest)
		return
	}

	st := s.boardStore(boardId)
	pageId := uuid.New().String()
	st.Put(storage.SourceLocal, model.NewPageRecord(pageId, req.PageTitle, st.NextPageIndex()))

	s.mu.Lock()
	s.pageBoards[pageId] = boardId
	s.mu.Unlock()

	page := model.PageInfo{PageId: pageId, PageTitle: req.PageTitle}
	s.announcePage(boardId, model.NewPageMessageType, page)

	writeJSON(w, http.StatusCreated, page)
}

// handleRenamePage renames a page and announces it board-wide.
func (s *Service) handleRenamePage(w http.ResponseWriter, r *http.Request) {
	pageId := mux.Vars(r)["pageId"]

	boardId := s.boardOfPage(pageId)
	if boardId == "" {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	req := struct {
		PageTitle string `json:"pageTitle"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("body: %v", err), http.StatusBadRequest)
		return
	}
	if req.PageTitle == "" {
		http.Error(w, "pageTitle: empty", http.StatusBadRequest)
		return
	}

	st := s.boardStore(boardId)
	rec, found := st.Get(model.PageRecordId(pageId))
	if !found {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	renamed := rec.Clone()
	renamed["name"] = req.PageTitle
	st.Put(storage.SourceLocal, renamed)

	s.announcePage(boardId, model.UpdatePageMessageType, model.PageInfo{PageId: pageId, PageTitle: req.PageTitle})

	w.WriteHeader(http.StatusNoContent)
}

// handleDeletePage removes a page with its shapes and announces it board-wide.
func (s *Service) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	pageId := mux.Vars(r)["pageId"]

	boardId := s.boardOfPage(pageId)
	if boardId == "" {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	st := s.boardStore(boardId)
	pageRecId := model.PageRecordId(pageId)
	shapes := st.PageShapes(pageRecId)
	st.Transact(storage.SourceLocal, func(tx *storage.Tx) {
		tx.Remove(pageRecId)
		for _, shape := range shapes {
			tx.Remove(shape.Id())
		}
	})

	s.mu.Lock()
	delete(s.pageBoards, pageId)
	s.mu.Unlock()

	s.announcePage(boardId, model.DeletePageMessageType, model.PageInfo{PageId: pageId})

	w.WriteHeader(http.StatusNoContent)
}

// handlePageShapes serves the persisted shape records of a page.
func (s *Service) handlePageShapes(w http.ResponseWriter, r *http.Request) {
	pageId := mux.Vars(r)["pageId"]

	boardId := s.boardOfPage(pageId)
	if boardId == "" {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	shapes := s.boardStore(boardId).PageShapes(model.PageRecordId(pageId))
	if shapes == nil {
		shapes = []model.Record{}
	}

	writeJSON(w, http.StatusOK, shapes)
}

// announcePage fans a page lifecycle message out to every board participant.
func (s *Service) announcePage(boardId string, kind model.MessageType, page model.PageInfo) {
	msg, err := model.NewPageLifecycleMessage(kind, page)
	if err != nil {
		log.Printf("Service: %v", err)
		return
	}
	raw, err := model.EncodeMessage(msg)
	if err != nil {
		log.Printf("Service: encode %s: %v", kind, err)
		return
	}

	s.hub.BroadcastBoard(boardId, raw)
}

// pageInfoOfRecord converts a page record to its directory form.
func pageInfoOfRecord(rec model.Record) model.PageInfo {
	name, _ := rec["name"].(string)
	return model.PageInfo{
		PageId:    model.PageIdOfRecord(rec),
		PageTitle: name,
	}
}

// writeJSON serializes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Service: response encode: %v", err)
	}
}
