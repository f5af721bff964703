// Package graph serves a live view of the include graph over HTTP and
// WebSocket. Nodes are files, links are include edges. Connected browsers
// receive the full state once and incremental updates afterwards.
package graph

import (
	"embed"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// GraphData holds the nodes and links of the include graph.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is one file in the include graph. ID is the absolute file path.
type Node struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    string `json:"kind"` // "source" or "header"
	Dirty   bool   `json:"dirty,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// Link is a directed include edge between two files.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// IncrementalMessage is sent over WebSocket to update clients.
type IncrementalMessage struct {
	Op    string     `json:"op"`              // "init", "add", "update", "deleteNode", "deleteLink"
	Graph *GraphData `json:"graph,omitempty"` // used for "init"
	Node  *Node      `json:"node,omitempty"`  // for add/update/deleteNode
	Link  *Link      `json:"link,omitempty"`  // for add/deleteLink
}

//go:embed static/*
var staticFiles embed.FS

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Server holds the graph state and its connected clients.
type Server struct {
	mu    sync.Mutex
	graph GraphData

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	listener net.Listener
}

func NewServer() *Server {
	return &Server{
		graph:   GraphData{Nodes: []Node{}, Links: []Link{}},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Serve starts the HTTP and WebSocket server on the given address
// (":0" picks any free port) and returns the URI where the graph can be
// viewed.
func (s *Server) Serve(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.listener = l

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		if err := http.Serve(l, mux); err != nil {
			log.Printf("Graph server stopped: %v", err)
		}
	}()

	return "http://" + l.Addr().String() + "/static/", nil
}

// Close stops the listener. Connected clients drop on their next write.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// SetGraph replaces the whole graph and re-initializes every client.
func (s *Server) SetGraph(data GraphData) error {
	s.mu.Lock()
	s.graph = data
	state := s.snapshotLocked()
	s.mu.Unlock()
	return s.broadcastMessage(IncrementalMessage{Op: "init", Graph: &state})
}

// AddNode adds a node and broadcasts the change.
func (s *Server) AddNode(node Node) error {
	s.mu.Lock()
	s.graph.Nodes = append(s.graph.Nodes, node)
	s.mu.Unlock()
	return s.broadcastMessage(IncrementalMessage{Op: "add", Node: &node})
}

// UpdateNode updates an existing node (matched by ID) and broadcasts.
func (s *Server) UpdateNode(node Node) error {
	s.mu.Lock()
	for i, n := range s.graph.Nodes {
		if n.ID == node.ID {
			s.graph.Nodes[i] = node
			break
		}
	}
	s.mu.Unlock()
	return s.broadcastMessage(IncrementalMessage{Op: "update", Node: &node})
}

// DeleteNode removes a node and its links by ID and broadcasts.
func (s *Server) DeleteNode(nodeID string) error {
	s.mu.Lock()
	nodes := make([]Node, 0, len(s.graph.Nodes))
	for _, n := range s.graph.Nodes {
		if n.ID != nodeID {
			nodes = append(nodes, n)
		}
	}
	s.graph.Nodes = nodes

	links := make([]Link, 0, len(s.graph.Links))
	for _, l := range s.graph.Links {
		if l.Source != nodeID && l.Target != nodeID {
			links = append(links, l)
		}
	}
	s.graph.Links = links
	s.mu.Unlock()
	return s.broadcastMessage(IncrementalMessage{Op: "deleteNode", Node: &Node{ID: nodeID}})
}

// AddLink adds an include edge and broadcasts.
func (s *Server) AddLink(link Link) error {
	s.mu.Lock()
	s.graph.Links = append(s.graph.Links, link)
	s.mu.Unlock()
	return s.broadcastMessage(IncrementalMessage{Op: "add", Link: &link})
}

// DeleteLink removes an include edge (exact match) and broadcasts.
func (s *Server) DeleteLink(link Link) error {
	s.mu.Lock()
	links := make([]Link, 0, len(s.graph.Links))
	for _, l := range s.graph.Links {
		if !(l.Source == link.Source && l.Target == link.Target) {
			links = append(links, l)
		}
	}
	s.graph.Links = links
	s.mu.Unlock()
	return s.broadcastMessage(IncrementalMessage{Op: "deleteLink", Link: &link})
}

// Graph returns a snapshot of the current graph.
func (s *Server) Graph() GraphData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Server) snapshotLocked() GraphData {
	return GraphData{
		Nodes: append([]Node{}, s.graph.Nodes...),
		Links: append([]Link{}, s.graph.Links...),
	}
}

// broadcastMessage marshals and sends a message to all clients.
func (s *Server) broadcastMessage(msg IncrementalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("Broadcast error: %v", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
	return nil
}

// handleWS upgrades HTTP connections and sends the initial graph state.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade error: %v", err)
		return
	}
	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	state := s.Graph()
	initMsg := IncrementalMessage{Op: "init", Graph: &state}
	if data, err := json.Marshal(initMsg); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	} else {
		log.Printf("Init marshal error: %v", err)
	}

	// keep connection open
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
}
