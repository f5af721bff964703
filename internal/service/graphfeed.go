package service

import (
	"path/filepath"
	"sync"

	"tuck/internal/document"
	"tuck/internal/graph"
)

// graphFeed mirrors document dependency sets into the live graph page.
// It tracks state even while no page is open, so the first viewer gets the
// full picture. Edges and nodes are reference-counted: several documents
// (the same file under different parts) may claim the same edge.
type graphFeed struct {
	mu     sync.Mutex
	server *graph.Server
	url    string

	docEdges  map[string]map[graph.Link]struct{}
	docSource map[string]string
	edgeRefs  map[graph.Link]int
	nodeRefs  map[string]int
	nodes     map[string]graph.Node
}

func newGraphFeed() *graphFeed {
	return &graphFeed{
		docEdges:  make(map[string]map[graph.Link]struct{}),
		docSource: make(map[string]string),
		edgeRefs:  make(map[graph.Link]int),
		nodeRefs:  make(map[string]int),
		nodes:     make(map[string]graph.Node),
	}
}

// serve starts the page on first use and returns its address.
func (f *graphFeed) serve() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.url != "" {
		return f.url, nil
	}

	server := graph.NewServer()
	server.SetGraph(f.snapshotLocked())
	url, err := server.Serve("127.0.0.1:0")
	if err != nil {
		return "", err
	}
	f.server = server
	f.url = url
	return url, nil
}

func (f *graphFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		f.server.Close()
		f.server = nil
		f.url = ""
	}
}

// update reconciles one document's dependency set into the graph.
func (f *graphFeed) update(doc document.Document, deps []string) {
	key := documentKey(doc)
	filePath := doc.FilePath()

	newEdges := make(map[graph.Link]struct{}, len(deps))
	for _, dep := range deps {
		if dep == filePath {
			continue
		}
		newEdges[graph.Link{Source: filePath, Target: dep}] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, known := f.docSource[key]; !known {
		f.docSource[key] = filePath
		f.nodeRefs[filePath]++
	}
	f.upsertNodeLocked(graph.Node{
		ID:      filePath,
		Label:   filepath.Base(filePath),
		Kind:    "source",
		Dirty:   doc.IsNeedingReparse(),
		Missing: !doc.IsIntact(),
	})

	oldEdges := f.docEdges[key]
	for edge := range newEdges {
		if _, ok := oldEdges[edge]; ok {
			continue
		}
		f.addEdgeLocked(edge)
	}
	for edge := range oldEdges {
		if _, ok := newEdges[edge]; ok {
			continue
		}
		f.dropEdgeLocked(edge)
	}
	f.docEdges[key] = newEdges
}

// remove takes a document's contribution out of the graph.
func (f *graphFeed) remove(doc document.Document) {
	key := documentKey(doc)

	f.mu.Lock()
	defer f.mu.Unlock()

	for edge := range f.docEdges[key] {
		f.dropEdgeLocked(edge)
	}
	delete(f.docEdges, key)

	if filePath, ok := f.docSource[key]; ok {
		delete(f.docSource, key)
		f.nodeRefs[filePath]--
		f.dropNodeIfUnusedLocked(filePath)
	}
}

func (f *graphFeed) addEdgeLocked(edge graph.Link) {
	f.edgeRefs[edge]++
	if f.edgeRefs[edge] > 1 {
		return
	}
	f.nodeRefs[edge.Source]++
	f.nodeRefs[edge.Target]++
	f.upsertNodeLocked(graph.Node{
		ID:    edge.Target,
		Label: filepath.Base(edge.Target),
		Kind:  "header",
	})
	if f.server != nil {
		f.server.AddLink(edge)
	}
}

func (f *graphFeed) dropEdgeLocked(edge graph.Link) {
	f.edgeRefs[edge]--
	if f.edgeRefs[edge] > 0 {
		return
	}
	delete(f.edgeRefs, edge)
	if f.server != nil {
		f.server.DeleteLink(edge)
	}
	f.nodeRefs[edge.Source]--
	f.nodeRefs[edge.Target]--
	f.dropNodeIfUnusedLocked(edge.Source)
	f.dropNodeIfUnusedLocked(edge.Target)
}

// upsertNodeLocked inserts or refreshes a node. A header claim only ever
// adds a missing node; it never overwrites the state of an existing one,
// and a node once marked as a source keeps that kind.
func (f *graphFeed) upsertNodeLocked(node graph.Node) {
	existing, ok := f.nodes[node.ID]
	if !ok {
		f.nodes[node.ID] = node
		if f.server != nil {
			f.server.AddNode(node)
		}
		return
	}
	if node.Kind == "header" || node == existing {
		return
	}
	f.nodes[node.ID] = node
	if f.server != nil {
		f.server.UpdateNode(node)
	}
}

func (f *graphFeed) dropNodeIfUnusedLocked(path string) {
	if f.nodeRefs[path] > 0 {
		return
	}
	delete(f.nodeRefs, path)
	if _, ok := f.nodes[path]; !ok {
		return
	}
	delete(f.nodes, path)
	if f.server != nil {
		f.server.DeleteNode(path)
	}
}

func (f *graphFeed) snapshotLocked() graph.GraphData {
	data := graph.GraphData{Nodes: []graph.Node{}, Links: []graph.Link{}}
	for _, node := range f.nodes {
		data.Nodes = append(data.Nodes, node)
	}
	for edge := range f.edgeRefs {
		data.Links = append(data.Links, edge)
	}
	return data
}
