package export

import (
	"encoding/xml"
	"io"
	"strconv"

	"kimpact/internal/callgraph"
)

// GraphML output structure. The key declarations let viewers like Gephi
// and yEd surface node attributes without configuration.

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	Xmlns   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func (e *Exporter) writeGraphML(w io.Writer, snap *callgraph.Snapshot) error {
	doc := graphmlDoc{
		Xmlns: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphmlKey{
			{ID: "name", For: "node", Name: "name", Type: "string"},
			{ID: "file", For: "node", Name: "file", Type: "string"},
			{ID: "line", For: "node", Name: "line", Type: "int"},
			{ID: "static", For: "node", Name: "static", Type: "boolean"},
			{ID: "sites", For: "edge", Name: "sites", Type: "int"},
		},
		Graph: graphmlGraph{
			ID:          snap.Subsystem,
			EdgeDefault: "directed",
		},
	}

	for _, id := range snap.SortedNodeIDs() {
		node := snap.Nodes[id]
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{
			ID: node.ID,
			Data: []graphmlData{
				{Key: "name", Value: node.Name},
				{Key: "file", Value: node.File},
				{Key: "line", Value: strconv.Itoa(node.StartLine)},
				{Key: "static", Value: strconv.FormatBool(node.IsStatic)},
			},
		})
	}

	for _, edge := range snap.Edges {
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			Source: edge.CallerID,
			Target: edge.CalleeID,
			Data: []graphmlData{
				{Key: "sites", Value: strconv.Itoa(len(edge.Sites))},
			},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	// Encode does not emit a trailing newline
	_, err := io.WriteString(w, "\n")
	return err
}
