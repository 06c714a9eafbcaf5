// Package template compiles the small mustache-like schema strings used
// to format a route family's output row: a flat container of literal
// text and {{attr.field}}/{{nlri.field}}/{{peer.field}} replacements,
// plus one optional {{#loop}}...{{end}} block that repeats its body
// once per NLRI in a route event, joined by a comma.
package template

import (
	"fmt"
	"strings"
)

// NodeKind is the kind of a parsed template node.
type NodeKind int

const (
	NodeText NodeKind = iota
	NodeLoop
	NodeReplace
)

// Namespace is the replacement variable's source map.
type Namespace int

const (
	NSAttr Namespace = iota
	NSNLRI
	NSPeer
)

func (ns Namespace) String() string {
	switch ns {
	case NSAttr:
		return "attr"
	case NSNLRI:
		return "nlri"
	case NSPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Node is one element of a compiled template: literal text, a
// namespaced field replacement, or a loop over the NLRI list.
type Node struct {
	Kind     NodeKind
	Text     string
	NS       Namespace
	Field    string
	Children []Node
}

// Template is a compiled schema ready to render route rows.
type Template struct {
	root []Node
}

// Row is one NLRI's field set, addressed by a loop body's {{nlri.*}}
// replacements.
type Row map[string]string

// knownFields gates replacement field names at compile time: an
// unrecognized field is a parse error, not a silently-empty value at
// render time.
var knownFields = map[Namespace]map[string]bool{
	NSAttr: {
		"nexthop": true, "as_path": true, "origin": true, "local_pref": true,
		"med": true, "community": true, "ext_community": true, "large_community": true,
		"atomic_aggregate": true, "aggregator": true, "originator_id": true, "cluster_list": true,
	},
	NSNLRI: {
		"prefix": true, "path_id": true, "labels": true, "rd": true,
		"afi": true, "safi": true, "action": true,
	},
	NSPeer: {
		"hash": true, "ip": true, "asn": true, "router_hash": true,
		"router_ip": true, "router_group": true, "peer_group": true,
	},
}

// Parse compiles a schema string into a Template. Unknown namespaces,
// unrecognized field names, and nested {{#loop}} blocks are rejected
// here rather than deferred to render time.
func Parse(schema string) (*Template, error) {
	nodes, rest, err := parseBlock(schema, false)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("template: unexpected content after schema end: %q", rest)
	}
	return &Template{root: nodes}, nil
}

func parseBlock(s string, inLoop bool) ([]Node, string, error) {
	var nodes []Node
	var text strings.Builder

	flushText := func() {
		if text.Len() > 0 {
			nodes = append(nodes, Node{Kind: NodeText, Text: text.String()})
			text.Reset()
		}
	}
	stripTrailingNewline := func() {
		trimmed := strings.TrimSuffix(text.String(), "\n")
		text.Reset()
		text.WriteString(trimmed)
	}

	for {
		idx := strings.Index(s, "{{")
		if idx == -1 {
			text.WriteString(s)
			if inLoop {
				return nil, "", fmt.Errorf("template: unterminated {{#loop}} block")
			}
			flushText()
			return nodes, "", nil
		}
		text.WriteString(s[:idx])
		s = s[idx+2:]

		switch {
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "}}")
			if end == -1 {
				return nil, "", fmt.Errorf("template: unterminated comment")
			}
			stripTrailingNewline()
			s = s[end+2:]

		case strings.HasPrefix(s, "#loop"):
			if inLoop {
				return nil, "", fmt.Errorf("template: nested {{#loop}} is not allowed")
			}
			end := strings.Index(s, "}}")
			if end == -1 {
				return nil, "", fmt.Errorf("template: unterminated {{#loop}} tag")
			}
			s = s[end+2:]
			stripTrailingNewline()
			flushText()

			children, rest, err := parseBlock(s, true)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, Node{Kind: NodeLoop, Children: children})
			s = rest

		case strings.HasPrefix(s, "end"):
			end := strings.Index(s, "}}")
			if end == -1 {
				return nil, "", fmt.Errorf("template: unterminated {{end}} tag")
			}
			s = s[end+2:]
			if !inLoop {
				return nil, "", fmt.Errorf("template: {{end}} outside of a {{#loop}} block")
			}
			stripTrailingNewline()
			flushText()
			return nodes, s, nil

		default:
			end := strings.Index(s, "}}")
			if end == -1 {
				return nil, "", fmt.Errorf("template: unterminated replacement tag")
			}
			tag := s[:end]
			s = s[end+2:]

			ns, field, err := parseReplacement(tag)
			if err != nil {
				return nil, "", err
			}
			if ns == NSNLRI && !inLoop {
				return nil, "", fmt.Errorf("template: {{nlri.%s}} used outside a {{#loop}} block", field)
			}
			flushText()
			nodes = append(nodes, Node{Kind: NodeReplace, NS: ns, Field: field})
		}
	}
}

func parseReplacement(tag string) (Namespace, string, error) {
	dot := strings.Index(tag, ".")
	if dot == -1 {
		return 0, "", fmt.Errorf("template: replacement tag %q is missing a namespace", tag)
	}
	nsName, field := tag[:dot], tag[dot+1:]
	if field == "" {
		return 0, "", fmt.Errorf("template: replacement tag %q has an empty field name", tag)
	}

	var ns Namespace
	switch nsName {
	case "attr":
		ns = NSAttr
	case "nlri":
		ns = NSNLRI
	case "peer":
		ns = NSPeer
	default:
		return 0, "", fmt.Errorf("template: unknown replacement namespace %q", nsName)
	}
	if !knownFields[ns][field] {
		return 0, "", fmt.Errorf("template: unknown %s field %q", ns, field)
	}
	return ns, field, nil
}

// Render expands the template against one route event's attribute set,
// peer context, and NLRI rows, joining loop iterations with a comma.
func (t *Template) Render(nlriList []Row, attrs, peer Row) (string, error) {
	var buf strings.Builder
	if err := renderNodes(&buf, t.root, nlriList, attrs, peer, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderNodes(buf *strings.Builder, nodes []Node, nlriList []Row, attrs, peer, row Row) error {
	for _, n := range nodes {
		switch n.Kind {
		case NodeText:
			buf.WriteString(n.Text)
		case NodeReplace:
			m, ok := namespaceMap(n.NS, row, attrs, peer)
			if !ok {
				return fmt.Errorf("template: %s replacement rendered outside a loop", n.NS)
			}
			buf.WriteString(m[n.Field])
		case NodeLoop:
			for i, r := range nlriList {
				if i > 0 {
					buf.WriteByte(',')
				}
				if err := renderNodes(buf, n.Children, nlriList, attrs, peer, r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func namespaceMap(ns Namespace, row, attrs, peer Row) (Row, bool) {
	switch ns {
	case NSAttr:
		return attrs, true
	case NSPeer:
		return peer, true
	case NSNLRI:
		if row == nil {
			return nil, false
		}
		return row, true
	default:
		return nil, false
	}
}
