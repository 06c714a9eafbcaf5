package template

import "testing"

func TestParseAndRenderContainerOnly(t *testing.T) {
	tmpl, err := Parse("peer={{peer.ip}} nexthop={{attr.nexthop}}\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := tmpl.Render(nil, Row{"nexthop": "10.0.0.1"}, Row{"ip": "192.0.2.1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "peer=192.0.2.1 nexthop=10.0.0.1\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestParseAndRenderLoop(t *testing.T) {
	schema := "prefixes=[{{#loop}}{{nlri.prefix}}{{end}}] nexthop={{attr.nexthop}}"
	tmpl, err := Parse(schema)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rows := []Row{{"prefix": "10.0.0.0/24"}, {"prefix": "10.0.1.0/24"}}
	out, err := tmpl.Render(rows, Row{"nexthop": "192.0.2.1"}, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "prefixes=[10.0.0.0/24,10.0.1.0/24] nexthop=192.0.2.1"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestCommentStrippedWithPrecedingNewline(t *testing.T) {
	schema := "line one\n{{/* drop this note */}}line two"
	tmpl, err := Parse(schema)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := tmpl.Render(nil, nil, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "line oneline two" {
		t.Errorf("got %q", out)
	}
}

func TestNestedLoopIsParseError(t *testing.T) {
	_, err := Parse("{{#loop}}{{#loop}}{{end}}{{end}}")
	if err == nil {
		t.Fatal("expected error for nested loop")
	}
}

func TestNLRIReplaceOutsideLoopIsParseError(t *testing.T) {
	_, err := Parse("{{nlri.prefix}}")
	if err == nil {
		t.Fatal("expected error for nlri replacement outside a loop")
	}
}

func TestUnknownNamespaceIsParseError(t *testing.T) {
	_, err := Parse("{{bogus.field}}")
	if err == nil {
		t.Fatal("expected error for unknown namespace")
	}
}

func TestUnknownFieldIsParseError(t *testing.T) {
	_, err := Parse("{{attr.not_a_real_field}}")
	if err == nil {
		t.Fatal("expected error for unknown attr field")
	}
}

func TestUnterminatedLoopIsParseError(t *testing.T) {
	_, err := Parse("{{#loop}}{{nlri.prefix}}")
	if err == nil {
		t.Fatal("expected error for unterminated loop")
	}
}

func TestEndOutsideLoopIsParseError(t *testing.T) {
	_, err := Parse("plain text {{end}}")
	if err == nil {
		t.Fatal("expected error for stray {{end}}")
	}
}
