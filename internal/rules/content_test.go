package rules

import (
	"errors"
	"testing"
	"time"
)

func TestContent_Render_Static(t *testing.T) {
	t.Parallel()

	c := Content{Kind: ContentStatic, Bytes: []byte("fixed content")}
	got, err := c.Render(TemplateVars{}, nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(got) != "fixed content" {
		t.Errorf("Render() = %q, want %q", got, "fixed content")
	}
}

func TestContent_Render_Template(t *testing.T) {
	t.Parallel()

	c := Content{Kind: ContentTemplate, Template: "file ${filename} in ${parent}${extension}"}
	vars := TemplateVars{FileName: "a.txt", Parent: "/dir", Extension: ".txt"}

	got, err := c.Render(vars, nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "file a.txt in /dir.txt"
	if string(got) != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestContent_Render_TransformChain(t *testing.T) {
	t.Parallel()

	c := Content{
		Kind: ContentTransformChain,
		Chain: &TransformChain{Steps: []Transform{
			{Kind: TransformUppercase},
		}},
	}

	load := func(path string) ([]byte, error) { return []byte("loaded " + path), nil }
	got, err := c.Render(TemplateVars{Path: "/x"}, load)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(got) != "LOADED /X" {
		t.Errorf("Render() = %q, want %q", got, "LOADED /X")
	}
}

func TestContent_Render_TransformChain_LoadError(t *testing.T) {
	t.Parallel()

	c := Content{Kind: ContentTransformChain, Chain: &TransformChain{}}
	loadErr := errors.New("source unavailable")
	load := func(path string) ([]byte, error) { return nil, loadErr }

	_, err := c.Render(TemplateVars{Path: "/x"}, load)
	if err != loadErr {
		t.Errorf("Render() error = %v, want %v", err, loadErr)
	}
}

func TestContent_Render_CoWReference(t *testing.T) {
	t.Parallel()

	c := Content{Kind: ContentCoWReference, CoWSourcePath: "/source/real.txt"}
	var loadedPath string
	load := func(path string) ([]byte, error) {
		loadedPath = path
		return []byte("source bytes"), nil
	}

	got, err := c.Render(TemplateVars{Path: "/virtual.txt"}, load)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(got) != "source bytes" {
		t.Errorf("Render() = %q, want %q", got, "source bytes")
	}
	if loadedPath != "/source/real.txt" {
		t.Errorf("load() called with %q, want %q", loadedPath, "/source/real.txt")
	}
}

func TestContent_Render_UnknownKind(t *testing.T) {
	t.Parallel()

	c := Content{Kind: ContentKind(99)}
	got, err := c.Render(TemplateVars{}, nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != nil {
		t.Errorf("Render() = %v, want nil", got)
	}
}

func TestExpandTemplate_Timestamp(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1000, 0)
	got := expandTemplate("ts=${timestamp}", TemplateVars{Timestamp: ts})
	want := "ts=1000"
	if got != want {
		t.Errorf("expandTemplate() = %q, want %q", got, want)
	}
}
