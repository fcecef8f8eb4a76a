package federation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseFQID(t *testing.T) {
	id := uuid.New()
	fqid := "https://alpha.example/api/entries/" + id.String()

	ref, err := ParseFQID(fqid)
	if err != nil {
		t.Fatalf("Failed to parse fqid: %v", err)
	}
	if ref.Kind != KindEntry {
		t.Errorf("Expected entry kind, got %s", ref.Kind)
	}
	if ref.BaseURL != "https://alpha.example" {
		t.Errorf("Expected base url https://alpha.example, got %s", ref.BaseURL)
	}
	if ref.LocalId != id {
		t.Errorf("Expected local id %s, got %s", id, ref.LocalId)
	}
	if ref.String() != fqid {
		t.Errorf("Expected round trip %s, got %s", fqid, ref.String())
	}
}

func TestParseFQIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not a url",
		"ftp://alpha.example/api/entries/" + uuid.NewString(),
		"https://alpha.example/entries/" + uuid.NewString(),
		"https://alpha.example/api/widgets/" + uuid.NewString(),
		"https://alpha.example/api/entries/not-a-uuid",
		"https://alpha.example/api/entries",
		"/api/entries/" + uuid.NewString(),
	}
	for _, fqid := range cases {
		if _, err := ParseFQID(fqid); err == nil {
			t.Errorf("Expected %q to be rejected", fqid)
		} else if !errors.Is(err, ErrBadRequest) {
			t.Errorf("Expected ErrBadRequest for %q, got %v", fqid, err)
		}
	}
}

func TestMinter(t *testing.T) {
	m := NewMinter("https://alpha.example/")

	if m.BaseURL() != "https://alpha.example" {
		t.Errorf("Expected normalized base url, got %s", m.BaseURL())
	}

	id := uuid.New()
	fqid := m.CommentFQID(id)
	ref, err := ParseFQID(fqid)
	if err != nil {
		t.Fatalf("Minted fqid does not parse: %v", err)
	}
	if ref.Kind != KindComment || ref.LocalId != id {
		t.Errorf("Minted fqid decomposed wrong: %+v", ref)
	}

	if !m.IsLocal(fqid) {
		t.Error("Expected minted fqid to be local")
	}
	if m.IsLocal("https://beta.example/api/comments/" + id.String()) {
		t.Error("Expected foreign fqid to not be local")
	}
	// Host prefix collisions must not count as local
	if m.IsLocal("https://alpha.example.evil/api/comments/" + id.String()) {
		t.Error("Expected lookalike host to not be local")
	}
}

func TestResolverLocalLookup(t *testing.T) {
	eng, database := setupEngine(t)
	author := createLocalAuthor(t, eng, database, "frida")

	entity, err := eng.Resolver.Resolve(author.FQID)
	if err != nil {
		t.Fatalf("Failed to resolve local author: %v", err)
	}
	if entity.Kind != KindAuthor || entity.Author == nil {
		t.Fatalf("Expected author entity, got %+v", entity)
	}
	if entity.Author.FQID != author.FQID {
		t.Errorf("Expected %s, got %s", author.FQID, entity.Author.FQID)
	}
}

func TestResolverUnknownLocalIsNotFound(t *testing.T) {
	eng, _ := setupEngine(t)

	_, err := eng.Resolver.Resolve(eng.Minter.EntryFQID(uuid.New()))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestResolverNeverFetchesComments(t *testing.T) {
	eng, _ := setupEngine(t)
	registerNode(t, eng, "beta", "https://beta.example")

	// Comments travel only by inbox push, so an unknown one is a dead end
	_, err := eng.Resolver.Resolve("https://beta.example/api/comments/" + uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
