package chara_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chara-go/internal/card"
	"chara-go/internal/chara"
	"chara-go/internal/database"
	charafs "chara-go/internal/fs"
	"chara-go/internal/imaging"
	"chara-go/internal/pngmeta"
	"chara-go/internal/testutil"
	"chara-go/internal/vault"
)

type testEnv struct {
	svc   *chara.CardService
	db    *database.SQLiteDatabase
	fsmgr *testutil.MockFilesystemManager
	vault *vault.MemoryVault
	clock *testutil.StubClock
}

func newEnv(t *testing.T, encryptor chara.Encryptor, opts chara.Options) *testEnv {
	t.Helper()
	clock := testutil.FixedClock()
	env := &testEnv{
		db:    testutil.NewTestDatabase(t, clock),
		fsmgr: testutil.NewMockFilesystemManager(),
		vault: testutil.NewTestVault(),
		clock: clock,
	}
	env.svc = chara.NewCardService(env.db, env.vault, env.fsmgr, encryptor, chara.NewNopLogger(), clock, testutil.NewStubIDGenerator(), opts)
	return env
}

func newPlainEnv(t *testing.T) *testEnv {
	return newEnv(t, testutil.NewPlainEncryptor(), chara.Options{})
}

func (e *testEnv) resolve(t *testing.T, path string) *chara.Path {
	t.Helper()
	p, err := e.fsmgr.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", path, err)
	}
	return p
}

func (e *testEnv) open(t *testing.T, path string) *chara.Document {
	t.Helper()
	doc, err := e.svc.Open(e.resolve(t, path))
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	return doc
}

// readCard decodes the card stored in the mock file at path.
func (e *testEnv) readCard(t *testing.T, path string) *card.Card {
	t.Helper()
	c, err := pngmeta.ReadCard(e.fsmgr.Content(path))
	if err != nil {
		t.Fatalf("ReadCard(%s) error = %v", path, err)
	}
	return c
}

func TestCardService_Open(t *testing.T) {
	t.Run("reads embedded card", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/cards/aria.png", testutil.CardPNG(t, card.NewNamed("Aria")))

		doc := env.open(t, "/cards/aria.png")
		if doc.Card.Data.Name != "Aria" {
			t.Errorf("Name = %q, want Aria", doc.Card.Data.Name)
		}
		if !doc.HadMetadata {
			t.Error("HadMetadata = false, want true")
		}
		if doc.Path != "/cards/aria.png" {
			t.Errorf("Path = %q", doc.Path)
		}
	})

	t.Run("image without metadata opens as default card", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/cards/blank.png", testutil.BlankPNG(t, 2))

		doc := env.open(t, "/cards/blank.png")
		if doc.HadMetadata {
			t.Error("HadMetadata = true, want false")
		}
		if doc.Card.Data.Name != "" {
			t.Errorf("Name = %q, want empty", doc.Card.Data.Name)
		}
	})

	t.Run("rejects directory", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddDirectory("/cards")

		if _, err := env.svc.Open(env.resolve(t, "/cards")); err == nil {
			t.Error("Open() expected error for directory")
		}
	})

	t.Run("rejects non-PNG", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/cards/notes.png", []byte("plain text"))

		_, err := env.svc.Open(env.resolve(t, "/cards/notes.png"))
		if !errors.Is(err, pngmeta.ErrInvalidImage) {
			t.Errorf("Open() error = %v, want ErrInvalidImage", err)
		}
	})
}

func TestCardService_Save(t *testing.T) {
	t.Run("writes card and snapshots previous file", func(t *testing.T) {
		env := newPlainEnv(t)
		original := testutil.CardPNG(t, card.NewNamed("Aria"))
		env.fsmgr.AddFile("/cards/aria.png", original)

		doc := env.open(t, "/cards/aria.png")
		doc.Card.Data.Description = "A wandering bard."
		doc.Card.Data.Tags = []string{"fantasy"}
		if err := env.svc.Save(doc); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		if got := env.readCard(t, "/cards/aria.png").Data.Description; got != "A wandering bard." {
			t.Errorf("saved Description = %q", got)
		}

		snaps, err := env.svc.Snapshots("/cards/aria.png")
		if err != nil {
			t.Fatalf("Snapshots() error = %v", err)
		}
		if len(snaps) != 1 {
			t.Fatalf("got %d snapshots, want 1", len(snaps))
		}
		if snaps[0].Checksum != testutil.SHA256Hex(original) {
			t.Errorf("snapshot checksum = %s, want checksum of original file", snaps[0].Checksum)
		}
		if snaps[0].Encrypted {
			t.Error("snapshot marked encrypted with encryption disabled")
		}
		if has, _ := env.vault.HasContent(snaps[0].Checksum); !has {
			t.Error("snapshot content missing from vault")
		}

		row, err := env.db.FindLibraryCard("/cards/aria.png")
		if err != nil {
			t.Fatalf("FindLibraryCard() error = %v", err)
		}
		if row == nil {
			t.Fatal("saved card not indexed")
		}
		if row.Name != "Aria" || row.Tokens != env.svc.EstimateTokens(doc) {
			t.Errorf("row = %+v", row)
		}
		if diff := cmp.Diff([]string{"fantasy"}, row.Tags); diff != "" {
			t.Errorf("row.Tags mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unchanged file is not snapshotted twice", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/cards/aria.png", testutil.CardPNG(t, card.NewNamed("Aria")))
		doc := env.open(t, "/cards/aria.png")
		doc.Card.Data.Personality = "curious"

		for i := 0; i < 3; i++ {
			env.clock.Advance(time.Second)
			if err := env.svc.Save(doc); err != nil {
				t.Fatalf("Save() #%d error = %v", i+1, err)
			}
		}

		snaps, err := env.svc.Snapshots("/cards/aria.png")
		if err != nil {
			t.Fatalf("Snapshots() error = %v", err)
		}
		// The original, then the first save's output; later saves produce
		// the same bytes.
		if len(snaps) != 2 {
			t.Errorf("got %d snapshots, want 2", len(snaps))
		}
		if len(snaps) == 2 && !snaps[0].TakenAt.After(snaps[1].TakenAt) {
			t.Errorf("snapshots not newest first: %v, %v", snaps[0].TakenAt, snaps[1].TakenAt)
		}
	})

	t.Run("identical files share vault content", func(t *testing.T) {
		env := newPlainEnv(t)
		data := testutil.CardPNG(t, card.NewNamed("Twin"))
		env.fsmgr.AddFile("/cards/a.png", data)
		env.fsmgr.AddFile("/cards/b.png", data)

		for _, p := range []string{"/cards/a.png", "/cards/b.png"} {
			doc := env.open(t, p)
			doc.Card.Data.Name = "Renamed"
			if err := env.svc.Save(doc); err != nil {
				t.Fatalf("Save(%s) error = %v", p, err)
			}
		}

		if n := env.vault.ContentCount(); n != 1 {
			t.Errorf("vault holds %d items, want 1", n)
		}
		for _, p := range []string{"/cards/a.png", "/cards/b.png"} {
			if snaps, _ := env.svc.Snapshots(p); len(snaps) != 1 {
				t.Errorf("%s has %d snapshots, want 1", p, len(snaps))
			}
		}
	})

	t.Run("virtual card", func(t *testing.T) {
		env := newPlainEnv(t)
		err := env.svc.Save(env.svc.NewCard("Nova"))
		if !errors.Is(err, chara.ErrNotAttached) {
			t.Errorf("Save() error = %v, want ErrNotAttached", err)
		}
	})

	t.Run("locked card", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/cards/aria.png", testutil.CardPNG(t, card.NewNamed("Aria")))
		doc := env.open(t, "/cards/aria.png")

		unlock, err := env.fsmgr.Lock("/cards/aria.png")
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}
		defer unlock()

		if err := env.svc.Save(doc); !errors.Is(err, charafs.ErrLocked) {
			t.Errorf("Save() error = %v, want ErrLocked", err)
		}
	})

	t.Run("releases lock", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/cards/aria.png", testutil.CardPNG(t, card.NewNamed("Aria")))
		doc := env.open(t, "/cards/aria.png")

		if err := env.svc.Save(doc); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if env.fsmgr.IsLocked("/cards/aria.png") {
			t.Error("card still locked after Save()")
		}
	})
}

func TestCardService_Update(t *testing.T) {
	env := newPlainEnv(t)
	env.fsmgr.AddFile("/cards/aria.png", testutil.CardPNG(t, card.NewNamed("Aria")))
	path := env.resolve(t, "/cards/aria.png")

	_, err := env.svc.Update(path, func(c *card.Card) error {
		c.Data.Scenario = "A tavern at dusk."
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := env.readCard(t, "/cards/aria.png").Data.Scenario; got != "A tavern at dusk." {
		t.Errorf("Scenario = %q", got)
	}

	errAbort := errors.New("abort")
	before := env.fsmgr.Content("/cards/aria.png")
	_, err = env.svc.Update(path, func(c *card.Card) error {
		c.Data.Scenario = "discarded"
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Errorf("Update() error = %v, want errAbort", err)
	}
	if !bytes.Equal(before, env.fsmgr.Content("/cards/aria.png")) {
		t.Error("file changed although the edit failed")
	}
}

func TestCardService_SaveToImage(t *testing.T) {
	t.Run("attaches virtual card to PNG", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/images/portrait.png", testutil.BlankPNG(t, 3))
		doc := env.svc.NewCard("Nova")

		if err := env.svc.SaveToImage(doc, env.resolve(t, "/images/portrait.png"), "/cards/nova.png"); err != nil {
			t.Fatalf("SaveToImage() error = %v", err)
		}
		if doc.Path != "/cards/nova.png" || !doc.HadMetadata {
			t.Errorf("doc = %+v", doc)
		}
		if got := env.readCard(t, "/cards/nova.png").Data.Name; got != "Nova" {
			t.Errorf("Name = %q, want Nova", got)
		}
		if _, found, _ := pngmeta.LookupCard(env.fsmgr.Content("/images/portrait.png")); found {
			t.Error("source image was modified")
		}
		if snaps, _ := env.svc.Snapshots("/cards/nova.png"); len(snaps) != 0 {
			t.Errorf("got %d snapshots for a new file, want 0", len(snaps))
		}
	})

	t.Run("converts and scales JPEG", func(t *testing.T) {
		env := newEnv(t, testutil.NewPlainEncryptor(), chara.Options{MaxImageDimension: 4})
		var jpg bytes.Buffer
		if err := jpeg.Encode(&jpg, imaging.Blank(16, 8, color.Black), nil); err != nil {
			t.Fatalf("jpeg.Encode() error = %v", err)
		}
		env.fsmgr.AddFile("/images/photo.jpg", jpg.Bytes())
		doc := env.svc.NewCard("Nova")

		if err := env.svc.SaveToImage(doc, env.resolve(t, "/images/photo.jpg"), "/cards/nova.png"); err != nil {
			t.Fatalf("SaveToImage() error = %v", err)
		}
		out := env.fsmgr.Content("/cards/nova.png")
		cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("DecodeConfig() error = %v", err)
		}
		if format != "png" || cfg.Width != 4 || cfg.Height != 2 {
			t.Errorf("output = %s %dx%d, want png 4x2", format, cfg.Width, cfg.Height)
		}
	})

	t.Run("snapshots replaced file", func(t *testing.T) {
		env := newPlainEnv(t)
		existing := testutil.CardPNG(t, card.NewNamed("Old"))
		env.fsmgr.AddFile("/cards/nova.png", existing)
		env.fsmgr.AddFile("/images/portrait.png", testutil.BlankPNG(t, 3))

		doc := env.svc.NewCard("Nova")
		if err := env.svc.SaveToImage(doc, env.resolve(t, "/images/portrait.png"), "/cards/nova.png"); err != nil {
			t.Fatalf("SaveToImage() error = %v", err)
		}
		snaps, _ := env.svc.Snapshots("/cards/nova.png")
		if len(snaps) != 1 || snaps[0].Checksum != testutil.SHA256Hex(existing) {
			t.Errorf("snapshots = %+v, want the replaced file", snaps)
		}
	})

	t.Run("rejects unreadable image", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/images/broken.png", []byte("not an image"))

		doc := env.svc.NewCard("Nova")
		if err := env.svc.SaveToImage(doc, env.resolve(t, "/images/broken.png"), "/cards/nova.png"); err == nil {
			t.Fatal("SaveToImage() expected error")
		}
		if env.fsmgr.Exists("/cards/nova.png") {
			t.Error("destination written for unreadable image")
		}
		if doc.Path != "" {
			t.Errorf("Path = %q, want empty", doc.Path)
		}
	})
}

func TestCardService_ChangeImage(t *testing.T) {
	setup := func(t *testing.T) (*testEnv, *chara.Document) {
		t.Helper()
		env := newPlainEnv(t)
		c := card.NewNamed("Aria")
		c.Data.FirstMes = "Hello there."
		env.fsmgr.AddFile("/cards/aria.png", testutil.CardPNG(t, c))
		env.fsmgr.AddFile("/images/new.png", testutil.BlankPNG(t, 5))
		return env, env.open(t, "/cards/aria.png")
	}

	t.Run("swaps pixels and keeps card", func(t *testing.T) {
		env, doc := setup(t)

		if err := env.svc.ChangeImage(doc, env.resolve(t, "/images/new.png")); err != nil {
			t.Fatalf("ChangeImage() error = %v", err)
		}
		out := env.fsmgr.Content("/cards/aria.png")
		cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("DecodeConfig() error = %v", err)
		}
		if cfg.Width != 5 {
			t.Errorf("width = %d, want 5", cfg.Width)
		}
		if got := env.readCard(t, "/cards/aria.png").Data.FirstMes; got != "Hello there." {
			t.Errorf("FirstMes = %q", got)
		}
		if env.fsmgr.Exists("/cards/aria.png.bak") {
			t.Error("backup left behind")
		}
		if snaps, _ := env.svc.Snapshots("/cards/aria.png"); len(snaps) != 1 {
			t.Errorf("got %d snapshots, want 1", len(snaps))
		}
	})

	t.Run("restores original when write fails", func(t *testing.T) {
		env, doc := setup(t)
		before := env.fsmgr.Content("/cards/aria.png")
		errDisk := errors.New("disk full")
		env.fsmgr.FailWrites("/cards/aria.png", errDisk)

		err := env.svc.ChangeImage(doc, env.resolve(t, "/images/new.png"))
		if !errors.Is(err, errDisk) {
			t.Fatalf("ChangeImage() error = %v, want %v", err, errDisk)
		}
		if !bytes.Equal(before, env.fsmgr.Content("/cards/aria.png")) {
			t.Error("original image not restored")
		}
		if env.fsmgr.Exists("/cards/aria.png.bak") {
			t.Error("backup left behind")
		}
	})

	t.Run("virtual card", func(t *testing.T) {
		env, _ := setup(t)
		err := env.svc.ChangeImage(env.svc.NewCard(""), env.resolve(t, "/images/new.png"))
		if !errors.Is(err, chara.ErrNotAttached) {
			t.Errorf("ChangeImage() error = %v, want ErrNotAttached", err)
		}
	})
}

func TestCardService_JSON(t *testing.T) {
	t.Run("export then import", func(t *testing.T) {
		env := newPlainEnv(t)
		doc := env.svc.NewCard("Nova")
		doc.Card.Data.Tags = []string{"sci-fi", "android"}

		if err := env.svc.ExportJSON(doc, "/out/nova.json"); err != nil {
			t.Fatalf("ExportJSON() error = %v", err)
		}
		if !strings.Contains(string(env.fsmgr.Content("/out/nova.json")), "\n  ") {
			t.Error("exported JSON is not indented")
		}

		imported, err := env.svc.ImportJSON(env.resolve(t, "/out/nova.json"), false)
		if err != nil {
			t.Fatalf("ImportJSON() error = %v", err)
		}
		if imported.Path != "" {
			t.Errorf("imported Path = %q, want virtual card", imported.Path)
		}
		if diff := cmp.Diff(doc.Card.Data.Tags, imported.Card.Data.Tags); diff != "" {
			t.Errorf("Tags mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("legacy card is normalized", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/in/old.json", []byte(`{"name": "Old", "description": "From before V2"}`))

		doc, err := env.svc.ImportJSON(env.resolve(t, "/in/old.json"), false)
		if err != nil {
			t.Fatalf("ImportJSON() error = %v", err)
		}
		if doc.Card.Data.Name != "Old" || doc.Card.Data.Description != "From before V2" {
			t.Errorf("card = %+v", doc.Card.Data)
		}
	})

	t.Run("damaged JSON", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/in/broken.json", []byte(`{"name": "Broken", "tags": ["a", "b",],}`))
		path := env.resolve(t, "/in/broken.json")

		if _, err := env.svc.ImportJSON(path, false); !errors.Is(err, card.ErrInvalidJSON) {
			t.Errorf("ImportJSON(repair=false) error = %v, want ErrInvalidJSON", err)
		}

		doc, err := env.svc.ImportJSON(path, true)
		if err != nil {
			t.Fatalf("ImportJSON(repair=true) error = %v", err)
		}
		if doc.Card.Data.Name != "Broken" {
			t.Errorf("Name = %q, want Broken", doc.Card.Data.Name)
		}
		if diff := cmp.Diff([]string{"a", "b"}, doc.Card.Data.Tags); diff != "" {
			t.Errorf("Tags mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCardService_ImportWorldbook(t *testing.T) {
	t.Run("merges entries", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/lore/world.json", []byte(`{"name": "World", "entries": {
			"0": {"keys": ["castle"], "content": "A ruined castle."},
			"1": {"keys": ["river"], "content": "A cold river."}}}`))
		doc := env.svc.NewCard("Aria")

		n, err := env.svc.ImportWorldbook(doc, env.resolve(t, "/lore/world.json"))
		if err != nil {
			t.Fatalf("ImportWorldbook() error = %v", err)
		}
		if n != 2 {
			t.Errorf("ImportWorldbook() = %d, want 2", n)
		}
		book := doc.Card.Data.CharacterBook
		if book == nil || len(book.Entries) != 2 {
			t.Fatalf("CharacterBook = %+v, want 2 entries", book)
		}
		if book.Entries[0].Content != "A ruined castle." {
			t.Errorf("first entry = %q", book.Entries[0].Content)
		}
	})

	t.Run("not a worldbook", func(t *testing.T) {
		env := newPlainEnv(t)
		env.fsmgr.AddFile("/lore/other.json", []byte(`{"name": "Lore"}`))

		_, err := env.svc.ImportWorldbook(env.svc.NewCard(""), env.resolve(t, "/lore/other.json"))
		if !errors.Is(err, chara.ErrNotAWorldbook) {
			t.Errorf("ImportWorldbook() error = %v, want ErrNotAWorldbook", err)
		}
	})
}

func TestCardService_EstimateTokens(t *testing.T) {
	c := card.NewNamed("Aria")
	c.Data.Description = strings.Repeat("a", 120)

	tests := []struct {
		name string
		opts chara.Options
		want int
	}{
		{name: "default divisor", opts: chara.Options{}, want: card.EstimateTokens(&c.Data, card.BigVocabCharsPerToken)},
		{name: "small vocabulary", opts: chara.Options{CharsPerToken: 4}, want: card.EstimateTokens(&c.Data, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, testutil.NewPlainEncryptor(), tt.opts)
			doc := &chara.Document{Card: c}
			if got := env.svc.EstimateTokens(doc); got != tt.want {
				t.Errorf("EstimateTokens() = %d, want %d", got, tt.want)
			}
		})
	}
}
