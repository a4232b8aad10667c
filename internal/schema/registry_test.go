package schema

import "testing"

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{
		Key:  "predictions",
		Name: "Predictions",
		Fields: []Field{
			{Key: "coin", Name: "Coin", DataType: TypeText, Required: true},
		},
	})

	def, ok := r.Get("predictions")
	if !ok {
		t.Fatal("expected definition")
	}
	if def.Name != "Predictions" || len(def.Fields) != 1 {
		t.Errorf("unexpected definition: %+v", def)
	}

	if !r.Has("predictions") {
		t.Error("Has = false")
	}
	if r.Has("unknown") {
		t.Error("Has(unknown) = true")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Error("Get(unknown) returned a definition")
	}
}

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Key: "predictions", Name: "First"})
	r.Register(Definition{Key: "predictions", Name: "Second"})

	def, _ := r.Get("predictions")
	if def.Name != "Second" {
		t.Errorf("expected last writer to win, got %q", def.Name)
	}
	if len(r.List()) != 1 {
		t.Errorf("expected one definition, got %d", len(r.List()))
	}
}

func TestListReturnsAll(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Key: "a"})
	r.Register(Definition{Key: "b"})
	r.Register(Definition{Key: "c"})

	if got := len(r.List()); got != 3 {
		t.Errorf("List len = %d, want 3", got)
	}
}
